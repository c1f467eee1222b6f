package extract

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Elements whose subtrees carry no readable content.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
	"iframe":   true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
}

// Elements that terminate a line of text when closed.
var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "blockquote": true, "pre": true, "br": true,
	"ul": true, "ol": true, "table": true, "figcaption": true,
}

var multiNewline = regexp.MustCompile(`\n{3,}`)
var spaceRun = regexp.MustCompile(`[ \t]+`)

// extractHTML parses an HTML document and pulls out its title, meta
// description, and readable body text.
func extractHTML(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	doc := &Document{Method: "html"}
	var text strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case skippedElements[n.Data]:
				return
			case n.Data == "title" && doc.Title == "":
				doc.Title = strings.TrimSpace(textContent(n))
				return
			case n.Data == "meta":
				if attrValue(n, "name") == "description" || attrValue(n, "property") == "og:description" {
					if doc.Description == "" {
						doc.Description = strings.TrimSpace(attrValue(n, "content"))
					}
				}
			}
		}
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			text.WriteString("\n")
		}
	}
	walk(root)

	doc.Text = normalizeText(text.String())
	return doc, nil
}

// textContent returns the concatenated text of a node's subtree.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// normalizeText collapses runs of spaces, strips trailing whitespace from
// lines, and limits blank runs to a single empty line.
func normalizeText(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	s = strings.Join(lines, "\n")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
