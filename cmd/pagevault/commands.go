package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/pagevault/pagevault/internal/config"
	"github.com/pagevault/pagevault/internal/embedding"
	"github.com/pagevault/pagevault/internal/embedstore"
	"github.com/pagevault/pagevault/internal/extract"
	"github.com/pagevault/pagevault/internal/importer"
	"github.com/pagevault/pagevault/internal/search"
	"github.com/pagevault/pagevault/internal/storage"
)

var userFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "act as this user (default: configured default user)")
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import a CSV export of URLs into the archive",
	Long: `Import a CSV export of URLs into the archive.

The file needs a header row naming at least a "url" column; "title",
"tags", and "time_added" columns are honored when present. Rows already
archived for the user are skipped.

Examples:
  pagevault import ril_export.csv
  pagevault import bookmarks.csv --user alice`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		user := userFlag
		if user == "" {
			user = cfg.Users.DefaultUser
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer f.Close()

		items, err := importer.ParseCSV(f)
		if err != nil {
			return err
		}
		printStep("Importing %d items for user %s", len(items), user)

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		provider := embedding.NewOllamaProvider(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel)
		chunks := embedstore.New(store, provider)
		orchestrator := importer.NewOrchestrator(store, importer.NewDetector(store), extract.NewHTTPExtractor(nil), chunks)

		bar := progressbar.NewOptions(len(items),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("[cyan]Importing[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(os.Stderr)
			}),
		)
		var barMu sync.Mutex
		onProgress := func(p importer.Progress) {
			barMu.Lock()
			defer barMu.Unlock()
			bar.Set(p.Processed)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := importer.Options{
			BatchSize:  cfg.Import.BatchSize,
			MaxRetries: cfg.Import.MaxRetries,
		}
		summary, err := orchestrator.Run(ctx, items, user, opts, onProgress)
		if err != nil {
			return err
		}
		bar.Finish()

		printSuccess("Import finished")
		printStatus("Total", "%d", summary.Total)
		printStatus("Imported", "%d", summary.Successful)
		printStatus("Skipped", "%d (%d already archived)", summary.Skipped, summary.Duplicates)
		printStatus("Failed", "%d", summary.Failed)
		for _, r := range summary.Results {
			if !r.Success && !r.Skipped {
				printWarning("%s: %s", r.URL, r.Error)
			}
		}
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the archive",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/search?q=%s&limit=%d", url.QueryEscape(query), limit))
		if err != nil {
			return err
		}

		var body struct {
			Query   string               `json:"query"`
			Results []search.ResultGroup `json:"results"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		if len(body.Results) == 0 {
			printWarning("no results for %q", query)
			return nil
		}
		for i, g := range body.Results {
			fmt.Printf("%d. %s (%.2f)\n", i+1, colorize(colorBold, g.Title), g.Relevance)
			fmt.Printf("   %s\n", colorize(colorCyan, g.URL))
			if g.Snippet != "" {
				fmt.Printf("   %s\n", g.Snippet)
			}
			if len(g.Tags) > 0 {
				fmt.Printf("   tags: %s\n", strings.Join(g.Tags, ", "))
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of result groups")
}

// --- archives ---

var archivesCmd = &cobra.Command{
	Use:   "archives",
	Short: "Manage archived pages",
}

var archivesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently archived pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/archives?limit=%d", limit))
		if err != nil {
			return err
		}

		var archives []struct {
			ID          string `json:"id"`
			URL         string `json:"url"`
			Title       string `json:"title"`
			WordCount   int    `json:"word_count"`
			ReadingTime int    `json:"reading_time"`
			CreatedAt   string `json:"created_at"`
		}
		if err := decodeJSON(resp, &archives); err != nil {
			return err
		}

		if len(archives) == 0 {
			printWarning("no archives yet")
			return nil
		}
		for _, a := range archives {
			fmt.Printf("%s  %s\n", a.ID, colorize(colorBold, a.Title))
			fmt.Printf("%s  %s (%d words, ~%d min)\n", strings.Repeat(" ", len(a.ID)), a.URL, a.WordCount, a.ReadingTime)
		}
		return nil
	},
}

var archivesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an archived page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/archives/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted archive %s", args[0])
		return nil
	},
}

func init() {
	archivesListCmd.Flags().Int("limit", 20, "maximum number of archives")
	archivesCmd.AddCommand(archivesListCmd)
	archivesCmd.AddCommand(archivesDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
