package main

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ovalle/braindump/internal/classify"
	"github.com/ovalle/braindump/internal/config"
	"github.com/ovalle/braindump/internal/engine"
	"github.com/ovalle/braindump/internal/storage"
)

// --- capture ---

var captureCmd = &cobra.Command{
	Use:   "capture [text]",
	Short: "Capture a raw thought",
	Long: `Capture a raw thought. It gets classified and staged for confirmation.

Examples:
  braindump capture "Meeting with Ana about Project X, slides due Friday"
  braindump capture --file ./meeting.pdf "notes from the call"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")

		text := ""
		if len(args) > 0 {
			text = args[0]
		}
		if text == "" && file == "" {
			return fmt.Errorf("text or --file is required")
		}

		req := map[string]any{"text": text}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			mimeType := mime.TypeByExtension(filepath.Ext(file))
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}
			req["attachment"] = classify.Attachment{
				MimeType:   mimeType,
				Base64Data: base64.StdEncoding.EncodeToString(data),
				FileName:   filepath.Base(file),
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/capture", req)
		if err != nil {
			return err
		}

		var result engine.CaptureResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		switch result.State {
		case engine.StateCommitted:
			printSuccess("Capture committed")
			for _, id := range result.CompletedTaskIDs {
				printStep("completed task #%d", id)
			}
		case engine.StateError:
			printWarning("Classification failed; raw text saved")
		default:
			printSuccess("Capture staged (%d topic(s))", len(result.Staged))
			for _, t := range result.Staged {
				printStagedTopic(t)
			}
			printStep("confirm with: braindump staged confirm %s", result.EntryID)
		}
		return nil
	},
}

func printStagedTopic(t engine.StagedTopic) {
	book := t.BookName
	if t.IsNewBook {
		book += " (new)"
	}
	printStatus(t.EntryID, "[%s] %s → %s", t.Type, t.Summary, book)
	for _, task := range t.Tasks {
		printStep("task: %s", task.Description)
	}
}

func init() {
	captureCmd.Flags().String("file", "", "file to attach (pdf, html, text)")
}

// --- staged ---

var stagedCmd = &cobra.Command{
	Use:   "staged",
	Short: "Review, confirm, or discard staged topics",
}

var stagedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List topics waiting for confirmation",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/staged")
		if err != nil {
			return err
		}

		var staged []engine.StagedTopic
		if err := decodeJSON(resp, &staged); err != nil {
			return err
		}

		if len(staged) == 0 {
			printStep("nothing staged")
			return nil
		}
		for _, t := range staged {
			printStagedTopic(t)
		}
		return nil
	},
}

var stagedConfirmCmd = &cobra.Command{
	Use:   "confirm <entry-id>...",
	Short: "Commit staged topics to permanent storage",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/staged/confirm", map[string]any{"entryIds": args})
		if err != nil {
			return err
		}

		var results []engine.TopicResult
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		failed := 0
		for _, r := range results {
			if r.ErrMessage != "" {
				failed++
				printError("%s: %s", r.EntryID, r.ErrMessage)
				continue
			}
			printSuccess("%s committed to book %s", r.EntryID, r.BookID)
			for _, id := range r.CompletedTaskIDs {
				printStep("completed task #%d", id)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d topic(s) failed; they remain staged", failed)
		}
		return nil
	},
}

var stagedDiscardCmd = &cobra.Command{
	Use:   "discard <entry-id>",
	Short: "Discard a staged topic without saving it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete("/staged/" + args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Discarded %s", args[0])
		return nil
	},
}

func init() {
	stagedCmd.AddCommand(stagedListCmd)
	stagedCmd.AddCommand(stagedConfirmCmd)
	stagedCmd.AddCommand(stagedDiscardCmd)
}

// --- books ---

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "List books with their running context",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/books")
		if err != nil {
			return err
		}

		var books []storage.Book
		if err := decodeJSON(resp, &books); err != nil {
			return err
		}

		if len(books) == 0 {
			printStep("no books yet")
			return nil
		}
		for _, b := range books {
			context := b.Context
			if context == "" {
				context = "(no context yet)"
			}
			printStatus(b.Name, "%s", context)
		}
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over saved entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/entries/search?q=%s&limit=%d", url.QueryEscape(args[0]), limit)
		resp, err := client.get(path)
		if err != nil {
			return err
		}

		var entries []storage.Entry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			printStep("no matches")
			return nil
		}
		for _, e := range entries {
			summary := e.Summary
			if summary == "" {
				summary = firstLine(e.OriginalText)
			}
			printStatus(e.ID, "[%s] %s", e.Type, summary)
		}
		return nil
	},
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func init() {
	searchCmd.Flags().Int("limit", 20, "maximum number of results")
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
			fmt.Printf("  %s = %s\n", colorize(ansiBold, k.Key), k.Value)
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
