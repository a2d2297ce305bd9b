package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kozaktomas/face-gate/internal/config"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/history"
	"github.com/kozaktomas/face-gate/internal/logging"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and prune the action history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded actions, newest first",
	RunE:  runHistoryList,
}

var historyPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete history entries older than a given age",
	Long: `Delete history entries older than --older-than.

Examples:
  # Keep the last 90 days
  face-gate history purge --older-than 2160h`,
	RunE: runHistoryPurge,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyPurgeCmd)

	historyListCmd.Flags().Int("limit", 50, "Maximum number of entries")
	historyListCmd.Flags().Int("user", 0, "Only entries of this user ID")
	historyListCmd.Flags().String("action", "", "Only entries of this action kind")
	historyListCmd.Flags().Bool("json", false, "Output as JSON")

	historyPurgeCmd.Flags().Duration("older-than", 0, "Age of the oldest entry to keep, e.g. 720h")
	historyPurgeCmd.Flags().Bool("dry-run", false, "Only print the cutoff")
}

// openHistoryStore connects to the database without wiring the face pipeline.
func openHistoryStore(ctx context.Context) (backend, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return openBackend(ctx, cfg, logging.New("face-gate-cli", cfg.Log.Level, cfg.Log.Format))
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openHistoryStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	filter := history.Filter{
		UserID: int64(mustGetInt(cmd, "user")),
		Action: mustGetString(cmd, "action"),
		Limit:  max(mustGetInt(cmd, "limit"), 1),
	}
	entries, err := history.Collect(history.List(ctx, store, filter))
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	if mustGetBool(cmd, "json") {
		if entries == nil {
			entries = []database.HistoryEntry{}
		}
		return outputJSON(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No history entries found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tUSER\tREQUEST\tIP\tDETAIL")
	fmt.Fprintln(w, "----\t------\t----\t-------\t--\t------")
	for i := range entries {
		e := &entries[i]
		user := "-"
		if e.UserID != 0 {
			user = fmt.Sprint(e.UserID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s %s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.Action, user, e.Method, e.Endpoint, e.IP, e.Detail)
	}
	w.Flush()
	return nil
}

func runHistoryPurge(cmd *cobra.Command, args []string) error {
	olderThan, err := cmd.Flags().GetDuration("older-than")
	if err != nil {
		return err
	}
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be a positive duration")
	}
	cutoff := time.Now().Add(-olderThan).UTC()

	if mustGetBool(cmd, "dry-run") {
		fmt.Printf("Would delete history entries before %s\n", cutoff.Format(time.RFC3339))
		return nil
	}

	ctx := context.Background()
	store, err := openHistoryStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := history.Purge(ctx, store, cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d history entries before %s\n", n, cutoff.Format(time.RFC3339))
	return nil
}
