package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/kozaktomas/face-gate/internal/facematch"
	"github.com/kozaktomas/face-gate/internal/users"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Inspect and maintain registered users",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered users",
	RunE:  runUsersList,
}

var usersCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that no two registered faces match each other",
	Long: `Compare every pair of registered users and report the pairs whose faces
are closer than the match threshold. A clean registry reports no pairs.

Examples:
  # Check with the configured threshold
  face-gate users check

  # See which pairs a stricter model threshold would flag
  face-gate users check --threshold 0.45`,
	RunE: runUsersCheck,
}

var usersReembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Recompute embeddings from stored images",
	Long: `Recompute every user's embedding from the stored image with the currently
configured embedding server and model.

Each new embedding passes the same duplicate check as a registration. Users
whose new embedding would match another user keep their stored embedding and
are reported.

Examples:
  # Preview drift and conflicts
  face-gate users reembed --dry-run

  # Recompute with 8 parallel extractions
  face-gate users reembed --concurrency 8`,
	RunE: runUsersReembed,
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersListCmd, usersCheckCmd, usersReembedCmd)

	usersListCmd.Flags().String("search", "", "Only users whose name, surname or email contain this text")
	usersListCmd.Flags().Bool("json", false, "Output as JSON")

	usersCheckCmd.Flags().Float64("threshold", 0, "Distance threshold (defaults to the configured one)")
	usersCheckCmd.Flags().Bool("json", false, "Output as JSON")

	usersReembedCmd.Flags().Bool("dry-run", false, "Report drift and conflicts without writing")
	usersReembedCmd.Flags().Int("concurrency", 4, "Parallel extractions")
	usersReembedCmd.Flags().Bool("json", false, "Output as JSON")
}

func runUsersList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, "face-gate-cli")
	if err != nil {
		return err
	}
	defer a.close(ctx)

	list, err := a.users.List(ctx, mustGetString(cmd, "search"))
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(list)
	}

	if len(list) == 0 {
		fmt.Println("No users found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tIMAGE\tCREATED")
	fmt.Fprintln(w, "--\t----\t-----\t-----\t-------")
	for i := range list {
		u := &list[i]
		fmt.Fprintf(w, "%d\t%s %s\t%s\t%s\t%s\n",
			u.ID, u.Name, u.Surname, u.Email, u.ImagePath, u.CreatedAt.Format(time.DateTime))
	}
	w.Flush()

	fmt.Printf("\nTotal: %d users\n", len(list))
	return nil
}

// CheckResult is the JSON output of users check
type CheckResult struct {
	Users      int                   `json:"users"`
	Threshold  float64               `json:"threshold"`
	Violations []facematch.Violation `json:"violations"`
}

func runUsersCheck(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, "face-gate-cli")
	if err != nil {
		return err
	}
	defer a.close(ctx)

	threshold := mustGetFloat64(cmd, "threshold")
	violations, err := a.users.CheckUniqueness(ctx, threshold)
	if err != nil {
		return fmt.Errorf("checking registry: %w", err)
	}
	if threshold <= 0 {
		threshold = a.registry.Matcher().Threshold()
	}

	result := CheckResult{Users: a.registry.Len(), Threshold: threshold, Violations: violations}
	if mustGetBool(cmd, "json") {
		if result.Violations == nil {
			result.Violations = []facematch.Violation{}
		}
		return outputJSON(result)
	}

	fmt.Printf("Checked %d users at threshold %.3f\n", result.Users, threshold)
	if len(violations) == 0 {
		fmt.Println("No matching pairs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER A\tUSER B\tDISTANCE")
	fmt.Fprintln(w, "------\t------\t--------")
	for _, v := range violations {
		fmt.Fprintf(w, "%d\t%d\t%.4f\n", v.UserA, v.UserB, v.Distance)
	}
	w.Flush()
	return fmt.Errorf("%d matching pairs found", len(violations))
}

// ReembedResult is the JSON output of users reembed
type ReembedResult struct {
	Total         int                    `json:"total"`
	Updated       int                    `json:"updated"`
	Conflicts     []users.ReembedOutcome `json:"conflicts"`
	Errors        map[int64]string       `json:"errors,omitempty"`
	DryRun        bool                   `json:"dry_run"`
	DurationMs    int64                  `json:"duration_ms"`
	DurationHuman string                 `json:"duration_human,omitempty"`
}

func runUsersReembed(cmd *cobra.Command, args []string) error {
	dryRun := mustGetBool(cmd, "dry-run")
	concurrency := max(mustGetInt(cmd, "concurrency"), 1)
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	a, err := newApp(ctx, "face-gate-cli")
	if err != nil {
		return err
	}
	defer a.close(ctx)
	startTime := time.Now()

	list, err := a.users.List(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	result := ReembedResult{
		Total:     len(list),
		Conflicts: []users.ReembedOutcome{},
		Errors:    map[int64]string{},
		DryRun:    dryRun,
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		if dryRun {
			fmt.Println("DRY RUN - no changes will be written")
		}
		bar = progressbar.NewOptions(len(list),
			progressbar.OptionSetDescription("Recomputing embeddings"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("users"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range list {
		id := list[i].ID
		g.Go(func() error {
			out, err := a.users.Reembed(ctx, id, dryRun)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Errors[id] = err.Error()
			case out.ConflictID != 0:
				result.Conflicts = append(result.Conflicts, *out)
			case out.Updated:
				result.Updated++
			}
			if bar != nil {
				bar.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	elapsed := time.Since(startTime)
	result.DurationMs = elapsed.Milliseconds()
	result.DurationHuman = elapsed.Round(time.Millisecond).String()
	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Println()
	fmt.Printf("\nCompleted: %d updated, %d conflicts, %d errors (%s)\n",
		result.Updated, len(result.Conflicts), len(result.Errors), result.DurationHuman)
	for _, c := range result.Conflicts {
		fmt.Printf("  user %d would match user %d (distance %.4f)\n", c.UserID, c.ConflictID, c.Conflict)
	}
	for id, msg := range result.Errors {
		fmt.Printf("  user %d: %s\n", id, msg)
	}
	return nil
}
