package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"feedline/internal/engine/actors"
	"feedline/internal/models"

	"github.com/spf13/cobra"
)

type ReconcileOptions struct {
	*RootOptions
	PostID string
	Repair bool
}

// ReconcileResult is the JSON output of reconcile.
type ReconcileResult struct {
	Drifts   []models.CounterDrift `json:"drifts"`
	Repaired bool                  `json:"repaired"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recount likes and comments and report drifted counters",
		Long: `Recompute likesCount and commentsCount from the like and comment records
and report every post whose stored counters disagree.

With --repair the counters are rewritten and the corrected posts are
published to live subscribers.

Exit codes:
  0 - no drift, or drift repaired
  1 - drift found and not repaired
  2 - command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.PostID, "post", "", "reconcile a single post")
	cmd.Flags().BoolVar(&opts.Repair, "repair", false, "rewrite drifted counters")
	return cmd
}

func runReconcile(cmd *cobra.Command, opts *ReconcileOptions) error {
	ctx := commandContext(cmd)
	b, err := opts.Open(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer b.Close()

	res, err := b.Engine.Posts(&actors.ReconcileMsg{PostID: opts.PostID, Repair: opts.Repair})
	if err != nil {
		return WrapExitError(ExitCommandError, "reconcile failed", err)
	}
	drifts := res.([]models.CounterDrift)
	if drifts == nil {
		drifts = []models.CounterDrift{}
	}

	result := ReconcileResult{Drifts: drifts, Repaired: opts.Repair && len(drifts) > 0}
	if err := emit(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) {
		printDrifts(w, drifts, opts.Repair)
	}); err != nil {
		return err
	}
	if len(drifts) > 0 && !opts.Repair {
		return NewExitError(ExitFailure, fmt.Sprintf("%d posts have drifted counters", len(drifts)))
	}
	return nil
}

func printDrifts(w io.Writer, drifts []models.CounterDrift, repaired bool) {
	if len(drifts) == 0 {
		fmt.Fprintln(w, "all counters match their records")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POST\tLIKES\tLIKE RECORDS\tCOMMENTS\tCOMMENT RECORDS")
	for _, d := range drifts {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", d.PostID, d.LikesCount, d.LikeRecords, d.CommentsCount, d.CommentRecords)
	}
	tw.Flush()
	if repaired {
		fmt.Fprintf(w, "repaired %d posts\n", len(drifts))
	}
}
