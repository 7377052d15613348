package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"feedline/internal/engine/actors"
	"feedline/internal/models"

	"github.com/spf13/cobra"
)

// NewPromoteCommand creates the promote command, the only way to create the
// first admin.
func NewPromoteCommand(opts *RootOptions) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "promote <user-id>",
		Short: "Set a user's permissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			b, err := opts.Open(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			defer b.Close()

			perm := models.Permission(role)
			if _, err := b.Engine.Users(&actors.SetPermissionsMsg{UserID: args[0], Permissions: perm}); err != nil {
				return WrapExitError(ExitCommandError, "failed to set permissions", err)
			}
			result := map[string]string{"userId": args[0], "permissions": role}
			return emit(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) {
				fmt.Fprintf(w, "%s is now %s\n", args[0], role)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", string(models.PermissionAdmin), "permissions to grant (user|admin)")
	return cmd
}

// NewRequestsCommand groups the verification and membership queue commands.
func NewRequestsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Inspect and review verification and membership requests",
	}
	cmd.AddCommand(newRequestsListCommand(opts))
	cmd.AddCommand(newRequestsReviewCommand(opts))
	return cmd
}

const (
	kindVerification = "verification"
	kindMembership   = "membership"
)

func validKind(kind string) error {
	if kind != kindVerification && kind != kindMembership {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q: must be verification or membership", kind))
	}
	return nil
}

func newRequestsListCommand(opts *RootOptions) *cobra.Command {
	var kind, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validKind(kind); err != nil {
				return err
			}
			st := models.RequestStatus(status)
			if !st.Valid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q", status))
			}
			ctx := commandContext(cmd)
			b, err := opts.Open(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			defer b.Close()

			if kind == kindVerification {
				reqs, err := b.DB.GetVerificationRequests(ctx, st)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to list requests", err)
				}
				return emit(cmd.OutOrStdout(), opts.Format, reqs, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tUSER\tDOCUMENT\tSTATUS\tCREATED")
					for _, r := range reqs {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.UserID, r.DocURL, r.Status, r.CreatedAt.Format("2006-01-02 15:04"))
					}
					tw.Flush()
				})
			}

			reqs, err := b.DB.GetMembershipRequests(ctx, st)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list requests", err)
			}
			return emit(cmd.OutOrStdout(), opts.Format, reqs, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tUSER\tNAME\tMONTHLY\tSTATUS\tCREATED")
				for _, r := range reqs {
					fmt.Fprintf(tw, "%s\t%s\t%s %s\t%d\t%s\t%s\n", r.ID, r.UserID, r.FirstName, r.LastName,
						r.EstimatedMonthly, r.Status, r.CreatedAt.Format("2006-01-02 15:04"))
				}
				tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", kindVerification, "request kind (verification|membership)")
	cmd.Flags().StringVar(&status, "status", string(models.StatusPending), "status to list (pending|approved|rejected)")
	return cmd
}

func newRequestsReviewCommand(opts *RootOptions) *cobra.Command {
	var kind, adminID string
	var approve, reject bool
	cmd := &cobra.Command{
		Use:   "review <request-id>",
		Short: "Approve or reject a request as an admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validKind(kind); err != nil {
				return err
			}
			if approve == reject {
				return NewExitError(ExitCommandError, "pass exactly one of --approve or --reject")
			}
			ctx := commandContext(cmd)
			b, err := opts.Open(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			defer b.Close()

			var msg interface{} = &actors.ReviewVerificationMsg{AdminID: adminID, RequestID: args[0], Approve: approve}
			if kind == kindMembership {
				msg = &actors.ReviewMembershipMsg{AdminID: adminID, RequestID: args[0], Approve: approve}
			}
			res, err := b.Engine.Users(msg)
			if err != nil {
				return WrapExitError(ExitCommandError, "review failed", err)
			}
			return emit(cmd.OutOrStdout(), opts.Format, res, func(w io.Writer) {
				verdict := "rejected"
				if approve {
					verdict = "approved"
				}
				fmt.Fprintf(w, "%s request %s %s\n", kind, args[0], verdict)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", kindVerification, "request kind (verification|membership)")
	cmd.Flags().StringVar(&adminID, "as", "", "id of the admin recording the review (required)")
	_ = cmd.MarkFlagRequired("as")
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the request")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the request")
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
