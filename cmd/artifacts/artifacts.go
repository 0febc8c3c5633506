// Package artifacts holds the commands that manage model artifacts outside
// the running service.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orthovision/orthovision/internal/app"
	"github.com/orthovision/orthovision/internal/conf"
)

// SyncCommand creates the sync command.
func SyncCommand(settings *conf.Settings) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Make the local model artifacts current",
		Long: "Compare the local artifact set with the configured store and download a " +
			"complete new set when the remote revision changed or files are missing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			set, err := app.Sync(ctx, settings, nil, force)
			if err != nil {
				return err
			}
			revision := set.Revision
			if revision == "" {
				revision = "(none)"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d artifacts current in %s, revision %s\n",
				set.Len(), set.Dir, revision)
			return err
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Download every artifact again")
	return cmd
}

// RevisionCommand creates the revision command.
func RevisionCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "revision",
		Short: "Show the locally applied artifact revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.ShowRevision(settings, cmd.OutOrStdout())
		},
	}
}

// PublishCommand creates the publish command.
func PublishCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <dir>",
		Short: "Upload an artifact set to the configured store",
		Long: "Upload every configured artifact file from dir to the store and set the " +
			"store revision to a token derived from their digests. Only ftp, sftp and " +
			"local stores accept uploads.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			token, err := app.Publish(ctx, settings, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "published revision %s\n", token)
			return err
		},
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
