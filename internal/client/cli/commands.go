package cli

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/fieldsync/internal/client/config"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// NewRootCommand builds the fieldrunner command tree over cfg. Flags bound
// here override whatever LoadConfig put into cfg.
func NewRootCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "fieldrunner",
		Short:        "Offline-first inspection runner",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Validate()
		},
	}
	cfg.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newCatalogCommand(cfg),
		newOpenCommand(cfg),
		newAnswerCommand(cfg),
		newAttachCommand(cfg),
		newCompleteCommand(cfg),
		newStatusCommand(cfg),
		newSyncCommand(cfg),
		newRunCommand(cfg),
		newFailuresCommand(cfg),
		newRetryCommand(cfg),
		newAbandonCommand(cfg),
		newPruneCommand(cfg),
		newLoginCommand(cfg),
		newLogoutCommand(cfg),
		newShellCommand(cfg),
	)
	return cmd
}

// newLogger writes human-readable logs to a terminal and JSON otherwise.
func newLogger(cmd *cobra.Command, level string) logging.Logger {
	w := cmd.ErrOrStderr()
	format := "json"
	if f, ok := w.(*os.File); ok && isTerminal(int(f.Fd())) {
		format = "text"
	}
	return logging.New(w, level, format)
}

// withApp opens the runner for the duration of fn and closes it afterwards,
// flushing any debounced save even when ctx was cancelled.
func withApp(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, a *App) error) (err error) {
	ctx := cmd.Context()
	app, err := NewApp(ctx, cfg, newLogger(cmd, cfg.LogLevel), cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, app.Close(context.WithoutCancel(ctx)))
	}()
	return fn(ctx, app)
}

func optionalArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func newCatalogCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the cached template catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Download templates from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.RefreshCatalog(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List cached templates and versions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.ListCatalog(ctx)
			})
		},
	})
	return cmd
}

func newOpenCommand(cfg *config.Config) *cobra.Command {
	var versionID, jobID, siteID string
	cmd := &cobra.Command{
		Use:   "open <templateId>",
		Short: "Start an inspection and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.Open(ctx, args[0], versionID, jobID, siteID)
			})
		},
	}
	cmd.Flags().StringVar(&versionID, "version", "", "bind to this published version instead of the latest")
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	cmd.Flags().StringVar(&siteID, "site", "", "site id")
	return cmd
}

func newAnswerCommand(cfg *config.Config) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "answer <inspectionId> <rowId> <value>",
		Short: "Record the answer to one row",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.Answer(ctx, args[0], args[1], strings.Join(args[2:], " "), notes)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "free-text notes for the row")
	return cmd
}

func newAttachCommand(cfg *config.Config) *cobra.Command {
	var mimeType string
	cmd := &cobra.Command{
		Use:   "attach <inspectionId> <rowId> <file>",
		Short: "Add a photo or document as evidence for a row",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.Attach(ctx, args[0], args[1], args[2], mimeType)
			})
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime", "", "content type, detected from the file when empty")
	return cmd
}

func newCompleteCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <inspectionId>",
		Short: "Complete an inspection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.Complete(ctx, args[0])
			})
		},
	}
}

func newStatusCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status [inspectionId]",
		Short: "Show inspections and pending work",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.Status(ctx, optionalArg(args))
			})
		},
	}
}

func newSyncCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [inspectionId]",
		Short: "Send pending work to the server now",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.Sync(ctx, optionalArg(args))
			})
		},
	}
}

func newRunCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep syncing in the foreground until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.Run(ctx)
			})
		},
	}
}

func newFailuresCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "failures [inspectionId]",
		Short: "List entries the server rejected",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.Failures(ctx, optionalArg(args))
			})
		},
	}
}

func newRetryCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <entryId>",
		Short: "Put a failed entry back in the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.Retry(ctx, id)
			})
		},
	}
}

func newAbandonCommand(cfg *config.Config) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "abandon <inspectionId>",
		Short: "Discard every unsynced entry of an inspection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.Abandon(ctx, args[0], yes)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newPruneCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove completed inspections the server has acknowledged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.Prune(ctx)
			})
		},
	}
}

func newLoginCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store an access token (taken from --token or prompted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.Login(ctx, cfg.AccessToken)
			})
		},
	}
}

func newLogoutCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.Logout(ctx)
			})
		},
	}
}

func newShellCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session with background sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *App) error {
				return a.Shell(ctx)
			})
		},
	}
}
