package server

import (
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/server/config"
	"github.com/spf13/cobra"
)

// NewRootCommand builds the fieldserver command tree over cfg. Flags bound
// here override whatever LoadConfig put into cfg.
func NewRootCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "fieldserver",
		Short:        "FieldSync reference sync server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Validate()
		},
	}
	cfg.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCommand(cfg))
	cmd.AddCommand(newPublishCommand(cfg))
	cmd.AddCommand(newTokenCommand(cfg))
	return cmd
}

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the sync API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, "json")
			app, err := NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Run(cmd.Context())
		},
	}
}

func newPublishCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <templateId> <file.yaml>",
		Short: "Publish a template definition as its next version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, "text")
			app, err := NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			v, err := app.PublishFile(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s version %d (%s)\n", v.TemplateID, v.Number, v.ID)
			return nil
		},
	}
}

func newTokenCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "token <technicianId>",
		Short: "Issue a bearer token for a technician",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := IssueToken(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
}
