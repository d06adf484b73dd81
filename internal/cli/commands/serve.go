package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdash/internal/session"
	"github.com/leapstack-labs/leapdash/internal/ui"
	"github.com/leapstack-labs/leapdash/internal/ui/notifier"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"ui"},
		Short:   "Start the dashboard generator web UI",
		Long: `Start the web UI. Upload a CSV file, describe the dashboard you want and
press Generate; the generated app is executed and can be downloaded.

The server runs until interrupted.`,
		Example: `  # Serve on the default address
  leapdash serve

  # Generate Shiny apps and run them as separate processes
  leapdash serve --mode process --port 9000`,
		RunE: runServe,
	}

	cmd.Flags().String("host", "", "Address to listen on")
	cmd.Flags().IntP("port", "p", 0, "Port to listen on")
	cmd.Flags().Bool("dev", false, "Enable live reload for UI development")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cmdCtx := NewCommandContext(cmd)
	cfg, logger := cmdCtx.Cfg, cmdCtx.Logger

	pipeline, err := NewPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	notify := notifier.New()
	registry := session.NewRegistry(pipeline.Deps(cfg, logger, notify.Broadcast), cfg.UI.SessionTTL)

	server := ui.NewServer(ui.Config{
		Registry:      registry,
		Notifier:      notify,
		Host:          cfg.UI.Host,
		Port:          cfg.UI.Port,
		SessionSecret: cfg.UI.SessionSecret,
		SecureCookies: cfg.UI.SecureCookies,
		LogPath:       pipeline.LogPath,
		Dev:           cfg.UI.Dev,
		Logger:        logger,
	})

	cmdCtx.Renderer.Printf("Serving leapdash on http://%s (model %s, %s execution)\n",
		server.Addr(), cfg.Model.Name, pipeline.Dispatcher.Mode())

	if err := server.Serve(cmd.Context()); err != nil {
		return fmt.Errorf("ui server: %w", err)
	}
	return nil
}
