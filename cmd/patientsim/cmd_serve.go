package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"patientsim/internal/api"
	"patientsim/internal/config"
	"patientsim/internal/logging"
	"patientsim/internal/perception"
	"patientsim/internal/prompt"
	"patientsim/internal/session"
	"patientsim/internal/store"
)

var (
	serveAddr  string
	serveWatch bool
)

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dialogue HTTP API",
	Long: `Starts the HTTP API under /api:

  POST   /api/dialogue/text            run one caregiver turn
  GET    /api/sessions                 list live sessions
  GET    /api/sessions/{id}/history    session view and stored transcript
  POST   /api/sessions/{id}/select     record the trainee's chosen reply
  DELETE /api/sessions/{id}            end a session
  GET    /api/health                   liveness and parser counters

With --watch the config file is reloaded on change and new engine
settings apply to the next turn.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload the config file when it changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := perception.NewClientFromConfig(cfg.ProviderConfig())
	if err != nil {
		return fmt.Errorf("failed to create generation client: %w", err)
	}
	builder, err := prompt.NewBuilder(cfg.PromptOptions())
	if err != nil {
		return err
	}
	opts, err := cfg.OrchestratorOptions()
	if err != nil {
		return err
	}
	orch := session.NewOrchestrator(opts)

	transcripts, err := store.NewTranscriptStore(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}
	defer transcripts.Close()

	sessions := session.NewStore(cfg.GetSessionTTL(), orch.NewState)
	sessions.Start(cfg.GetSweepInterval())
	defer sessions.Stop()

	handler := api.NewHandler(api.Deps{
		Orchestrator:      orch,
		Sessions:          sessions,
		Client:            client,
		Prompts:           builder,
		Character:         cfg.Character,
		Transcripts:       transcripts,
		GenerationTimeout: cfg.GetGenerationTimeout(),
	})

	if serveWatch {
		watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
			applyReload(handler, next)
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("Config watcher disabled", zap.Error(err))
		}
		defer watcher.Stop()
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			zap.String("addr", addr),
			zap.String("provider", cfg.LLM.Provider),
			zap.String("character", cfg.Character.Name))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// applyReload swaps in the engine and persona from a reloaded config.
// Provider, address and storage changes need a restart.
func applyReload(h *api.Handler, next *config.Config) {
	opts, err := next.OrchestratorOptions()
	if err != nil {
		logging.Get(logging.CategoryConfig).Warn("Reloaded engine settings rejected: %v", err)
		return
	}
	h.SwapOrchestrator(session.NewOrchestrator(opts))
	h.SetCharacter(next.Character)
	if err := logging.Initialize(next.LoggingOptions()); err != nil {
		logging.Get(logging.CategoryConfig).Warn("Reloaded logging settings rejected: %v", err)
	}
	logging.Config("Engine settings reloaded")
}
