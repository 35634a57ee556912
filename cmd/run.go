package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
	"github.com/xkilldash9x/pollflow-cli/internal/browser"
	"github.com/xkilldash9x/pollflow-cli/internal/config"
	"github.com/xkilldash9x/pollflow-cli/internal/detector"
	"github.com/xkilldash9x/pollflow-cli/internal/learning"
	"github.com/xkilldash9x/pollflow-cli/internal/observability"
	"github.com/xkilldash9x/pollflow-cli/internal/orchestrator"
	"github.com/xkilldash9x/pollflow-cli/internal/registry"
	"github.com/xkilldash9x/pollflow-cli/internal/responder"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [url]",
		Short: "Completes the poll at the given URL",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their Viper keys so command-line flags override
			// values from the config file and environment variables.
			if err := viper.BindPFlag("orchestrator.max_pages", cmd.Flags().Lookup("max-pages")); err != nil {
				return err
			}
			if err := viper.BindPFlag("registry.parallel_enabled", cmd.Flags().Lookup("parallel")); err != nil {
				return err
			}
			if err := viper.BindPFlag("ai.provider", cmd.Flags().Lookup("ai")); err != nil {
				return err
			}
			return viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := observability.GetLogger()

			// Re-unmarshal so the flag bindings from PreRunE take effect.
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to finalize config with flag overrides: %w", err)
			}
			appCfg = cfg

			startURL := args[0]
			if !strings.HasPrefix(startURL, "http://") && !strings.HasPrefix(startURL, "https://") {
				startURL = "https://" + startURL
			}

			logger.Info("Starting poll run",
				zap.String("url", startURL),
				zap.Int("max_pages", cfg.Orchestrator.MaxPages),
				zap.String("ai_provider", cfg.AI.Provider))

			components, err := initializeRunComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			// Forward new-target announcements from the browser into the
			// registry's owner loop.
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case evt, ok := <-components.Browser.NewTargets():
						if !ok {
							return
						}
						components.Registry.Notify(evt)
					}
				}
			}()

			summary, runErr := components.Orchestrator.Run(ctx, startURL)

			// Persist what was learned regardless of how the run ended.
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := components.Learning.Save(saveCtx); err != nil {
				logger.Warn("Failed to persist learning record", zap.Error(err))
			}

			if runErr != nil {
				if errors.Is(runErr, context.Canceled) {
					logger.Warn("Poll run aborted gracefully")
					return fmt.Errorf("run aborted by user signal")
				}
				logger.Error("Poll run failed", zap.Error(runErr))
				return runErr
			}

			printSummary(summary)
			return nil
		},
	}

	runCmd.Flags().IntP("max-pages", "p", 0, "Maximum pages to process on multi-page polls. (Overrides config/env)")
	runCmd.Flags().Bool("parallel", false, "Enable parallel session dispatch. (Overrides config/env)")
	runCmd.Flags().String("ai", "", "AI answering provider: none, genai, or sidecar. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")

	return runCmd
}

// runComponents holds initialized services.
type runComponents struct {
	Bus          *observability.Bus
	Browser      *browser.Manager
	Registry     *registry.Registry
	Learning     *learning.Store
	Orchestrator *orchestrator.Orchestrator
	DBPool       *pgxpool.Pool
}

// Shutdown gracefully closes all components.
func (rc *runComponents) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if rc.Registry != nil {
		rc.Registry.Stop()
	}
	if rc.Browser != nil {
		if err := rc.Browser.Shutdown(shutdownCtx); err != nil {
			observability.GetLogger().Warn("Error during browser shutdown", zap.Error(err))
		}
	}
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
	if rc.Bus != nil {
		rc.Bus.Close()
	}
}

// initializeRunComponents handles dependency injection.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}

	// 1. Event bus, with a debug-level tap.
	components.Bus = observability.NewBus(logger)
	events := components.Bus.Subscribe(64)
	go func() {
		for evt := range events {
			logger.Debug("Lifecycle event",
				zap.String("type", string(evt.Type)),
				zap.String("run_id", evt.RunID),
				zap.Any("payload", evt.Payload))
		}
	}()

	// 2. Browser and the main session driver.
	components.Browser = browser.NewManager(cfg, logger)
	mainDriver, err := components.Browser.Start(ctx)
	if err != nil {
		return components, fmt.Errorf("failed to start browser: %w", err)
	}

	// 3. Session registry.
	components.Registry = registry.New(cfg.Registry, logger, mainDriver)
	components.Registry.Start(ctx)

	// 4. Learning store.
	store, pool, err := openLearningStore(ctx, cfg, logger)
	if err != nil {
		return components, err
	}
	components.Learning = store
	components.DBPool = pool

	// 5. Question detector and fallback generator.
	det := detector.New(logger, cfg.Orchestrator.QuestionSelectors)
	gen := responder.NewGenerator(logger, time.Now().UnixNano())

	// 6. Optional AI collaborator.
	ai, err := newAIResponder(ctx, cfg, logger)
	if err != nil {
		return components, err
	}

	// 7. Orchestrator.
	orch, err := orchestrator.New(cfg, logger, components.Bus, components.Registry, det, gen, store,
		orchestrator.Collaborators{AI: ai})
	if err != nil {
		return components, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	components.Orchestrator = orch

	return components, nil
}

// openLearningStore builds the persistence backend the config names and loads
// the existing record. The returned pool is non-nil only for postgres.
func openLearningStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*learning.Store, *pgxpool.Pool, error) {
	var (
		persister learning.Persister
		pool      *pgxpool.Pool
	)
	switch cfg.Learning.Backend {
	case "postgres":
		if cfg.Learning.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("learning backend is postgres but no database URL is configured (POLLFLOW_LEARNING_DATABASE_URL)")
		}
		p, err := pgxpool.New(ctx, cfg.Learning.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to learning database: %w", err)
		}
		pg := learning.NewPostgresStore(p)
		if err := pg.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, nil, fmt.Errorf("failed to ensure learning schema: %w", err)
		}
		persister = pg
		pool = p
	default:
		persister = learning.NewFileStore(cfg.Learning.Path)
	}

	store := learning.NewStore(persister, cfg.Learning.Threshold, logger)
	if err := store.Load(ctx); err != nil {
		logger.Warn("Starting with an empty learning record", zap.Error(err))
	}
	return store, pool, nil
}

// newAIResponder builds the configured answering collaborator, or nil for the
// built-in policy.
func newAIResponder(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.AIResponder, error) {
	switch cfg.AI.Provider {
	case "", "none":
		return nil, nil
	case "genai":
		return responder.NewGenAIResponder(ctx, cfg.AI.APIKey, cfg.AI.Model, logger)
	case "sidecar":
		return responder.NewSidecarResponder(cfg.AI.Endpoint, cfg.AI.Timeout, logger)
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.AI.Provider)
	}
}

func printSummary(summary *schemas.RunSummary) {
	fmt.Printf("\nPoll run complete. Run ID: %s\n", summary.RunID)
	fmt.Printf("  Duration:            %s\n", summary.Duration.Round(time.Millisecond))
	fmt.Printf("  Pages processed:     %d\n", summary.PagesProcessed)
	fmt.Printf("  Questions processed: %d\n", summary.QuestionsProcessed)
	fmt.Printf("  Responses generated: %d\n", summary.ResponsesGenerated)
	fmt.Printf("  Errors encountered:  %d\n", summary.ErrorsEncountered)
	fmt.Printf("  Success rate:        %.0f%%\n", summary.SuccessRate*100)
	fmt.Printf("  Questions/minute:    %.1f\n", summary.QuestionsPerMinute)
}
