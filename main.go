package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbolis/intelliform/ai"
	"github.com/mbolis/intelliform/app"
	"github.com/mbolis/intelliform/config"
	"github.com/mbolis/intelliform/database"
	"github.com/mbolis/intelliform/httpx"
	"github.com/mbolis/intelliform/log"
	"github.com/mbolis/intelliform/problems"
	"github.com/mbolis/intelliform/routes"
	"github.com/mbolis/intelliform/sequencer"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatal("main.config:", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal("main.db.open:", err)
	}
	defer db.Close()
	store := database.NewStore(db)

	prompts, err := config.LoadPrompts(cfg.AI.PromptsFile)
	if err != nil {
		log.Fatal("main.ai.prompts:", err)
	}
	generator, err := ai.NewGenAIGenerator(ctx, cfg.AI.APIKey, cfg.AI.Model)
	if err != nil {
		log.Fatal("main.ai.client:", err)
	}
	assistant, err := ai.NewService(generator, cfg.AI.Timeout, prompts)
	if err != nil {
		log.Fatal("main.ai.service:", err)
	}

	sessions := sequencer.NewRegistry(cfg.SessionTTL)
	defer sessions.Close()

	pipeline := problems.NewPipeline(store, assistant, cfg.ExtractWorkers)

	app := app.App{
		Store:        store,
		BearerServer: httpx.NewBearerServer(store, cfg),
		Config:       cfg,
		Assistant:    assistant,
		Sessions:     sessions,
		Problems:     pipeline,
	}

	handler := routes.Wire(app)

	err = runServer(ctx, cfg, handler)
	if !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("main.server:", err)
	}

	log.Info("Waiting for background extractions")
	pipeline.Wait()
}

// writeTimeout leaves room for the slowest request: every provider call it can
// make running into the AI timeout. Without an AI timeout there is no bound.
func writeTimeout(cfg config.Config) time.Duration {
	if cfg.AI.Timeout <= 0 {
		return 0
	}
	return ai.RequestBudget(cfg.AI.Timeout) + 30*time.Second
}

func runServer(ctx context.Context, cfg config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout(cfg),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("main.server.shutdown: %s", err)
		}
	}()

	log.Info("Listening on " + cfg.Url())
	return srv.ListenAndServe()
}
