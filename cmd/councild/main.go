// cmd/councild — council orchestrator daemon entrypoint.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/council-run/council-core/internal/council"
	"github.com/council-run/council-core/internal/observer/wsfanout"
	"github.com/council-run/council-core/internal/orchestrator"
	"github.com/council-run/council-core/internal/spawner"
	"github.com/council-run/council-core/internal/store"
	"github.com/council-run/council-core/internal/store/postgres"
	"github.com/council-run/council-core/pkg/logger"
	"github.com/council-run/council-core/pkg/safego"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Init(os.Getenv("COUNCIL_ENV"))

	configPath := os.Getenv("COUNCIL_CONFIG")
	if configPath == "" {
		configPath = "./council.yaml"
	}
	c, err := council.LoadFile(configPath)
	if err != nil {
		logger.Fatal("council config load failed", logger.FieldError, err)
	}
	c.ID = os.Getenv("COUNCIL_ID")
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	st, err := newStore(ctx)
	if err != nil {
		logger.Fatal("store init failed", logger.FieldError, err)
	}
	if closer, ok := st.(interface{ Close() }); ok {
		defer closer.Close()
	}

	sp := spawner.New(c.Spawner)

	o := orchestrator.New(c, st, sp)

	fanout := wsfanout.New(o.Bus())
	mux := http.NewServeMux()
	mux.HandleFunc("/events", fanout.Handler)

	addr := os.Getenv("COUNCIL_ADDR")
	if addr == "" {
		addr = ":8090"
	}
	srv := &http.Server{Addr: addr, Handler: mux}

	safego.Go(func() {
		logger.Info("lifecycle fan-out listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("lifecycle fan-out server failed", logger.FieldError, err)
		}
	})

	safego.Go(func() {
		if err := o.Run(ctx); err != nil {
			logger.Fatal("orchestrator run loop failed", logger.FieldError, err)
		}
	})

	logger.Info("councild started", logger.FieldCouncilID, c.ID)
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	fanout.Close()
	logger.Info("councild shut down")
}

func newStore(ctx context.Context) (store.Store, error) {
	dsn := os.Getenv("COUNCIL_POSTGRES_DSN")
	if dsn == "" {
		logger.Info("no COUNCIL_POSTGRES_DSN set, using in-memory store")
		return store.NewMemory(), nil
	}
	return postgres.Open(ctx, dsn)
}
