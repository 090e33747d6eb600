package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemo-labs/mnemo/internal/cadence"
	"github.com/mnemo-labs/mnemo/internal/config"
	"github.com/mnemo-labs/mnemo/internal/engine"
	"github.com/mnemo-labs/mnemo/internal/queue"
	"github.com/mnemo-labs/mnemo/internal/recall"
	"github.com/mnemo-labs/mnemo/internal/server"
	"github.com/mnemo-labs/mnemo/internal/store"
	"github.com/mnemo-labs/mnemo/internal/store/postgres"
	"github.com/mnemo-labs/mnemo/internal/store/sqlite"
	"github.com/mnemo-labs/mnemo/internal/topics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the memory server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	st, desc, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	q := queue.New(cfg.Queue.Capacity, cfg.Queue.Workers)
	cad := cadence.New(cadence.Config{
		MsgThreshold:   cfg.Cadence.MsgThreshold,
		TokenThreshold: cfg.Cadence.TokenThreshold,
		MaxWindow:      cfg.Cadence.MaxWindow,
		Debounce:       cfg.Cadence.Debounce,
	})
	top := topics.New()

	eng := engine.New(st, q, cad, top, engine.Config{
		SaveThreshold:     cfg.Engine.SaveThreshold,
		PromoteRepeats:    cfg.Engine.PromoteRepeats,
		BatchSize:         cfg.Engine.BatchSize,
		RetentionSchedule: cfg.Engine.RetentionSchedule,
		WindowCap:         cfg.Engine.WindowCap,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)
	if err := eng.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Stop()

	srv := server.New(server.Options{
		Store:      st,
		Engine:     eng,
		Queue:      q,
		Recall:     recall.New(st),
		Cadence:    cad,
		Topics:     top,
		Version:    VersionString(),
		RatePerSec: cfg.Server.RatePerSec,
		RateBurst:  cfg.Server.RateBurst,
	})
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "mnemo serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  store: %s\n", desc)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Drain what is already queued; at-most-once allows abandoning the rest.
	q.Stop(5 * time.Second)
	return nil
}

// openStore opens the configured backend and returns it with a short
// description for startup logging.
func openStore(cfg config.StoreConfig) (store.Store, string, error) {
	switch cfg.Engine {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			var err error
			path, err = sqlite.DefaultDBPath()
			if err != nil {
				return nil, "", fmt.Errorf("resolve db path: %w", err)
			}
		}
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("open database: %w", err)
		}
		return db, "sqlite " + path, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, "", fmt.Errorf("postgres store requires a DSN")
		}
		db, err := postgres.New(cfg.DSN)
		if err != nil {
			return nil, "", fmt.Errorf("connect postgres: %w", err)
		}
		return db, "postgres", nil
	default:
		return nil, "", fmt.Errorf("unknown store engine %q", cfg.Engine)
	}
}
