// Command indexer is the composition root for the ETL indexing engine:
// it wires C1–C9 together and exposes the CLI/HTTP surfaces of §6.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/kda-labs/sigil-etl/engine/account"
	"github.com/kda-labs/sigil-etl/engine/boundary"
	"github.com/kda-labs/sigil-etl/engine/canon"
	"github.com/kda-labs/sigil-etl/engine/embedclient"
	"github.com/kda-labs/sigil-etl/engine/indexer"
	"github.com/kda-labs/sigil-etl/engine/source/groupchat"
	"github.com/kda-labs/sigil-etl/engine/source/microblog"
	"github.com/kda-labs/sigil-etl/engine/stats"
	"github.com/kda-labs/sigil-etl/engine/vectorstore"
	"github.com/kda-labs/sigil-etl/pkg/config"
	"github.com/kda-labs/sigil-etl/pkg/metrics"
	"github.com/kda-labs/sigil-etl/pkg/mid"
	"github.com/kda-labs/sigil-etl/scheduler"
	"github.com/nats-io/nats.go"
)

var met = metrics.New()

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := app.dispatch(ctx, os.Args[1:]); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: indexer <command> [args]

commands:
  run microblog|groupchat|all   fire one synchronous indexing run
  serve                         run the scheduler and HTTP surface until signaled
  health                        print {vectorStoreOK, embeddingOK, lastRun}
  stats                         print rolling counters
  reset-stats                   clear rolling counters
  scheduler status              print per-source running flags
  scheduler reset               clear per-source running flags`)
}

// app holds every wired component of the composition root.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	store    *vectorstore.Store
	embedder *embedclient.Client
	accounts *account.Store
	policy   *account.Policy
	stats    *stats.Registry

	microblogIndexer *indexer.Indexer
	groupchatIndexer *indexer.Indexer

	scheduler *scheduler.Scheduler
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := vectorstore.New(cfg.VectorStoreURL)
	if err != nil {
		return nil, fmt.Errorf("connect vector store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	spec := vectorstore.NewCollectionSpec(cfg.VectorStoreCollection, cfg.EmbeddingDimensions)
	if err := store.EnsureCollection(ctx, spec); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	embedder := embedclient.New(embedclient.Config{
		BaseURL:    cfg.EmbeddingBaseURL,
		APIKey:     cfg.EmbeddingAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
	})

	accounts := account.NewStore()
	for _, handle := range cfg.MicroblogAccounts {
		accounts.Ensure(handle, account.PriorityNormal)
	}
	for _, ch := range cfg.GroupchatChannels {
		for _, handle := range groupchatHandles(ch) {
			accounts.Ensure(handle, account.PriorityNormal)
		}
	}
	policy := account.NewPolicy(account.DefaultPolicyOpts)

	statsRegistry := stats.New(met, store, embedder)

	var dlq func(ctx context.Context, msg canon.Message, cause error)
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		dlq = indexer.NewNATSDLQ(nc, logger)
	}

	microblogAdapter := microblog.New(microblog.Config{BaseURL: cfg.MicroblogBaseURL, Bearer: cfg.MicroblogBearer})
	groupchatAdapter := groupchat.New(groupchat.Config{
		BaseURL: cfg.GroupchatBaseURL,
		APIID:   cfg.GroupchatAPIID,
		APIHash: cfg.GroupchatAPIHash,
		Session: cfg.GroupchatSession,
	})

	microblogIndexer := indexer.New(indexer.Deps{
		Source:       canon.SourceMicroblog,
		Adapter:      microblogAdapter,
		Boundary:     boundary.New(store, cfg.VectorStoreCollection),
		Embedder:     embedder,
		Store:        store,
		Collection:   cfg.VectorStoreCollection,
		Accounts:     accounts,
		Policy:       policy,
		MaxBatchSize: cfg.ETLBatchSize,
		DLQ:          dlq,
		Logger:       logger,
	})
	groupchatIndexer := indexer.New(indexer.Deps{
		Source:       canon.SourceGroupchat,
		Adapter:      groupchatAdapter,
		Boundary:     boundary.New(store, cfg.VectorStoreCollection),
		Embedder:     embedder,
		Store:        store,
		Collection:   cfg.VectorStoreCollection,
		Accounts:     accounts,
		Policy:       policy,
		MaxBatchSize: cfg.ETLBatchSize,
		DLQ:          dlq,
		Logger:       logger,
	})

	a := &app{
		cfg: cfg, logger: logger,
		store: store, embedder: embedder, accounts: accounts, policy: policy, stats: statsRegistry,
		microblogIndexer: microblogIndexer, groupchatIndexer: groupchatIndexer,
	}

	sch := scheduler.New(func(ctx context.Context) {
		h := statsRegistry.Health(ctx)
		logger.Info("health probe", "vectorStoreOK", h.VectorStoreOK, "embeddingOK", h.EmbeddingOK)
	}, logger)
	sch.Register("microblog", scheduler.DefaultMicroblogInterval, func(ctx context.Context) {
		a.runOnce(ctx, canon.SourceMicroblog)
	})
	sch.Register("groupchat", scheduler.DefaultGroupchatInterval, func(ctx context.Context) {
		a.runOnce(ctx, canon.SourceGroupchat)
	})
	a.scheduler = sch

	return a, nil
}

func groupchatHandle(ch config.Channel) string {
	if ch.Username != "" {
		return ch.Username
	}
	return ch.ID
}

// groupchatHandles expands a channel into the account handles it should
// register: one per forum topic when topics are configured (§4.3), or
// the bare channel handle otherwise.
func groupchatHandles(ch config.Channel) []string {
	base := groupchatHandle(ch)
	if len(ch.Topics) == 0 {
		return []string{base}
	}
	handles := make([]string, len(ch.Topics))
	for i, topicID := range ch.Topics {
		handles[i] = groupchat.Handle(base, topicID, true)
	}
	return handles
}

func (a *app) runOnce(ctx context.Context, source canon.Source) {
	if !a.cfg.ETLEnabled {
		a.logger.Info("skipping run: ETL_ENABLED is false", "source", source)
		return
	}
	var report indexer.RunReport
	switch source {
	case canon.SourceMicroblog:
		report = a.microblogIndexer.Run(ctx, a.cfg.ETLBatchSize*10)
	case canon.SourceGroupchat:
		report = a.groupchatIndexer.Run(ctx, a.cfg.ETLBatchSize*10)
	}
	a.stats.Record(source, report)
	a.logger.Info("run complete", "source", source, "processed", report.Processed, "stored", report.Stored, "errors", report.Errors, "success", report.Success)
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	switch args[0] {
	case "run":
		if len(args) < 2 {
			return fmt.Errorf("usage: indexer run microblog|groupchat|all")
		}
		switch args[1] {
		case "microblog":
			a.runOnce(ctx, canon.SourceMicroblog)
		case "groupchat":
			a.runOnce(ctx, canon.SourceGroupchat)
		case "all":
			a.runOnce(ctx, canon.SourceMicroblog)
			a.runOnce(ctx, canon.SourceGroupchat)
		default:
			return fmt.Errorf("unknown source %q", args[1])
		}
		return nil

	case "serve":
		return a.serve(ctx)

	case "health":
		h := a.stats.Health(ctx)
		return printJSON(h)

	case "stats":
		return printJSON(a.stats.Snapshot())

	case "reset-stats":
		a.stats.Reset()
		return nil

	case "scheduler":
		if len(args) < 2 {
			return fmt.Errorf("usage: indexer scheduler status|reset")
		}
		switch args[1] {
		case "status":
			return printJSON(a.scheduler.Status())
		case "reset":
			a.scheduler.Reset()
			return nil
		default:
			return fmt.Errorf("unknown scheduler subcommand %q", args[1])
		}

	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// serve runs the scheduler plus an HTTP surface for health/stats/metrics
// until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.stats.Health(r.Context()))
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.stats.Snapshot())
	})
	mux.HandleFunc("GET /scheduler/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.scheduler.Status())
	})
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(a.logger),
		mid.Logger(a.logger),
	)
	srv := &http.Server{Addr: ":8090", Handler: handler, ReadTimeout: 15 * time.Second, WriteTimeout: 30 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	schedDone := make(chan struct{})
	go func() {
		a.scheduler.Run(ctx)
		close(schedDone)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		a.logger.Info("serve: shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutCtx)
	<-schedDone
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
