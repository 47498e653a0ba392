// Command relayer is the process entry point: it wires the configured
// chain backend, optimistic tree, transaction log, queue, provers and
// HTTP surface into a running relayer, boots state reconciliation, and
// serves until signalled.
//
// Configuration is environment-variable only (spec.md §6); see config.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zeropool/relayer/log"
	"github.com/zeropool/relayer/pool/api"
	"github.com/zeropool/relayer/pool/backend"
	"github.com/zeropool/relayer/pool/merkle"
	"github.com/zeropool/relayer/pool/queue"
	"github.com/zeropool/relayer/pool/state"
	"github.com/zeropool/relayer/pool/storage"
	"github.com/zeropool/relayer/pool/telemetry"
	"github.com/zeropool/relayer/pool/transferproof"
	"github.com/zeropool/relayer/pool/txlog"
	"github.com/zeropool/relayer/pool/worker"
	"github.com/zeropool/relayer/pool/zktree"
)

func main() {
	os.Exit(run())
}

// run is the actual entry point, returning an exit code: 0 on graceful
// shutdown, 2 on a configuration error, 1 if building state, boot
// reconciliation, the HTTP server or its shutdown fails. Only the HTTP
// server is watched for an unexpected exit; the worker's queue consumer
// returns only when ctx is cancelled.
func run() int {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	log.Info("relayer starting",
		"port", cfg.Port,
		"backend", cfg.Backend,
		"mock_prover", cfg.MockProver,
		"fee", cfg.Fee,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := buildAppState(ctx, cfg)
	if err != nil {
		log.Error("failed to build application state", "err", err)
		return 1
	}

	if err := st.Boot(ctx); err != nil {
		log.Error("boot reconciliation failed", "err", err)
		return 1
	}

	w := worker.New(st)
	w.Run(ctx)

	metrics := telemetry.New()
	apiServer := api.NewServer(st, w, api.Config{Fee: cfg.Fee})

	mux := http.NewServeMux()
	mux.Handle("/", apiServer.Handler())
	mux.Handle("/metrics", metrics.Handler(st))

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			log.Error("http server exited unexpectedly", "err", err)
			exitCode = 1
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error during http shutdown", "err", err)
		exitCode = 1
	}

	log.Info("shutdown complete")
	return exitCode
}

// buildAppState constructs every component state.AppState needs from cfg:
// the chain backend, a pebble-backed tree and log, the Redis-backed queue
// (required regardless of chain backend -- enforced in LoadConfig), and
// the two Groth16 components.
func buildAppState(ctx context.Context, cfg Config) (*state.AppState, error) {
	be, err := buildBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}

	treeStore, err := storage.OpenPebbleStore(cfg.DataDir + "/tree.persy")
	if err != nil {
		return nil, fmt.Errorf("open tree store: %w", err)
	}
	logStore, err := storage.OpenPebbleStore(cfg.DataDir + "/transactions.persy")
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	q := queue.New(redis.NewClient(opt))

	// gnark's groth16 constraint system and proving key serialize as two
	// distinct artifacts even though spec.md §6 names a single
	// tree_params.bin; ccs and pk are split into their own files under
	// params/ with tree_params.bin's name kept for the ccs half (see
	// DESIGN.md).
	prover, err := zktree.NewProver(
		cfg.DataDir+"/params/tree_params.bin",
		cfg.DataDir+"/params/tree_proving_key.bin",
		cfg.DataDir+"/params/tree_verification_key.json",
		cfg.MockProver,
	)
	if err != nil {
		return nil, fmt.Errorf("tree prover: %w", err)
	}

	verifier, err := transferproof.Load(cfg.DataDir+"/params/transfer_verification_key.json", cfg.MockProver)
	if err != nil {
		return nil, fmt.Errorf("transfer verifier: %w", err)
	}

	return state.New(state.Config{
		Backend:  be,
		Tree:     merkle.New(treeStore),
		Log:      txlog.New(logStore),
		Queue:    q,
		Prover:   prover,
		Verifier: verifier,
	}), nil
}

// buildBackend selects and constructs the chain adapter named by
// cfg.Backend (spec.md §6's BACKEND env var).
func buildBackend(ctx context.Context, cfg Config) (backend.Backend, error) {
	switch cfg.Backend {
	case "mock":
		return backend.NewMock(), nil
	case "evm":
		return backend.NewEVM(ctx, cfg.EVM)
	case "near":
		return backend.NewNEAR(cfg.NEAR), nil
	case "waves":
		return backend.NewWaves(cfg.Waves), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
