package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/config"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/observability"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/smartaccount"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/store"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	cmd, ok := commands[args[1]]
	if !ok {
		switch args[1] {
		case "help", "--help", "-h":
			printUsage(stdout)
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
	return cmd.run(args[2:], stdout, stderr)
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: smartaccount <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	for _, name := range commandOrder {
		_, _ = fmt.Fprintf(w, "  %-16s %s\n", name, commands[name].summary)
	}
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Storage and telemetry are configured through STORE_BACKEND, SQLITE_PATH,")
	_, _ = fmt.Fprintln(w, "DATABASE_URL, REDIS_ADDR, LOG_LEVEL and OTEL_ENABLED.")
}

// runtime is the engine plus everything that must be released after use.
type runtime struct {
	engine *smartaccount.Engine
	store  *store.Store
	obs    *observability.Provider
}

func (r *runtime) Close(ctx context.Context) {
	if r.obs != nil {
		_ = r.obs.Shutdown(ctx)
	}
	_ = r.store.Close()
}

// openRuntime builds the engine from the environment. Initializers are only
// needed by init-program.
func openRuntime(ctx context.Context, stderr io.Writer, initializers ...solana.PublicKey) (*runtime, error) {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id %q: %w", cfg.ProgramID, err)
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	rt := &runtime{store: store.New(backend)}

	opts := []smartaccount.Option{
		smartaccount.WithLogger(logger),
		smartaccount.WithInitializers(initializers...),
	}
	if cfg.OTelEnabled {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTelEndpoint
		obsCfg.Insecure = true
		rt.obs, err = observability.New(ctx, obsCfg)
		if err != nil {
			_ = rt.store.Close()
			return nil, err
		}
		opts = append(opts, smartaccount.WithObservability(rt.obs))
	}

	rt.engine = smartaccount.New(rt.store, programID, opts...)
	logger.DebugContext(ctx, "engine ready", "program", programID, "store", cfg.StoreBackend)
	return rt, nil
}

func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryBackend(), nil
	case "sqlite":
		return store.OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		return store.OpenPostgres(ctx, cfg.DatabaseURL)
	case "redis":
		return store.NewRedisBackend(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), cfg.RedisDB, "smartaccount:"), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
