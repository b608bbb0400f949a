package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adhocracy/adhocracy-client/internal/mockbackend"
)

var (
	serveAddr   string
	serveDriver string
	serveDSN    string
	serveSchema string
)

// NewServeMockCommand creates the serve-mock command
func NewServeMockCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-mock",
		Short: "Run a local backend for development",
		Long: `Serve the adhocracy REST API from a local store.

The backend enforces the meta_api schema, assigns version names, keeps the
LAST tags current and commits batches atomically. Resources live in memory
unless an SQL driver is configured.`,
		Example: `  adhocracyctl serve-mock
  adhocracyctl serve-mock --addr :8080 --driver sqlite3 --dsn adhocracy.db
  adhocracyctl serve-mock --driver pgx --dsn postgres://localhost/adhocracy`,
		Args: cobra.NoArgs,
		RunE: runServeMock,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, overrides mock.addr")
	cmd.Flags().StringVar(&serveDriver, "driver", "", "Store driver: memory, sqlite3, pgx or postgres")
	cmd.Flags().StringVar(&serveDSN, "dsn", "", "Store data source name")
	cmd.Flags().StringVar(&serveSchema, "schema", "", "meta_api document to serve instead of the built-in one")
	return cmd
}

func runServeMock(cmd *cobra.Command, args []string) error {
	a, err := newBase(map[string]interface{}{
		"mock.addr":        serveAddr,
		"mock.driver":      serveDriver,
		"mock.dsn":         serveDSN,
		"mock.schema_file": serveSchema,
	})
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	document, err := mockbackend.LoadDocument(cfg.Mock.SchemaFile)
	if err != nil {
		return err
	}

	store, err := mockbackend.OpenStore(ctx, cfg.Mock.Driver, cfg.Mock.DSN)
	if err != nil {
		return err
	}

	opts := []mockbackend.Option{
		mockbackend.WithLogger(a.logger),
		mockbackend.WithBatchPath(cfg.Backend.BatchPath),
		mockbackend.WithLegacyErrorTuples(cfg.Mock.LegacyErrorTuples),
	}
	if a.registry != nil {
		opts = append(opts, mockbackend.WithMetricsHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	}

	backend, err := mockbackend.New(ctx, store, document, opts...)
	if err != nil {
		_ = store.Close()
		return err
	}

	server := mockbackend.NewServer(cfg.Mock.Addr, backend)
	server.RegisterHook(func(context.Context) error {
		a.logger.Info("closing store", zap.String("driver", cfg.Mock.Driver))
		return store.Close()
	})
	return server.ListenAndServe(ctx)
}
