package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/api"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ledger over HTTP",
	Long: `Start the HTTP API and the audit dispatcher.

Every request must carry the X-Owner-ID header set by the upstream gateway.
Audit entries are written to the outbox with each mutation and appended to
the audit log in the background.

Example:
  ledger serve
  LEDGER_HTTP_ADDR=:9090 ledger serve --config ledger.yaml`,
	Run: runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	// Setup structured JSON logging.
	logLevel := slog.LevelInfo
	if debug || cfg.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	s := openServices(cfg, logger)
	defer s.close()

	slog.Info("database initialized", "db_path", cfg.Database.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The dispatcher stops only after the server has drained.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dispatcher.Run(dispatchCtx)
	}()

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(api.Dependencies{
			Accounts: s.accounts,
			Engine:   s.engine,
			Audit:    s.recorder,
			Clock:    s.clock,
			Logger:   logger,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting ledger server", "addr", cfg.Server.Addr)
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	exitOnError(err, "failed to listen")

	serveErr := serveHTTP(ctx, server, ln, shutdownTimeout)

	stopDispatch()
	wg.Wait()

	exitOnError(serveErr, "server error")
	slog.Info("server stopped")
}

// shutdownTimeout bounds how long in-flight requests may take to finish.
const shutdownTimeout = 10 * time.Second

// serveHTTP serves on ln until ctx is done or the server fails, then shuts
// the server down. It returns only after Shutdown has returned, so no
// handler is still running when the caller releases shared resources.
func serveHTTP(ctx context.Context, server *http.Server, ln net.Listener, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()

		slog.Info("shutting down server")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
		defer cancelShutdown()
		shutdownErr <- server.Shutdown(shutdownCtx)
	}()

	err := server.Serve(ln)
	cancel()
	if sErr := <-shutdownErr; sErr != nil {
		slog.Error("server shutdown error", "error", sErr)
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
