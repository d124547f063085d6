package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/kirillkom/fin-retrieval/internal/adapters/http"
	mcpadapter "github.com/kirillkom/fin-retrieval/internal/adapters/mcp"
	"github.com/kirillkom/fin-retrieval/internal/bootstrap"
	"github.com/kirillkom/fin-retrieval/internal/config"
	"github.com/kirillkom/fin-retrieval/internal/observability/logging"
	"github.com/kirillkom/fin-retrieval/internal/observability/metrics"
)

const serviceName = "api"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    serviceName,
		Registerer: httpMetrics.Registerer(),
	})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(cfg, app.IngestUC, app.Documents, app.RetrieveUC).
		WithMetrics(httpMetrics).
		Handler()

	servers := []*http.Server{newServer(cfg.APIPort, router)}
	if cfg.MCPPort != "" {
		servers = append(servers, newServer(cfg.MCPPort, mcpadapter.NewServer(app.RetrieveUC).Handler()))
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		group.Go(func() error {
			return serve(srv, cfg.APIMaxConns)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	if err := group.Wait(); err != nil {
		slog.Error("api_server_failed", "error", err)
		os.Exit(1)
	}
}

func newServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// serve caps open connections so a burst cannot exhaust file descriptors
// before the in-process backpressure gate sees it.
func serve(srv *http.Server, maxConns int) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	slog.Info("server_listening", "addr", srv.Addr, "max_conns", maxConns)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
