// Command b24-bulk exports and bulk-edits Bitrix24 entities over a webhook.
//
// Usage:
//
//	b24-bulk [-config file.yaml] export -method crm.deal.list [-filter K=V] [-select F,G] [-limit N] [-offset] [-result-path P] [-item-id K]
//	b24-bulk [-config file.yaml] add    -method crm.deal.add    < items.jsonl
//	b24-bulk [-config file.yaml] update -method crm.deal.update < updates.jsonl
//	b24-bulk [-config file.yaml] delete -method crm.deal.delete < ids.txt
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitrix24/b24phpsdk-sub004/pkg/logging"
	"github.com/bitrix24/b24phpsdk-sub004/pkg/metrics"
	"github.com/rs/zerolog"
)

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// realMain runs the command and returns the process exit code. Deferred
// cleanup runs before the caller exits.
func realMain(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("b24-bulk", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML config file")
	fs.Usage = func() { usage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "b24-bulk: %v\n", err)
		return 2
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: stderr,
	})

	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, logger)
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, fs.Args(), stdin, stdout); err != nil {
		if errors.Is(err, errUsage) {
			usage(stderr)
			return 2
		}
		logger.Error().Err(err).Msg("Command failed")
		return 1
	}
	return 0
}

func startMetricsServer(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: b24-bulk [-config file] <command> [flags]

commands:
  export   stream the items of a list method as JSON lines
  add      create one item per JSON line read from stdin
  update   apply {"id": N, "fields": {...}} lines read from stdin
  delete   delete one ID per line read from stdin

environment:
  B24_WEBHOOK_URL  webhook base URL (required)
  B24_REDIS_ADDR   Redis address for the operating budget and cache
  LOG_LEVEL        debug, info, warn or error
  LOG_PRETTY       human-readable logs
  METRICS_ADDR     serve Prometheus metrics on this address`)
}
