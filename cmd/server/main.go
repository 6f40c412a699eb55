// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/giftrank/internal/api/connect"
	"github.com/osa030/giftrank/internal/api/stream"
	"github.com/osa030/giftrank/internal/app/filter"
	"github.com/osa030/giftrank/internal/app/monitor"
	"github.com/osa030/giftrank/internal/infra/config"
	"github.com/osa030/giftrank/internal/infra/logger"
	"github.com/osa030/giftrank/internal/infra/metrics"
	"github.com/osa030/giftrank/internal/infra/redisfeed"
	"github.com/osa030/giftrank/internal/infra/showroom"
	"github.com/osa030/giftrank/internal/infra/upstream"
)

var (
	app        = kingpin.New("giftrank-server", "giftrank multi-room gift point tracker")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
	jsonLogs   = app.Flag("json-logs", "Write JSON log lines to stdout").Bool()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
		JSON:   *jsonLogs,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %+v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	directory := showroom.New(showroom.Config{
		BaseURL: cfg.Showroom.BaseURL,
		Timeout: cfg.ShowroomTimeout(),
	})
	dialer := upstream.NewDialer(cfg.Upstream.URL, cfg.ShowroomTimeout())

	recorder := metrics.NewRecorder()
	recorder.Serve(ctx, cfg.Metrics.Addr)

	deps := monitor.Deps{
		Directory: directory,
		Dialer:    dialer,
		Recorder:  recorder,
	}

	if cfg.Redis.Enabled {
		publisher := redisfeed.NewPublisher(cfg.Redis)
		defer publisher.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := publisher.Ping(pingCtx); err != nil {
			zlog.Warn().Msgf("redis unavailable, exporting anyway: addr=%s error=%v", cfg.Redis.Addr, err)
		} else {
			zlog.Info().Msgf("redis export enabled: addr=%s prefix=%s", cfg.Redis.Addr, cfg.Redis.KeyPrefix)
		}
		pingCancel()
		deps.Exporter = publisher
	}

	mon, err := monitor.New(cfg, deps)
	if err != nil {
		return errors.Wrap(err, "failed to create monitor")
	}

	mux := http.NewServeMux()

	adminAuthInterceptor := apiconnect.NewAdminAuthInterceptor(cfg)
	servicePath, serviceHandler := apiconnect.NewMonitorServiceHandler(
		apiconnect.NewMonitorService(mon),
		connect.WithInterceptors(adminAuthInterceptor),
	)
	mux.Handle(servicePath, serviceHandler)
	mux.Handle("/ws", stream.NewHandler(mon))

	serverAddr := cfg.Server.Addr
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)

	mon.Start(ctx)

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s windows=%d", serverAddr, mon.Windows())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		mon.Close()
		return errors.Wrap(err, "server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Monitor first: websocket streams end on its Done.
	mon.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	return nil
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, name := range filter.RegisteredNames() {
		f := filter.GetRegistered()[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}
