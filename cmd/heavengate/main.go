package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/techno-hippies/heavengate/internal/api"
	"github.com/techno-hippies/heavengate/internal/categorize"
	"github.com/techno-hippies/heavengate/internal/config"
	"github.com/techno-hippies/heavengate/internal/database"
	"github.com/techno-hippies/heavengate/internal/heaven"
	"github.com/techno-hippies/heavengate/internal/logging"
	"github.com/techno-hippies/heavengate/internal/rules"
	"github.com/techno-hippies/heavengate/internal/server"
	"github.com/techno-hippies/heavengate/internal/telemetry"
	"github.com/techno-hippies/heavengate/internal/users"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	dnsListen  string
	apiListen  string
	jsonLogs   bool
	debug      bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&f.dnsListen, "dns-listen", "", "Override DNS server bind address (host:port)")
	flag.StringVar(&f.apiListen, "api-listen", "", "Override control-plane HTTP bind address (host:port)")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.dnsListen != "" {
		cfg.DNSListen = f.dnsListen
	}
	if f.apiListen != "" {
		cfg.APIListen = f.apiListen
	}
	if f.jsonLogs {
		cfg.LogJSON = true
	}
	if f.debug {
		cfg.LogLevel = "DEBUG"
	}
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:      cfg.LogLevel,
		Structured: cfg.LogJSON,
		StructuredFormat: func() string {
			if cfg.LogJSON {
				return "json"
			}
			return "text"
		}(),
	})
	logger.Info("heavengate starting",
		"dns_listen", cfg.DNSListen,
		"upstream_dns", cfg.UpstreamDNS,
		"private_tld", cfg.PrivateTLD,
		"api_listen", cfg.APIListen,
	)

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	userCache := users.New()
	if err := userCache.Hydrate(ctx, db, logger); err != nil {
		logger.Warn("failed to hydrate user cache", "err", err)
	}

	ruleCache := rules.New()
	if err := ruleCache.Hydrate(ctx, db, logger); err != nil {
		logger.Warn("failed to hydrate rule cache", "err", err)
	}

	var heavenResolver *heaven.Resolver
	if cfg.HeavenAPIURL != "" {
		heavenResolver = heaven.New(heaven.Config{
			PrivateTLD: cfg.PrivateTLD,
			APIURL:     cfg.HeavenAPIURL,
			Bearer:     cfg.HeavenDNSSecret,
			GatewayIP:  cfg.HeavenGatewayIP,
			Logger:     logger,
		})
	} else {
		logger.Info("private TLD resolution disabled", "reason", "heaven_api_url not set")
	}

	var telemetryClient *telemetry.Client
	if cfg.TelemetryEndpoint != "" {
		telemetryClient = telemetry.NewClient(cfg.TelemetryEndpoint, cfg.TelemetryToken, logger)
	} else {
		logger.Info("telemetry disabled", "reason", "telemetry_endpoint not set")
	}

	categories := categorize.Default()
	dnsStats := server.NewDNSStats()

	apiSrv := api.New(cfg, db, logger)
	apiSrv.Handler().SetUsers(userCache)
	apiSrv.Handler().SetRules(ruleCache)
	apiSrv.Handler().SetDNSStats(dnsStats)
	if telemetryClient != nil {
		apiSrv.Handler().SetTelemetry(telemetryClient)
	}

	logger.Info("control plane starting", "addr", apiSrv.Addr())

	apiErrCh := make(chan error, 1)
	go func() {
		serveErr := apiSrv.ListenAndServe()
		if serveErr == nil || errors.Is(serveErr, http.ErrServerClosed) {
			apiErrCh <- nil
			return
		}
		apiErrCh <- serveErr
	}()

	runner := server.NewRunner(logger)
	runErr := runner.Run(cfg, server.Deps{
		Users:      userCache,
		Rules:      ruleCache,
		Heaven:     heavenResolver,
		Telemetry:  telemetryClient,
		Categories: categories,
		Stats:      dnsStats,
	})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = apiSrv.Shutdown(shutdownCtx)
	shutdownCancel()
	logger.Info("control plane stopped")

	if runErr != nil {
		return fmt.Errorf("gateway exited with error: %w", runErr)
	}
	select {
	case apiErr := <-apiErrCh:
		if apiErr != nil {
			return fmt.Errorf("control plane exited with error: %w", apiErr)
		}
	default:
	}
	return nil
}
