package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/techno-hippies/heavengate/internal/categorize"
	"github.com/techno-hippies/heavengate/internal/config"
	"github.com/techno-hippies/heavengate/internal/gateway"
	"github.com/techno-hippies/heavengate/internal/heaven"
	"github.com/techno-hippies/heavengate/internal/rules"
	"github.com/techno-hippies/heavengate/internal/telemetry"
	"github.com/techno-hippies/heavengate/internal/users"
)

// Runner orchestrates the DNS gateway's startup, wiring, and shutdown.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a new server runner with the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Deps carries the already-constructed components Run wires together.
// Callers (cmd/heavengate) own the lifecycle of anything not started here
// (e.g. the database handle); Run only starts and stops the network-facing
// pieces and the telemetry scheduler.
type Deps struct {
	Users      *users.Cache
	Rules      *rules.Cache
	Heaven     *heaven.Resolver // nil disables private-TLD interception
	Telemetry  *telemetry.Client
	Categories *categorize.Map
	Stats      *DNSStats // optional; nil disables query stat collection
}

// Run starts the DNS gateway with the given configuration and dependencies.
//
// Lifecycle:
//  1. Build the gateway handler from cfg + deps
//  2. Bind UDP and TCP on the same address, retrying on "address not
//     available" per cfg.DNSBindRetry/cfg.DNSBindRetries
//  3. Start the telemetry scheduler
//  4. Wait for shutdown signal (SIGINT/SIGTERM)
//  5. Gracefully stop UDP, TCP, and telemetry with a timeout
func (r *Runner) Run(cfg *config.Config, deps Deps) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	gw := &gateway.Handler{
		Logger:     r.logger,
		Users:      deps.Users,
		Rules:      deps.Rules,
		Heaven:     deps.Heaven,
		Telemetry:  deps.Telemetry,
		Upstream:   cfg.UpstreamDNS,
		HMACSecret: cfg.HMACSecret,
		Categories: deps.Categories,
	}

	h := &QueryHandler{Logger: r.logger, Gateway: gw, Timeout: 4 * time.Second, Stats: deps.Stats}
	limiter := NewRateLimiterFromEnv()

	if deps.Telemetry != nil {
		go deps.Telemetry.Run(ctx, cfg.TelemetryFlushInterval, cfg.TelemetryBatchSize)
	}

	udp := &UDPServer{
		Logger:         r.logger,
		Handler:        h,
		Limiter:        limiter,
		BindRetryDelay: cfg.DNSBindRetry,
		BindMaxRetries: cfg.DNSBindRetries,
	}
	tcp := &TCPServer{
		Logger:         r.logger,
		Handler:        h,
		BindRetryDelay: cfg.DNSBindRetry,
		BindMaxRetries: cfg.DNSBindRetries,
	}

	if r.logger != nil {
		r.logger.Info("dns listening", "addr", cfg.DNSListen, "upstream", cfg.UpstreamDNS, "private_tld", cfg.PrivateTLD)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- udp.Run(ctx, cfg.DNSListen) }()
	go func() { errCh <- tcp.Run(ctx, cfg.DNSListen) }()

	select {
	case <-ctx.Done():
		// shutdown requested via signal
	case err := <-errCh:
		if err != nil {
			cancelRun()
			return err
		}
	}

	stopTimeout := 5 * time.Second
	_ = udp.Stop(stopTimeout)
	_ = tcp.Stop(stopTimeout)
	return nil
}
