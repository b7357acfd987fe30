// Package handlers implements the REST API endpoint handlers for the
// gateway's control plane: device provisioning, per-user block lists, and
// operational stats.
package handlers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/techno-hippies/heavengate/internal/config"
	"github.com/techno-hippies/heavengate/internal/database"
	"github.com/techno-hippies/heavengate/internal/rules"
	"github.com/techno-hippies/heavengate/internal/server"
	"github.com/techno-hippies/heavengate/internal/telemetry"
	"github.com/techno-hippies/heavengate/internal/users"
)

// Handler contains dependencies for API handlers.
type Handler struct {
	cfg       *config.Config
	db        *database.DB
	logger    *slog.Logger
	startTime time.Time

	// Runtime components (set after the gateway starts, so the control
	// plane sees the same caches the data path reads from).
	mu        sync.RWMutex
	users     *users.Cache
	rules     *rules.Cache
	telemetry *telemetry.Client
	dnsStats  *server.DNSStats
}

// New creates a new Handler with the given configuration and durable store.
// db may be nil in tests that only exercise stateless endpoints.
func New(cfg *config.Config, db *database.DB, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		db:        db,
		logger:    logger,
		startTime: time.Now(),
	}
}

// SetUsers sets the user cache for runtime access.
func (h *Handler) SetUsers(c *users.Cache) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.users = c
}

// SetRules sets the rules cache for runtime access.
func (h *Handler) SetRules(c *rules.Cache) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rules = c
}

// SetTelemetry sets the telemetry client for runtime access.
func (h *Handler) SetTelemetry(c *telemetry.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.telemetry = c
}

func (h *Handler) getUsers() *users.Cache {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users
}

func (h *Handler) getRules() *rules.Cache {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rules
}

func (h *Handler) getTelemetry() *telemetry.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.telemetry
}

// SetDNSStats sets the DNS query statistics collector for runtime access.
func (h *Handler) SetDNSStats(s *server.DNSStats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dnsStats = s
}

func (h *Handler) getDNSStats() *server.DNSStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dnsStats
}
