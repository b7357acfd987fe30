// Package server implements the DNS listener: UDP and TCP front ends that
// hand raw request bytes to a gateway.Handler and write back whatever it
// returns.
//
// Goroutine Model:
//
// The server spawns multiple goroutines for handling incoming queries:
//   - UDPServer: 1 receiver + 1 goroutine per datagram per socket
//   - TCPServer: 1 listener per CPU core + 1 handler per active connection
//
// All goroutines are coordinated through a shared context:
//   - Context is cancelled on shutdown signal (SIGINT/SIGTERM)
//   - All goroutines check context regularly and exit cleanly
//   - No long-lived blocking operations without context awareness
//
// Error Handling:
//
// Errors from binding and listening are returned to the caller unchanged;
// Stop returns a plain error when its timeout expires.
package server

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/techno-hippies/heavengate/internal/dns"
	"github.com/techno-hippies/heavengate/internal/gateway"
)

// QueryHandler adapts a gateway.Handler to the transport-level servers,
// adding a hard timeout so one slow upstream or heaven lookup can never
// wedge a goroutine indefinitely.
type QueryHandler struct {
	Logger  *slog.Logger
	Gateway *gateway.Handler
	Timeout time.Duration // Maximum time for query resolution (default: 4s)
	Stats   *DNSStats      // optional; nil disables stat collection
}

// HandleResult contains the outcome of query processing.
type HandleResult struct {
	ResponseBytes []byte // Serialized DNS response, nil if none should be sent
	Source        string // Origin of response, for logging
}

// Handle processes a DNS request and returns a response.
func (h *QueryHandler) Handle(ctx context.Context, transport string, src netip.Addr, reqBytes []byte) HandleResult {
	start := time.Now()
	resCh := make(chan []byte, 1)
	go func() {
		resCh <- h.Gateway.Handle(ctx, src, reqBytes)
	}()

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result HandleResult
	select {
	case <-ctx.Done():
		result = h.timeoutResult(reqBytes, "shutdown")
	case <-timer.C:
		result = h.timeoutResult(reqBytes, "timeout")
	case b := <-resCh:
		result = HandleResult{ResponseBytes: b, Source: "handled"}
	}

	h.recordStats(transport, result, time.Since(start))
	h.logRequest(ctx, transport, src, len(reqBytes), result.Source)
	return result
}

func (h *QueryHandler) recordStats(transport string, result HandleResult, elapsed time.Duration) {
	if h.Stats == nil {
		return
	}
	h.Stats.RecordQuery(transport)
	h.Stats.RecordLatency(elapsed.Nanoseconds())
	switch result.Source {
	case "timeout", "shutdown":
		h.Stats.RecordError()
		return
	}
	if len(result.ResponseBytes) == 0 {
		return
	}
	off := 0
	header, err := dns.ParseHeader(result.ResponseBytes, &off)
	if err != nil {
		return
	}
	switch dns.RCode(header.Flags & dns.RCodeMask) {
	case dns.RCodeNXDomain:
		h.Stats.RecordNXDOMAIN()
	case dns.RCodeServFail, dns.RCodeFormErr, dns.RCodeRefused:
		h.Stats.RecordError()
	}
}

func (h *QueryHandler) timeoutResult(reqBytes []byte, source string) HandleResult {
	off := 0
	header, err := dns.ParseHeader(reqBytes, &off)
	if err != nil {
		return HandleResult{Source: source}
	}
	var questions []dns.Question
	if header.QDCount > 0 {
		if q, err := dns.ParseQuestion(reqBytes, &off); err == nil {
			questions = []dns.Question{q}
		}
	}
	resp := dns.BuildErrorResponse(dns.Packet{Header: header, Questions: questions}, uint16(dns.RCodeServFail))
	resp.Header.Flags |= dns.RAFlag
	b, _ := resp.Marshal()
	return HandleResult{ResponseBytes: b, Source: source}
}

func (h *QueryHandler) logRequest(ctx context.Context, transport string, src netip.Addr, reqLen int, source string) {
	if h.Logger == nil || !h.Logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	h.Logger.DebugContext(ctx, "dns request",
		"transport", transport,
		"src", src.String(),
		"bytes", reqLen,
		"source", source,
	)
}
