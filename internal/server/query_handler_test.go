package server

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techno-hippies/heavengate/internal/dns"
	"github.com/techno-hippies/heavengate/internal/gateway"
)

func buildTestQuery(t *testing.T, qname string, qtype dns.RecordType) []byte {
	t.Helper()
	p := dns.Packet{
		Header:    dns.Header{ID: 1234, Flags: dns.RDFlag, QDCount: 1},
		Questions: []dns.Question{{Name: qname, Type: uint16(qtype), Class: uint16(dns.ClassIN)}},
	}
	b, err := p.Marshal()
	require.NoError(t, err)
	return b
}

func startEchoingUpstream(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 512)
		for {
			n, peer, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req, perr := dns.ParsePacket(buf[:n])
			if perr != nil {
				continue
			}
			resp := dns.BuildErrorResponse(req, uint16(dns.RCodeNoError))
			resp.Header.Flags |= dns.RAFlag
			b, _ := resp.Marshal()
			conn.WriteToUDP(b, peer)
		}
	}()
	return conn.LocalAddr().String()
}

func TestQueryHandlerHandleSuccess(t *testing.T) {
	queryBytes := buildTestQuery(t, "example.com", dns.TypeA)
	handler := &QueryHandler{
		Gateway: &gateway.Handler{Upstream: startEchoingUpstream(t)},
		Timeout: 5 * time.Second,
	}

	result := handler.Handle(context.Background(), "udp", netip.MustParseAddr("192.168.1.1"), queryBytes)
	assert.Equal(t, "handled", result.Source)
	assert.NotEmpty(t, result.ResponseBytes)
}

func TestQueryHandlerHandleUpstreamFailure(t *testing.T) {
	queryBytes := buildTestQuery(t, "example.com", dns.TypeA)
	handler := &QueryHandler{
		Gateway: &gateway.Handler{Upstream: "127.0.0.1:1"},
		Timeout: 5 * time.Second,
	}

	result := handler.Handle(context.Background(), "udp", netip.MustParseAddr("192.168.1.1"), queryBytes)
	assert.Equal(t, "handled", result.Source)
	require.NotEmpty(t, result.ResponseBytes)

	resp, err := dns.ParsePacket(result.ResponseBytes)
	require.NoError(t, err)
	assert.Equal(t, uint16(dns.RCodeServFail), resp.Header.Flags&dns.RCodeMask)
}

func TestQueryHandlerHandleTimeout(t *testing.T) {
	queryBytes := buildTestQuery(t, "example.com", dns.TypeA)
	// No listener at all on this address: the upstream forward blocks for
	// its own 5s read timeout, well past the handler's configured timeout.
	handler := &QueryHandler{
		Gateway: &gateway.Handler{Upstream: "192.0.2.1:53"},
		Timeout: 50 * time.Millisecond,
	}

	result := handler.Handle(context.Background(), "udp", netip.MustParseAddr("192.168.1.1"), queryBytes)
	assert.Equal(t, "timeout", result.Source)
	assert.NotEmpty(t, result.ResponseBytes)
}

func TestQueryHandlerHandleContextCancelled(t *testing.T) {
	queryBytes := buildTestQuery(t, "example.com", dns.TypeA)
	handler := &QueryHandler{
		Gateway: &gateway.Handler{Upstream: "192.0.2.1:53"},
		Timeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := handler.Handle(ctx, "udp", netip.MustParseAddr("192.168.1.1"), queryBytes)
	assert.Equal(t, "shutdown", result.Source)
}

func TestQueryHandlerHandleWithLogger(t *testing.T) {
	queryBytes := buildTestQuery(t, "example.com", dns.TypeA)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := &QueryHandler{
		Logger:  logger,
		Gateway: &gateway.Handler{Upstream: startEchoingUpstream(t)},
		Timeout: 5 * time.Second,
	}

	result := handler.Handle(context.Background(), "tcp", netip.MustParseAddr("10.0.0.1"), queryBytes)
	assert.NotEmpty(t, result.ResponseBytes)
}

func TestQueryHandlerHandleDefaultTimeout(t *testing.T) {
	queryBytes := buildTestQuery(t, "example.com", dns.TypeA)
	handler := &QueryHandler{
		Gateway: &gateway.Handler{Upstream: startEchoingUpstream(t)},
		Timeout: 0, // defaults to 4s
	}

	start := time.Now()
	result := handler.Handle(context.Background(), "udp", netip.MustParseAddr("192.168.1.1"), queryBytes)
	elapsed := time.Since(start)

	assert.NotEmpty(t, result.ResponseBytes)
	assert.Less(t, elapsed, 100*time.Millisecond)
}
