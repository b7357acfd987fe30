package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/techno-hippies/heavengate/internal/dns"
	"github.com/techno-hippies/heavengate/internal/pool"
)

// Socket buffer sizes for high throughput (4MB each).
const (
	socketRecvBufferSize = 4 * 1024 * 1024
	socketSendBufferSize = 4 * 1024 * 1024
)

// bufferPool reduces allocations for incoming UDP packets.
// Each buffer is sized for the maximum expected DNS message.
var bufferPool = pool.New(func() *[]byte {
	buf := make([]byte, dns.MaxIncomingDNSMessageSize)
	return &buf
})

// UDPServer handles DNS queries over UDP.
//
// Features:
//   - Multiple sockets with SO_REUSEPORT for kernel-level load balancing
//   - One goroutine spawned per received datagram (no fixed worker pool):
//     parallelism is unbounded and the Go scheduler is the only backpressure
//   - Buffer pooling to reduce GC pressure under load
//   - Rate limiting per source IP (using netip.Addr to avoid allocations)
//   - EDNS-aware response truncation
//   - Graceful shutdown with timeout
//   - Large socket buffers for burst handling
//
// Goroutine Lifecycle:
//
// For each CPU core, Run() spawns one receiver goroutine; each received
// datagram then gets its own short-lived goroutine for the reply.
type UDPServer struct {
	Logger  *slog.Logger  // Optional logger
	Handler *QueryHandler // Query processor
	Limiter *RateLimiter  // Optional per-IP rate limiter

	// BindRetryDelay/BindMaxRetries configure retrying the initial bind when
	// it fails with "address not available" (e.g. a tunnel interface still
	// coming up). BindMaxRetries == 0 means retry forever. Zero delay means
	// no retry: a bind failure fails Run immediately.
	BindRetryDelay time.Duration
	BindMaxRetries int

	conns []*net.UDPConn // UDP sockets (one per CPU core)
	wg    sync.WaitGroup // Tracks receiver and per-datagram goroutines
}

// Run starts the UDP server with multiple sockets using SO_REUSEPORT.
//
// Returns error only if socket creation fails. Otherwise blocks until
// shutdown.
func (s *UDPServer) Run(ctx context.Context, addr string) error {
	socketCount := runtime.NumCPU()
	s.conns = make([]*net.UDPConn, 0, socketCount)

	for i := range socketCount {
		var conn *net.UDPConn
		var err error
		if i == 0 && s.BindRetryDelay > 0 {
			conn, err = ListenReusePortRetry(ctx, addr, s.BindRetryDelay, s.BindMaxRetries)
		} else {
			conn, err = listenReusePort(addr)
		}
		if err != nil {
			for _, c := range s.conns {
				_ = c.Close()
			}
			return err
		}

		_ = conn.SetReadBuffer(socketRecvBufferSize)
		_ = conn.SetWriteBuffer(socketSendBufferSize)

		s.conns = append(s.conns, conn)

		c := conn
		s.wg.Go(func() {
			s.recvLoop(ctx, c)
		})
	}

	<-ctx.Done()
	return s.Stop(5 * time.Second)
}

// RunOnConn runs the server on an existing UDP connection. Useful for
// testing and when the caller manages the socket.
func (s *UDPServer) RunOnConn(ctx context.Context, conn *net.UDPConn) error {
	s.conns = []*net.UDPConn{conn}
	s.wg.Go(func() {
		s.recvLoop(ctx, conn)
	})
	<-ctx.Done()
	return nil
}

// recvLoop reads packets from the socket and spawns a goroutine per
// datagram to compute and send the reply. It never blocks waiting for a
// prior datagram's reply: admission control (if any) happens here via the
// rate limiter, and everything past that is unbounded.
//
// Goroutine lifecycle: started in Run() for each UDP socket, exits when the
// context is cancelled or the socket is closed.
func (s *UDPServer) recvLoop(ctx context.Context, conn *net.UDPConn) {
	for {
		bufPtr := bufferPool.Get()
		buf := *bufPtr

		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			bufferPool.Put(bufPtr)
			return // context cancelled, socket closed, or other fatal error
		}

		ip, ok := netipAddrFromUDPAddr(peer)
		if !ok {
			bufferPool.Put(bufPtr)
			continue
		}
		if s.Limiter != nil && !s.Limiter.AllowAddr(ip) {
			bufferPool.Put(bufPtr)
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		bufferPool.Put(bufPtr)

		s.wg.Go(func() {
			s.handleDatagram(ctx, conn, ip, peer, payload)
		})
	}
}

// handleDatagram computes and sends the reply for a single datagram. One
// goroutine per datagram; exits as soon as the reply is sent (or dropped).
func (s *UDPServer) handleDatagram(ctx context.Context, conn *net.UDPConn, ip netip.Addr, peer *net.UDPAddr, payload []byte) {
	if s.Handler == nil {
		return
	}

	res := s.Handler.Handle(ctx, "udp", ip, payload)
	if len(res.ResponseBytes) == 0 {
		return
	}

	req, err := dns.ParseRequestBounded(payload)
	resp := res.ResponseBytes
	if err == nil {
		maxSize := min(dns.ClientMaxUDPSize(req), dns.EDNSMaxUDPPayloadSize)
		resp = truncateUDPResponse(resp, maxSize)
	}

	_, _ = conn.WriteToUDP(resp, peer)
}

// Stop gracefully shuts down the UDP server, waiting up to timeout for
// in-flight goroutines.
func (s *UDPServer) Stop(timeout time.Duration) error {
	for _, c := range s.conns {
		_ = c.Close()
	}

	if timeout <= 0 {
		s.wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("udp server: timeout waiting for goroutines to exit")
	}
}

// netipAddrFromUDPAddr extracts a netip.Addr from a net.UDPAddr without allocation.
func netipAddrFromUDPAddr(addr *net.UDPAddr) (netip.Addr, bool) {
	if addr == nil {
		return netip.Addr{}, false
	}
	ip, ok := netip.AddrFromSlice(addr.IP)
	if !ok {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

// listenReusePort creates a UDP socket with SO_REUSEPORT enabled. It makes a
// single attempt; ListenReusePortRetry retries it on "address not available".
func listenReusePort(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", udpAddr.String())
	if err != nil {
		return nil, err
	}

	return pc.(*net.UDPConn), nil
}

// ListenReusePortRetry calls listenReusePort, retrying on "address not
// available" every retryDelay until it succeeds or maxRetries is exhausted
// (0 means retry forever). Any other error fails immediately.
func ListenReusePortRetry(ctx context.Context, addr string, retryDelay time.Duration, maxRetries int) (*net.UDPConn, error) {
	attempt := 0
	for {
		conn, err := listenReusePort(addr)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, syscall.EADDRNOTAVAIL) {
			return nil, err
		}
		attempt++
		if maxRetries > 0 && attempt >= maxRetries {
			return nil, err
		}
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
