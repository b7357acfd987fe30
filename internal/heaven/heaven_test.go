package heaven

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techno-hippies/heavengate/internal/dns"
)

func newQuery(name string, qtype dns.RecordType) dns.Packet {
	return dns.Packet{
		Header:    dns.Header{ID: 42, Flags: dns.RDFlag},
		Questions: []dns.Question{{Name: name, Type: uint16(qtype), Class: uint16(dns.ClassIN)}},
	}
}

func TestClassifyApexAndMultiLabel(t *testing.T) {
	r := New(Config{PrivateTLD: "heaven", GatewayIP: "10.0.0.1"})

	c, _ := r.classify("heaven")
	assert.Equal(t, apex, c)

	c, label := r.classify("alice.heaven")
	assert.Equal(t, singleLabel, c)
	assert.Equal(t, "alice", label)

	c, _ = r.classify("sub.alice.heaven")
	assert.Equal(t, multiLabel, c)

	c, _ = r.classify("example.com")
	assert.Equal(t, notOurs, c)
}

func TestHandleApexReturnsGatewayIP(t *testing.T) {
	r := New(Config{PrivateTLD: "heaven", GatewayIP: "10.0.0.1"})
	req := newQuery("heaven", dns.TypeA)

	resp, ok := r.Handle(context.Background(), req, "heaven")
	require.True(t, ok)
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "10.0.0.1", net4ToString(resp.Answers[0].Data.([]byte)))
}

func TestHandleMultiLabelIsNXDOMAIN(t *testing.T) {
	r := New(Config{PrivateTLD: "heaven", GatewayIP: "10.0.0.1"})
	req := newQuery("sub.alice.heaven", dns.TypeA)

	resp, ok := r.Handle(context.Background(), req, "sub.alice.heaven")
	require.True(t, ok)
	assert.Equal(t, uint16(dns.RCodeNXDomain), resp.Header.Flags&dns.RCodeMask)
	require.Len(t, resp.Authorities, 1)
	assert.Equal(t, uint16(dns.TypeSOA), resp.Authorities[0].Type)
}

func TestHandleNotOursFallsThrough(t *testing.T) {
	r := New(Config{PrivateTLD: "heaven", GatewayIP: "10.0.0.1"})
	_, ok := r.Handle(context.Background(), newQuery("example.com", dns.TypeA), "example.com")
	assert.False(t, ok)
}

func TestHandleActiveResolutionCachesResult(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "alice", req.URL.Query().Get("label"))
		json.NewEncoder(w).Encode(map[string]any{
			"status":       "active",
			"records":      map[string]any{"A": []string{"203.0.113.5"}},
			"ttl_positive": 60,
			"ttl_negative": 30,
		})
	}))
	defer srv.Close()

	r := New(Config{PrivateTLD: "heaven", APIURL: srv.URL, GatewayIP: "10.0.0.1"})
	req := newQuery("alice.heaven", dns.TypeA)

	resp, ok := r.Handle(context.Background(), req, "alice.heaven")
	require.True(t, ok)
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "203.0.113.5", net4ToString(resp.Answers[0].Data.([]byte)))

	// Second lookup must be served from cache, not a second HTTP call.
	resp2, ok := r.Handle(context.Background(), req, "alice.heaven")
	require.True(t, ok)
	require.Len(t, resp2.Answers, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestHandleUnregisteredIsNXDOMAINAndCached(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&hits, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"status":       "unregistered",
			"ttl_negative": 45,
		})
	}))
	defer srv.Close()

	r := New(Config{PrivateTLD: "heaven", APIURL: srv.URL, GatewayIP: "10.0.0.1"})
	req := newQuery("ghost.heaven", dns.TypeA)

	resp, ok := r.Handle(context.Background(), req, "ghost.heaven")
	require.True(t, ok)
	assert.Equal(t, uint16(dns.RCodeNXDomain), resp.Header.Flags&dns.RCodeMask)

	r.Handle(context.Background(), req, "ghost.heaven")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestHandleUpstreamFailureReturnsServfailWithoutCaching(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(Config{PrivateTLD: "heaven", APIURL: srv.URL, GatewayIP: "10.0.0.1"})
	req := newQuery("flaky.heaven", dns.TypeA)

	resp, ok := r.Handle(context.Background(), req, "flaky.heaven")
	require.True(t, ok)
	assert.Equal(t, uint16(dns.RCodeServFail), resp.Header.Flags&dns.RCodeMask)

	// Failure must not be cached: a second attempt retries the API.
	r.Handle(context.Background(), req, "flaky.heaven")
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestConcurrentLookupsForSameLabelCoalesce(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		json.NewEncoder(w).Encode(map[string]any{
			"status":       "active",
			"records":      map[string]any{"A": []string{"203.0.113.9"}},
			"ttl_positive": 60,
		})
	}))
	defer srv.Close()

	r := New(Config{PrivateTLD: "heaven", APIURL: srv.URL, GatewayIP: "10.0.0.1"})
	req := newQuery("bob.heaven", dns.TypeA)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Handle(context.Background(), req, "bob.heaven")
		}()
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func net4ToString(b []byte) string {
	if len(b) != 4 {
		return ""
	}
	return itoa(b[0]) + "." + itoa(b[1]) + "." + itoa(b[2]) + "." + itoa(b[3])
}

func itoa(b byte) string {
	const digits = "0123456789"
	if b < 10 {
		return string(digits[b])
	}
	if b < 100 {
		return string(digits[b/10]) + string(digits[b%10])
	}
	return string(digits[b/100]) + string(digits[(b/10)%10]) + string(digits[b%10])
}
