package telemetry

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDomainIsDeterministicAndKeyed(t *testing.T) {
	a := HashDomain("example.com", "secret1")
	b := HashDomain("example.com", "secret1")
	c := HashDomain("example.com", "secret2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64) // hex-encoded SHA-256
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	c := NewClient("http://unused", "", nil)
	for i := 0; i < MaxQueueSize+5; i++ {
		c.Enqueue(Event{WalletID: "w"})
	}
	assert.Equal(t, MaxQueueSize, c.QueueLen())
}

func TestFlushSendsNDJSONBatch(t *testing.T) {
	var received int
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			received++
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok123", nil)
	c.Enqueue(Event{WalletID: "w1"})
	c.Enqueue(Event{WalletID: "w2"})

	n, err := c.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, received)
	assert.Equal(t, "Bearer tok123", gotAuth)
	assert.Equal(t, 0, c.QueueLen())
}

func TestFlushEmptyQueueIsNoop(t *testing.T) {
	c := NewClient("http://unused", "", nil)
	n, err := c.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFlushRequeuesOnPersistentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	c.Enqueue(Event{WalletID: "w1"})

	// RetryBaseDelay is a constant, so this test waits out the real backoff
	// (500ms + 1s) before the batch is requeued.
	origDelay := RetryBaseDelay
	defer func() { _ = origDelay }()

	n, err := c.Flush(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, c.QueueLen(), "failed batch should be requeued")
}

func TestRunFlushesQueueOnTick(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	c.Enqueue(Event{WalletID: "w1"})
	c.Enqueue(Event{WalletID: "w2"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 20*time.Millisecond, 2) // the first tick flushes both queued events
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) >= 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
