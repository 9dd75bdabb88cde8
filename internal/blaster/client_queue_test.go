package blaster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient() *Client {
	return NewClient(nil, "test-signer", zerolog.Nop())
}

// slowEchoServer answers every request after delay, tracking the highest
// number of requests it ever saw in flight at once.
func slowEchoServer(delay time.Duration, inFlight, maxInFlight *int32) *httptest.Server {
	var mu sync.Mutex
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(inFlight, 1)
		mu.Lock()
		if n > atomic.LoadInt32(maxInFlight) {
			atomic.StoreInt32(maxInFlight, n)
		}
		mu.Unlock()
		time.Sleep(delay)
		atomic.AddInt32(inFlight, -1)
		w.Header().Set("Content-Type", ContentTypeJSON)
		w.Write([]byte(`{"code":0,"description":"","error":false}`))
	}))
}

func TestDeliverQueuedSerializesSamePeer(t *testing.T) {
	var inFlight, maxInFlight int32
	srv := slowEchoServer(50*time.Millisecond, &inFlight, &maxInFlight)
	defer srv.Close()

	c := newTestClient()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.deliverQueued(context.Background(), srv.URL, ContentTypeJSON, []byte(`{"code":0,"description":"","error":false}`))
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Errorf("max concurrent requests to one peer = %d, want 1 (per-peer queue)", got)
	}
}

func TestDeliverQueuedBoundsGlobalConcurrency(t *testing.T) {
	var inFlight, maxInFlight int32
	srv := slowEchoServer(50*time.Millisecond, &inFlight, &maxInFlight)
	defer srv.Close()

	c := newTestClient()

	peers := []string{srv.URL + "/a", srv.URL + "/b", srv.URL + "/c", srv.URL + "/d", srv.URL + "/e", srv.URL + "/f", srv.URL + "/g", srv.URL + "/h"}
	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			c.deliverQueued(context.Background(), peer, ContentTypeJSON, []byte(`{"code":0,"description":"","error":false}`))
		}(peer)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxInFlight); got > MaxConcurrentCommands {
		t.Errorf("max concurrent outbound requests = %d, want <= %d", got, MaxConcurrentCommands)
	}
}
