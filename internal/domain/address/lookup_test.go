// internal/domain/address/lookup_test.go
package address

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/storefront-gateway/internal/config"
	"github.com/your-org/storefront-gateway/internal/domain/session"
	"github.com/your-org/storefront-gateway/internal/pkg/kv"
	"github.com/your-org/storefront-gateway/internal/pkg/orderingapi"
)

func newLookupEnv(t *testing.T, handler http.Handler) (*Lookup, *session.Store) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{BaseURL: server.URL, Timeout: 5 * time.Second},
		Session:  config.SessionConfig{TTL: time.Hour},
		Address:  config.AddressConfig{DebounceInterval: 5 * time.Millisecond},
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	sessions := session.NewStore(kv.NewMemory(), cfg)
	return NewLookup(orderingapi.NewClient(cfg), sessions, cfg, logger), sessions
}

func writeAddresses(w http.ResponseWriter, streets ...string) {
	addresses := make([]orderingapi.DeliveryAddress, 0, len(streets))
	for _, street := range streets {
		addresses = append(addresses, orderingapi.DeliveryAddress{
			Street: street, City: "London", Postcode: "SW1A 1AA", Country: "GB",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": addresses})
}

func TestSearchReturnsAddresses(t *testing.T) {
	lookup, _ := newLookupEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAddresses(w, "1 High Street", "2 High Street")
	}))
	sess := &session.Session{ID: "sess-1", GuestSessionID: "guest-1"}

	results, err := lookup.Search(context.Background(), sess, "SW1A 1AA")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1 High Street", results[0].Street)
}

func TestSearchRequiresPostcode(t *testing.T) {
	lookup, _ := newLookupEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no backend call expected for an empty postcode")
	}))
	sess := &session.Session{ID: "sess-1"}

	_, err := lookup.Search(context.Background(), sess, "")
	assert.Error(t, err)
}

func TestSearchLatestQueryWins(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int32

	lookup, _ := newLookupEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-release
		}
		writeAddresses(w, "resolved for "+r.URL.Path)
	}))
	sess := &session.Session{ID: "sess-1", GuestSessionID: "guest-1"}

	firstErr := make(chan error, 1)
	go func() {
		_, err := lookup.Search(context.Background(), sess, "SW1A")
		firstErr <- err
	}()

	// Wait for the first request to reach the backend, then issue a newer one.
	<-entered
	results, err := lookup.Search(context.Background(), sess, "SW1A 1AA")
	require.NoError(t, err)
	require.NotEmpty(t, results)

	close(release)
	assert.ErrorIs(t, <-firstErr, ErrSuperseded, "the older in-flight lookup must not surface")
}

func TestSearchCancelledContext(t *testing.T) {
	lookup, _ := newLookupEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAddresses(w, "1 High Street")
	}))
	sess := &session.Session{ID: "sess-1"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := lookup.Search(ctx, sess, "SW1A 1AA")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRememberPersistsLastAddress(t *testing.T) {
	lookup, sessions := newLookupEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	sess := &session.Session{ID: "sess-1", GuestSessionID: "guest-1"}
	require.NoError(t, sessions.Save(context.Background(), sess))

	chosen := orderingapi.DeliveryAddress{Street: "1 High Street", City: "London", Postcode: "SW1A 1AA", Country: "GB"}
	require.NoError(t, lookup.Remember(context.Background(), sess, chosen))

	reloaded, err := sessions.Load(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastAddress)
	assert.Equal(t, "1 High Street", reloaded.LastAddress.Street)
}
