// internal/domain/address/lookup.go
package address

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-gateway/internal/config"
	"github.com/your-org/storefront-gateway/internal/domain/session"
	"github.com/your-org/storefront-gateway/internal/pkg/orderingapi"
)

// ErrSuperseded is returned when a newer lookup for the same session started
// before this one finished. The stale result must not reach the caller.
var ErrSuperseded = errors.New("address lookup superseded by a newer query")

// Lookup resolves postcodes to candidate addresses, debouncing rapid queries
// per session so only the latest one issues a backend call and only the
// latest response wins.
type Lookup struct {
	api      *orderingapi.Client
	sessions *session.Store
	config   *config.Config
	logger   *logrus.Logger

	mu     sync.Mutex
	latest map[string]uint64
}

// NewLookup creates a new address lookup service
func NewLookup(api *orderingapi.Client, sessions *session.Store, cfg *config.Config, logger *logrus.Logger) *Lookup {
	return &Lookup{
		api:      api,
		sessions: sessions,
		config:   cfg,
		logger:   logger,
		latest:   make(map[string]uint64),
	}
}

// Search debounces and runs a postcode lookup. A fast-typing user produces
// one backend call for the last query; earlier in-flight queries resolve to
// ErrSuperseded instead of overwriting newer results.
func (l *Lookup) Search(ctx context.Context, sess *session.Session, postcode string) ([]orderingapi.DeliveryAddress, error) {
	if postcode == "" {
		return nil, fmt.Errorf("postcode required")
	}

	seq := l.nextSeq(sess.ID)

	timer := time.NewTimer(l.config.Address.DebounceInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	if !l.isLatest(sess.ID, seq) {
		return nil, ErrSuperseded
	}

	results, err := l.api.LookupPostcode(ctx, sess.Credentials(), postcode)
	if err != nil {
		return nil, fmt.Errorf("failed to look up postcode: %w", err)
	}

	// A newer query may have started while this request was in flight.
	if !l.isLatest(sess.ID, seq) {
		return nil, ErrSuperseded
	}
	return results, nil
}

// Remember persists the chosen address as the session's last used delivery
// address.
func (l *Lookup) Remember(ctx context.Context, sess *session.Session, addr orderingapi.DeliveryAddress) error {
	return l.sessions.SetLastAddress(ctx, sess, addr)
}

func (l *Lookup) nextSeq(sessionID string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latest[sessionID]++
	return l.latest[sessionID]
}

func (l *Lookup) isLatest(sessionID string, seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest[sessionID] == seq
}
