// internal/domain/session/store.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/your-org/storefront-gateway/internal/config"
	"github.com/your-org/storefront-gateway/internal/pkg/kv"
	"github.com/your-org/storefront-gateway/internal/pkg/orderingapi"
)

// Order types supported by the storefront.
const (
	OrderTypeDelivery   = "delivery"
	OrderTypeCollection = "collection"
)

// Session is the per-client storefront state that a browser build keeps in
// local storage: identity mode, selected branch, last delivery address and the
// post-login return URL. Exactly one of Token or GuestSessionID is set.
type Session struct {
	ID               string                       `json:"id"`
	Token            string                       `json:"token,omitempty"`
	UserID           string                       `json:"userId,omitempty"`
	GuestSessionID   string                       `json:"guestSessionId,omitempty"`
	SelectedBranchID string                       `json:"selectedBranchId,omitempty"`
	OrderType        string                       `json:"orderType,omitempty"`
	LastAddress      *orderingapi.DeliveryAddress `json:"lastAddress,omitempty"`
	ReturnURL        string                       `json:"returnUrl,omitempty"`
}

// IsAuthenticated reports whether the session runs in authenticated mode.
func (s *Session) IsAuthenticated() bool {
	return s.Token != ""
}

// Credentials returns the backend credentials for the active session mode.
func (s *Session) Credentials() orderingapi.Credentials {
	if s.IsAuthenticated() {
		return orderingapi.Credentials{Token: s.Token}
	}
	return orderingapi.Credentials{GuestSessionID: s.GuestSessionID}
}

// Store persists sessions in the shared key-value store.
type Store struct {
	kv     kv.Store
	config *config.Config
}

// NewStore creates a new session store
func NewStore(store kv.Store, cfg *config.Config) *Store {
	return &Store{kv: store, config: cfg}
}

func sessionKey(id string) string {
	return fmt.Sprintf("storefront:session:%s", id)
}

// Load retrieves a session by id, returning a fresh empty session when none
// exists yet.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id required")
	}

	data, err := s.kv.Get(ctx, sessionKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return &Session{ID: id, OrderType: OrderTypeCollection}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	sess.ID = id
	return &sess, nil
}

// Save writes the session back with the configured TTL.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.kv.Set(ctx, sessionKey(sess.ID), string(data), s.config.Session.TTL); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// EnsureGuest mints a guest cart identity when the session has neither a token
// nor an existing guest id, and persists it.
func (s *Store) EnsureGuest(ctx context.Context, sess *Session) error {
	if sess.IsAuthenticated() || sess.GuestSessionID != "" {
		return nil
	}
	sess.GuestSessionID = uuid.New().String()
	return s.Save(ctx, sess)
}

// Login switches the session to authenticated mode and returns the guest
// session id it replaced so the caller can merge the guest cart. The guest id
// is invalidated here regardless of merge outcome.
func (s *Store) Login(ctx context.Context, sess *Session, token, userID string) (previousGuestID string, err error) {
	previousGuestID = sess.GuestSessionID
	sess.Token = token
	sess.UserID = userID
	sess.GuestSessionID = ""
	sess.ReturnURL = ""
	if err := s.Save(ctx, sess); err != nil {
		return "", err
	}
	return previousGuestID, nil
}

// Logout clears the token and the last delivery address, returning the
// session to guest-capable state.
func (s *Store) Logout(ctx context.Context, sess *Session) error {
	sess.Token = ""
	sess.UserID = ""
	sess.LastAddress = nil
	return s.Save(ctx, sess)
}

// SelectBranch records the branch all cart operations are scoped to.
func (s *Store) SelectBranch(ctx context.Context, sess *Session, branchID string) error {
	sess.SelectedBranchID = branchID
	return s.Save(ctx, sess)
}

// SetOrderType records delivery or collection.
func (s *Store) SetOrderType(ctx context.Context, sess *Session, orderType string) error {
	if orderType != OrderTypeDelivery && orderType != OrderTypeCollection {
		return fmt.Errorf("invalid order type %q", orderType)
	}
	sess.OrderType = orderType
	return s.Save(ctx, sess)
}

// SetLastAddress persists the last used delivery address.
func (s *Store) SetLastAddress(ctx context.Context, sess *Session, address orderingapi.DeliveryAddress) error {
	sess.LastAddress = &address
	return s.Save(ctx, sess)
}

// SetReturnURL records where to send the user after authentication.
func (s *Store) SetReturnURL(ctx context.Context, sess *Session, returnURL string) error {
	sess.ReturnURL = returnURL
	return s.Save(ctx, sess)
}
