package api

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/knxsync/internal/auth"
)

const (
	defaultAccessTokenTTL = 15 * time.Minute

	// ticketTTL bounds the gap between POST /auth/ws-ticket and the upgrade.
	ticketTTL = time.Minute
)

var errTokenInvalid = errors.New("api: invalid token")

type tokenRequest struct {
	APIKey string `json:"api_key"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleToken exchanges a configured API key for a bearer token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	subject, ok := s.matchAPIKey(req.APIKey)
	if !ok {
		s.logger.Warn("rejected API key", "request_id", requestID(r))
		writeUnauthorized(w, "invalid API key")
		return
	}

	ttl := s.secCfg.JWT.TokenTTL(defaultAccessTokenTTL)
	signed, err := signToken(subject, []byte(s.secCfg.JWT.Secret), time.Now(), ttl)
	if err != nil {
		s.logger.Error("failed to sign access token", "error", err, "request_id", requestID(r))
		writeInternalError(w, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(ttl.Seconds()),
	})
}

// matchAPIKey returns "api-key-<n>" for the n-th configured key matching
// key. Tokens carry that name, never the key.
func (s *Server) matchAPIKey(key string) (subject string, ok bool) {
	if key == "" {
		return "", false
	}
	position, err := auth.Match(key, s.secCfg.APIKeys)
	if err != nil {
		s.logger.Error("configured API key is unusable", "error", err)
	}
	if position == 0 {
		return "", false
	}
	return fmt.Sprintf("api-key-%d", position), true
}

func signToken(subject string, secret []byte, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// parseToken accepts only unexpired HS256 tokens with a subject.
func parseToken(raw, secret string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTokenInvalid, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", errTokenInvalid)
	}
	return claims, nil
}

// handleWSTicket issues a single-use ticket for GET /ws?ticket=, so the
// bearer token never appears in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // set by requireToken
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(subject),
		"expires_in": int(ticketTTL.Seconds()),
	})
}

type ticketEntry struct {
	subject   string
	expiresAt time.Time
}

// ticketStore holds issued WebSocket tickets until redeemed or expired.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

func (ts *ticketStore) issue(subject string) string {
	ticket := rand.Text()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.tickets[ticket] = ticketEntry{subject: subject, expiresAt: time.Now().Add(ticketTTL)}
	return ticket
}

// redeem consumes ticket. An expired ticket is consumed and rejected.
func (ts *ticketStore) redeem(ticket string) (ticketEntry, bool) {
	ts.mu.Lock()
	entry, ok := ts.tickets[ticket]
	delete(ts.tickets, ticket)
	ts.mu.Unlock()
	return entry, ok && time.Now().Before(entry.expiresAt)
}

func (ts *ticketStore) cleanExpired() {
	now := time.Now()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for ticket, entry := range ts.tickets {
		if !now.Before(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

func (ts *ticketStore) cleanLoop(ctx context.Context) {
	tick := time.NewTicker(ticketTTL)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			ts.cleanExpired()
		}
	}
}
