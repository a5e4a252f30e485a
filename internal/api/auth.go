package api

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// defaultTicketTTL is used when no ticket lifetime is configured.
const defaultTicketTTL = 60 * time.Second

func (s *Server) ticketTTL() time.Duration {
	if ttl := s.secCfg.GetTicketTTL(); ttl > 0 {
		return ttl
	}
	return defaultTicketTTL
}

// handleWSTicket issues a single-use WebSocket authentication ticket.
//
// The ticket is a short-lived HS256 JWT signed with the API token. The
// client passes it as ?ticket= when opening a WebSocket, so the long-lived
// token never appears in a URL. Each ticket is consumed on first use.
func (s *Server) handleWSTicket(w http.ResponseWriter, _ *http.Request) {
	ttl := s.ticketTTL()
	expiresAt := time.Now().Add(ttl)

	claims := jwt.MapClaims{
		"jti": uuid.NewString(),
		"iat": time.Now().Unix(),
		"exp": expiresAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secCfg.APIToken))
	if err != nil {
		writeInternalError(w, "failed to generate ticket")
		return
	}

	s.ticketsMu.Lock()
	s.tickets[claims["jti"].(string)] = expiresAt
	s.ticketsMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     signed,
		"expires_in": int(ttl.Seconds()),
	})
}

// validateTicket verifies a ticket's signature and expiry, then consumes
// it. A ticket is only valid once.
func (s *Server) validateTicket(ticket string) bool {
	parsed, err := jwt.Parse(ticket, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.secCfg.APIToken), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return false
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return false
	}

	s.ticketsMu.Lock()
	defer s.ticketsMu.Unlock()

	expiresAt, pending := s.tickets[jti]
	if !pending {
		return false
	}
	delete(s.tickets, jti)
	return time.Now().Before(expiresAt)
}

// cleanExpiredTickets drops unredeemed tickets past their expiry.
func (s *Server) cleanExpiredTickets() {
	s.ticketsMu.Lock()
	defer s.ticketsMu.Unlock()

	now := time.Now()
	for jti, expiresAt := range s.tickets {
		if now.After(expiresAt) {
			delete(s.tickets, jti)
		}
	}
}

// cleanTicketsLoop runs cleanExpiredTickets periodically until the context
// is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(s.ticketTTL())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanExpiredTickets()
		}
	}
}
