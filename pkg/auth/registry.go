// Package auth issues and validates per-client secret tokens.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/absmach/flotilla/pkg/errors"
)

const tokenBytes = 16

type record struct {
	token     string
	firstSeen time.Time
	lastSeen  time.Time
}

// Registry holds issued tokens in memory. It is not safe for
// concurrent use on its own; callers serialize access.
type Registry struct {
	clients map[string]*record
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*record),
	}
}

// Issue generates a token for clientID. Issuing twice for the same
// client fails; the first token stays valid.
func (r *Registry) Issue(clientID string) (string, error) {
	if clientID == "" {
		return "", errors.ErrEmptyKey
	}
	if _, ok := r.clients[clientID]; ok {
		return "", errors.ErrDuplicateClient
	}

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)

	now := time.Now()
	r.clients[clientID] = &record{
		token:     token,
		firstSeen: now,
		lastSeen:  now,
	}

	return token, nil
}

// Verify reports whether token belongs to clientID. The comparison is
// constant time; the token never appears in errors.
func (r *Registry) Verify(clientID, token string) bool {
	rec, ok := r.clients[clientID]
	if !ok || token == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(rec.token), []byte(token)) != 1 {
		return false
	}
	rec.lastSeen = time.Now()

	return true
}

func (r *Registry) IsRegistered(clientID string) bool {
	_, ok := r.clients[clientID]

	return ok
}

// Revoke removes a client's token. The client record is kept so the
// id cannot be re-registered.
func (r *Registry) Revoke(clientID string) bool {
	rec, ok := r.clients[clientID]
	if !ok {
		return false
	}
	rec.token = ""

	return true
}

func (r *Registry) FirstSeen(clientID string) (time.Time, bool) {
	rec, ok := r.clients[clientID]
	if !ok {
		return time.Time{}, false
	}

	return rec.firstSeen, true
}
