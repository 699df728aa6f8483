package worker

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrOwnershipTakenOver is returned to a mutating request whose tab token is
// no longer the latest for its session.
var ErrOwnershipTakenOver = errors.New("ownership taken over by another tab")

// TokenBook holds the latest tab token per session. Ownership is optimistic:
// the newest load wins and older tabs are refused on their next mutation.
type TokenBook struct {
	mu     sync.Mutex
	tokens map[string]string
}

// NewTokenBook returns an empty book.
func NewTokenBook() *TokenBook {
	return &TokenBook{tokens: make(map[string]string)}
}

// Issue generates and records a fresh token for sessionID.
func (b *TokenBook) Issue(sessionID string) string {
	token := uuid.NewString()
	b.mu.Lock()
	b.tokens[sessionID] = token
	b.mu.Unlock()
	return token
}

// Check returns ErrOwnershipTakenOver unless token is the latest issued for
// sessionID. A session without any token accepts every caller.
func (b *TokenBook) Check(sessionID, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	latest, ok := b.tokens[sessionID]
	if !ok || latest == token {
		return nil
	}
	return ErrOwnershipTakenOver
}

// Forget drops the token of sessionID.
func (b *TokenBook) Forget(sessionID string) {
	b.mu.Lock()
	delete(b.tokens, sessionID)
	b.mu.Unlock()
}
