// Package lowlatency serves the unreliable channel: compact datagrams over
// UDP carrying gameplay actions, clock probes, and heartbeats. A source
// address only becomes trusted after the client presents a one-time binding
// code issued on its control channel.
package lowlatency

import (
	"sync"

	"github.com/google/uuid"
)

// Binder issues and redeems one-time binding codes. A code is consumed on
// first use so a replayed handshake can never rebind a stale address.
type Binder struct {
	mu    sync.Mutex
	codes map[string]string
}

// NewBinder returns an empty code table.
func NewBinder() *Binder {
	return &Binder{codes: make(map[string]string)}
}

// Issue mints a fresh code bound to the client identity. Issuing again for
// the same client invalidates nothing; unused codes simply never redeem.
func (b *Binder) Issue(clientID string) string {
	code := uuid.NewString()
	b.mu.Lock()
	b.codes[code] = clientID
	b.mu.Unlock()
	return code
}

// Consume atomically looks up and deletes the code, returning the client
// identity it was issued for.
func (b *Binder) Consume(code string) (string, bool) {
	if b == nil || code == "" {
		return "", false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	clientID, ok := b.codes[code]
	if !ok {
		return "", false
	}
	//1.- Find-and-delete under one lock; two racing redeemers cannot both win.
	delete(b.codes, code)
	return clientID, true
}

// Revoke drops every outstanding code issued for the client.
func (b *Binder) Revoke(clientID string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for code, owner := range b.codes {
		if owner == clientID {
			delete(b.codes, code)
		}
	}
}
