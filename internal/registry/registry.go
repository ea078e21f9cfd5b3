// Package registry tracks connected clients by identity, control connection,
// and low-latency transport address, and evicts clients whose liveness signal
// has lapsed.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"duoplay/server/internal/protocol"
)

// ErrUnknownClient is returned when a lookup or mutation targets an id that is
// not registered.
var ErrUnknownClient = errors.New("unknown client")

// Conn is the handle a client registry entry keeps to its control connection.
type Conn interface {
	// Push writes a server-initiated message to the client.
	Push(msg *protocol.Message) error
	// Close tears down the underlying connection.
	Close() error
}

// Client is one connected participant. The address stays nil until the
// low-latency binding handshake completes.
type Client struct {
	ID       string
	Conn     Conn
	Addr     *net.UDPAddr
	LastSeen time.Time
}

// Option configures optional Registry behaviour at construction time.
type Option func(*Registry)

// WithClock injects a deterministic clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

// Registry owns the three client indexes. All three are mutated atomically
// under one lock so a packet can never resolve to a stale entry.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]*Client
	byConn    map[Conn]*Client
	byAddr    map[string]*Client
	threshold time.Duration
	now       func() time.Time
}

// New constructs a registry evicting clients silent for longer than threshold.
func New(threshold time.Duration, opts ...Option) *Registry {
	reg := &Registry{
		byID:      make(map[string]*Client),
		byConn:    make(map[Conn]*Client),
		byAddr:    make(map[string]*Client),
		threshold: threshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	return reg
}

// Register creates an entry with a fresh id and no bound address.
func (r *Registry) Register(conn Conn) *Client {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	//1.- Draw ids until one misses the live set; collisions are vanishingly rare
	// but a silent overwrite would orphan a connected client.
	id := newClientID()
	for _, taken := r.byID[id]; taken; _, taken = r.byID[id] {
		id = newClientID()
	}
	client := &Client{ID: id, Conn: conn, LastSeen: r.now()}
	r.byID[id] = client
	if conn != nil {
		r.byConn[conn] = client
	}
	return client
}

// Adopt inserts a client that already carries an identity, used when a
// returning participant reclaims an id through FORCE_ENTER.
func (r *Registry) Adopt(id string, conn Conn) (*Client, error) {
	if r == nil {
		return nil, ErrUnknownClient
	}
	if id == "" {
		return nil, errors.New("client id must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byID[id]; taken {
		return nil, errors.New("client id already registered")
	}
	client := &Client{ID: id, Conn: conn, LastSeen: r.now()}
	r.byID[id] = client
	if conn != nil {
		r.byConn[conn] = client
	}
	return client, nil
}

// LookupByID resolves a client by its stable identifier.
func (r *Registry) LookupByID(id string) (*Client, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.byID[id]
	return client, ok
}

// LookupByConn resolves a client by its control connection handle.
func (r *Registry) LookupByConn(conn Conn) (*Client, bool) {
	if r == nil || conn == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.byConn[conn]
	return client, ok
}

// LookupByAddr resolves a client by its bound low-latency address.
func (r *Registry) LookupByAddr(addr *net.UDPAddr) (*Client, bool) {
	if r == nil || addr == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.byAddr[addr.String()]
	return client, ok
}

// BindAddress sets or overwrites the client's transport address, invalidating
// any previous address mapping in the same critical section.
func (r *Registry) BindAddress(clientID string, addr *net.UDPAddr) error {
	if r == nil {
		return ErrUnknownClient
	}
	if addr == nil {
		return errors.New("address must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.byID[clientID]
	if !ok {
		return ErrUnknownClient
	}
	//1.- Drop the stale address key before installing the new one so no window
	// exists where both resolve.
	if client.Addr != nil {
		delete(r.byAddr, client.Addr.String())
	}
	client.Addr = addr
	r.byAddr[addr.String()] = client
	return nil
}

// RecordLiveness stamps the authoritative heartbeat time for the client.
func (r *Registry) RecordLiveness(clientID string) error {
	if r == nil {
		return ErrUnknownClient
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.byID[clientID]
	if !ok {
		return ErrUnknownClient
	}
	client.LastSeen = r.now()
	return nil
}

// Remove deletes every index entry for the client.
func (r *Registry) Remove(clientID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(clientID)
}

func (r *Registry) removeLocked(clientID string) {
	client, ok := r.byID[clientID]
	if !ok {
		return
	}
	delete(r.byID, clientID)
	if client.Conn != nil {
		delete(r.byConn, client.Conn)
	}
	if client.Addr != nil {
		delete(r.byAddr, client.Addr.String())
	}
}

// LiveClientIDs returns the sorted ids of live clients. As a side effect it
// sweeps entries whose last liveness stamp is older than the threshold and
// returns the evicted ids so callers can cascade cleanup.
func (r *Registry) LiveClientIDs() (live, evicted []string) {
	if r == nil {
		return nil, nil
	}
	r.mu.Lock()
	cutoff := r.now().Add(-r.threshold)
	for id, client := range r.byID {
		if client.LastSeen.Before(cutoff) {
			evicted = append(evicted, id)
			continue
		}
		live = append(live, id)
	}
	var stale []Conn
	for _, id := range evicted {
		if client := r.byID[id]; client != nil && client.Conn != nil {
			stale = append(stale, client.Conn)
		}
		r.removeLocked(id)
	}
	r.mu.Unlock()
	//1.- An evicted client's control connection is dead weight; closing it is
	// the disconnect signal the silent peer never sent.
	for _, conn := range stale {
		_ = conn.Close()
	}
	//2.- Sort both sets so callers and tests see deterministic output.
	sort.Strings(live)
	sort.Strings(evicted)
	return live, evicted
}

// Size reports the number of registered clients.
func (r *Registry) Size() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func newClientID() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format("150405.000")))[:8]
	}
	return hex.EncodeToString(buf[:])
}
