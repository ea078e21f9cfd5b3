// Package lobby implements the two-seat matchmaking unit: seats, readiness,
// game configuration, the queue of upcoming sessions, and experiment
// bookkeeping. All mutating operations on one lobby are serialized by its own
// mutex so independent lobbies never contend.
package lobby

import (
	"errors"
	"fmt"
	"sync"
)

// State enumerates the lobby lifecycle states.
type State string

const (
	// StateWaiting means no session is running; seats and config may change.
	StateWaiting State = "WAITING"
	// StatePlaying means an active game session is bound to this lobby.
	StatePlaying State = "PLAYING"
)

var (
	// ErrLobbyFull is returned when both seats are already occupied.
	ErrLobbyFull = errors.New("lobby is full")
	// ErrNotSeated is returned when an operation targets a client without a seat.
	ErrNotSeated = errors.New("client is not seated in this lobby")
	// ErrAlreadySeated is returned when a seated client joins again.
	ErrAlreadySeated = errors.New("client is already seated in this lobby")
	// ErrQueueMismatch rejects reorders whose id set differs from the queue.
	ErrQueueMismatch = errors.New("session order must contain exactly the queued ids")
	// ErrUnknownEntry is returned when a queue mutation references a missing id.
	ErrUnknownEntry = errors.New("unknown session queue entry")
)

// GameConfig is the currently selected game parameters for the lobby.
type GameConfig struct {
	GameType      string `json:"game_type"`
	DurationMs    int64  `json:"duration_ms"`
	SyncWindowMs  int64  `json:"sync_window_ms"`
	SyncToleranceMs int64 `json:"sync_tolerance_ms"`
	Warmup        bool   `json:"warmup"`
}

// QueueEntry is one pending session definition in the lobby's ordered queue.
type QueueEntry struct {
	ID            string `json:"id"`
	GameType      string `json:"game_type"`
	DurationMs    int64  `json:"duration_ms"`
	SyncWindowMs  int64  `json:"sync_window_ms"`
	SyncToleranceMs int64 `json:"sync_tolerance_ms"`
}

// Snapshot captures a stable view of the lobby state for observers.
type Snapshot struct {
	ID                string       `json:"id"`
	Seats             [2]string    `json:"seats"`
	Ready             [2]bool      `json:"ready"`
	State             State        `json:"state"`
	Config            GameConfig   `json:"config"`
	Queue             []QueueEntry `json:"queue,omitempty"`
	ExperimentRunning bool         `json:"experiment_running"`
	ExperimentID      string       `json:"experiment_id,omitempty"`
}

// Lobby is a two-seat matchmaking unit. The zero seat string means empty.
type Lobby struct {
	mu sync.Mutex

	id     string
	seats  [2]string
	ready  [2]bool
	state  State
	config GameConfig
	queue  []QueueEntry

	experimentRunning bool
	experimentID      string
}

// New constructs a waiting lobby with the provided identifier and config.
func New(id string, config GameConfig) *Lobby {
	return &Lobby{id: id, state: StateWaiting, config: config}
}

// ID returns the lobby identifier.
func (l *Lobby) ID() string {
	if l == nil {
		return ""
	}
	return l.id
}

// AddSeat places the client in the first empty seat.
func (l *Lobby) AddSeat(clientID string) error {
	if l == nil || clientID == "" {
		return ErrNotSeated
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, seat := range l.seats {
		if seat == clientID {
			return ErrAlreadySeated
		}
	}
	//1.- First empty seat wins; joining never touches readiness flags.
	for i := range l.seats {
		if l.seats[i] == "" {
			l.seats[i] = clientID
			return nil
		}
	}
	return ErrLobbyFull
}

// RemoveSeat vacates the client's seat. Removing seat 1 while seat 2 is
// occupied promotes seat 2 to seat 1. Any seat change resets both readiness
// flags.
func (l *Lobby) RemoveSeat(clientID string) error {
	if l == nil {
		return ErrNotSeated
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch clientID {
	case l.seats[0]:
		//1.- Promote the second occupant so seat 1 is always filled first.
		l.seats[0] = l.seats[1]
		l.seats[1] = ""
	case l.seats[1]:
		l.seats[1] = ""
	default:
		return ErrNotSeated
	}
	if clientID == "" {
		return ErrNotSeated
	}
	l.ready[0] = false
	l.ready[1] = false
	return nil
}

// ReplaceSeat swaps one occupant's identity in place, preserving seat order
// and readiness flags. Used when a reconnecting client is issued a fresh id.
func (l *Lobby) ReplaceSeat(previousID, newID string) bool {
	if l == nil || previousID == "" || newID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.seats {
		if l.seats[i] == previousID {
			l.seats[i] = newID
			return true
		}
	}
	return false
}

// ToggleReady flips the readiness flag for the seat matching the client.
func (l *Lobby) ToggleReady(clientID string) error {
	if l == nil {
		return ErrNotSeated
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.seats {
		if l.seats[i] != "" && l.seats[i] == clientID {
			l.ready[i] = !l.ready[i]
			return nil
		}
	}
	return ErrNotSeated
}

// Configure overwrites the selected game parameters. Readiness flags reset
// only when the game type actually changed.
func (l *Lobby) Configure(config GameConfig) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if config.GameType != l.config.GameType {
		l.ready[0] = false
		l.ready[1] = false
	}
	l.config = config
}

// IsReady reports whether both seats are filled and both occupants are ready.
func (l *Lobby) IsReady() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seats[0] != "" && l.seats[1] != "" && l.ready[0] && l.ready[1]
}

// Seats returns the current seat assignments.
func (l *Lobby) Seats() [2]string {
	if l == nil {
		return [2]string{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seats
}

// Occupants returns the non-empty seat holders in seat order.
func (l *Lobby) Occupants() []string {
	seats := l.Seats()
	occupants := make([]string, 0, 2)
	for _, seat := range seats {
		if seat != "" {
			occupants = append(occupants, seat)
		}
	}
	return occupants
}

// Empty reports whether no seat is occupied.
func (l *Lobby) Empty() bool {
	seats := l.Seats()
	return seats[0] == "" && seats[1] == ""
}

// State returns the current lifecycle state.
func (l *Lobby) State() State {
	if l == nil {
		return StateWaiting
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetState transitions the lobby between WAITING and PLAYING.
func (l *Lobby) SetState(state State) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
}

// Config returns the currently selected game parameters.
func (l *Lobby) Config() GameConfig {
	if l == nil {
		return GameConfig{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config
}

// SetExperiment updates the experiment bookkeeping fields.
func (l *Lobby) SetExperiment(running bool, experimentID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.experimentRunning = running
	l.experimentID = experimentID
	l.mu.Unlock()
}

// Experiment reports the experiment bookkeeping fields.
func (l *Lobby) Experiment() (bool, string) {
	if l == nil {
		return false, ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.experimentRunning, l.experimentID
}

// EnqueueSession appends a pending session definition with a fresh id.
func (l *Lobby) EnqueueSession(entry QueueEntry) (QueueEntry, error) {
	if l == nil {
		return QueueEntry{}, errors.New("lobby is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	//1.- Draw an id and refuse to proceed on collision rather than overwrite.
	id, err := NewEntryID()
	if err != nil {
		return QueueEntry{}, err
	}
	for _, existing := range l.queue {
		if existing.ID == id {
			return QueueEntry{}, fmt.Errorf("%w: entry id %q", ErrIDCollision, id)
		}
	}
	entry.ID = id
	l.queue = append(l.queue, entry)
	return entry, nil
}

// RemoveSession deletes the queue entry with the given id.
func (l *Lobby) RemoveSession(entryID string) error {
	if l == nil {
		return ErrUnknownEntry
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, entry := range l.queue {
		if entry.ID == entryID {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownEntry, entryID)
}

// Sessions returns a copy of the pending session queue in order.
func (l *Lobby) Sessions() []QueueEntry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	return append([]QueueEntry(nil), l.queue...)
}

// ReorderSessions replaces the queue order. The submitted id set must match
// the existing set exactly or the queue is left unmodified.
func (l *Lobby) ReorderSessions(order []string) error {
	if l == nil {
		return ErrQueueMismatch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(order) != len(l.queue) {
		return ErrQueueMismatch
	}
	byID := make(map[string]QueueEntry, len(l.queue))
	for _, entry := range l.queue {
		byID[entry.ID] = entry
	}
	reordered := make([]QueueEntry, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		entry, ok := byID[id]
		if !ok || seen[id] {
			return ErrQueueMismatch
		}
		seen[id] = true
		reordered = append(reordered, entry)
	}
	l.queue = reordered
	return nil
}

// DequeueSession pops the head of the queue, if any.
func (l *Lobby) DequeueSession() (QueueEntry, bool) {
	if l == nil {
		return QueueEntry{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return QueueEntry{}, false
	}
	head := l.queue[0]
	l.queue = append([]QueueEntry(nil), l.queue[1:]...)
	return head, true
}

// Snapshot returns a consistent copy of the lobby state.
func (l *Lobby) Snapshot() Snapshot {
	if l == nil {
		return Snapshot{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	snapshot := Snapshot{
		ID:                l.id,
		Seats:             l.seats,
		Ready:             l.ready,
		State:             l.state,
		Config:            l.config,
		ExperimentRunning: l.experimentRunning,
		ExperimentID:      l.experimentID,
	}
	if len(l.queue) > 0 {
		snapshot.Queue = append([]QueueEntry(nil), l.queue...)
	}
	return snapshot
}
