// Package game defines the session abstraction bound to exactly two clients:
// per-title action routing, asymmetric role payloads, and optional wall-clock
// time limits.
package game

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"duoplay/server/internal/logging"
	"duoplay/server/internal/protocol"
)

// Game type identifiers selectable through lobby configuration.
const (
	TypeWaterRipples = "WATER_RIPPLES"
	TypeSandGarden   = "SAND_GARDEN"
	TypeAirHockey    = "AIR_HOCKEY"
)

// End reasons handed to the expiry callback and recorded in notifications.
const (
	EndReasonRequested = "REQUESTED"
	EndReasonTimeout   = "TIMEOUT"
)

var (
	// ErrUnknownGameType rejects session construction for unregistered titles.
	ErrUnknownGameType = errors.New("unknown game type")
	// ErrNotParticipant rejects actions from clients outside the session.
	ErrNotParticipant = errors.New("client is not a participant of this session")
	// ErrSessionEnded rejects actions arriving after the session terminated.
	ErrSessionEnded = errors.New("session has ended")
)

// Sender delivers a datagram to a bound client over the low-latency channel.
type Sender interface {
	SendTo(clientID string, d *protocol.Datagram) error
}

// Session is one timed instance of gameplay bound to two clients.
type Session interface {
	LobbyID() string
	Participants() [2]string
	StartEpochMs() int64
	// StartPayload returns the title-specific start payload for one client;
	// asymmetric titles differentiate roles here.
	StartPayload(clientID string) []string
	HandleAction(actorID string, d *protocol.Datagram) error
	// Start records the shared epoch and arms the optional time limit.
	Start(epochMs int64)
	Pause()
	Resume()
	// End terminates the session and cancels any pending time limit. It is
	// idempotent so the timeout path and an explicit request cannot race into
	// a duplicate end.
	End(reason string)
	// ReplaceParticipant swaps one participant's identity in place, keeping
	// role assignments attached to the seat rather than to the old id.
	ReplaceParticipant(previousID, newID string) bool
}

// Config carries everything a title constructor needs.
type Config struct {
	LobbyID    string
	Players    [2]string
	DurationMs int64
	Warmup     bool
	Sender     Sender
	Logger     *logging.Logger
	// OnExpire is invoked exactly once if the time limit elapses before an
	// explicit end request arrives.
	OnExpire func(reason string)
}

// Constructor builds a title-specific session from the shared configuration.
type Constructor func(Config) (Session, error)

// Factory maps game types to constructors. Adding a title means adding one
// registration, not touching any dispatcher.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewFactory returns a factory with the built-in titles registered.
func NewFactory() *Factory {
	f := &Factory{constructors: make(map[string]Constructor)}
	f.Register(TypeWaterRipples, func(cfg Config) (Session, error) {
		return newRoutedSession(cfg, routeBroadcast, nil), nil
	})
	f.Register(TypeSandGarden, func(cfg Config) (Session, error) {
		return newRoutedSession(cfg, routeBroadcast, nil), nil
	})
	f.Register(TypeAirHockey, func(cfg Config) (Session, error) {
		//1.- Seat order decides the asymmetric paddle roles for this title.
		roles := map[string]string{cfg.Players[0]: "left", cfg.Players[1]: "right"}
		return newRoutedSession(cfg, routeMirror, roles), nil
	})
	return f
}

// Register installs or replaces the constructor for a game type.
func (f *Factory) Register(gameType string, ctor Constructor) {
	if f == nil || gameType == "" || ctor == nil {
		return
	}
	f.mu.Lock()
	f.constructors[gameType] = ctor
	f.mu.Unlock()
}

// New constructs a session for the configured game type. Unknown types are a
// configuration error, never a silent default.
func (f *Factory) New(gameType string, cfg Config) (Session, error) {
	if f == nil {
		return nil, ErrUnknownGameType
	}
	f.mu.RLock()
	ctor, ok := f.constructors[gameType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGameType, gameType)
	}
	return ctor(cfg)
}

// routePolicy decides the recipients of one gameplay action.
type routePolicy func(players [2]string, actorID string) []string

// routeBroadcast forwards the action verbatim to both participants.
func routeBroadcast(players [2]string, _ string) []string {
	return []string{players[0], players[1]}
}

// routeMirror forwards the action only to the non-actor.
func routeMirror(players [2]string, actorID string) []string {
	if actorID == players[0] {
		return []string{players[1]}
	}
	return []string{players[0]}
}

// routedSession is the concrete session shared by every built-in title.
type routedSession struct {
	mu sync.Mutex

	lobbyID  string
	players  [2]string
	route    routePolicy
	roles    map[string]string
	sender   Sender
	log      *logging.Logger
	onExpire func(string)

	durationMs int64
	epochMs    int64
	timer      *time.Timer
	deadline   time.Time
	remaining  time.Duration
	paused     bool
	ended      bool
}

func newRoutedSession(cfg Config, route routePolicy, roles map[string]string) *routedSession {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.L()
	}
	return &routedSession{
		lobbyID:    cfg.LobbyID,
		players:    cfg.Players,
		route:      route,
		roles:      roles,
		sender:     cfg.Sender,
		log:        logger,
		onExpire:   cfg.OnExpire,
		durationMs: cfg.DurationMs,
	}
}

func (s *routedSession) LobbyID() string { return s.lobbyID }

func (s *routedSession) Participants() [2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.players
}

func (s *routedSession) ReplaceParticipant(previousID, newID string) bool {
	if s == nil || previousID == "" || newID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.players {
		if s.players[i] == previousID {
			s.players[i] = newID
			if role, ok := s.roles[previousID]; ok {
				delete(s.roles, previousID)
				s.roles[newID] = role
			}
			return true
		}
	}
	return false
}

func (s *routedSession) StartEpochMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epochMs
}

func (s *routedSession) StartPayload(clientID string) []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[clientID]
	if !ok {
		return nil
	}
	return []string{"role=" + role}
}

func (s *routedSession) Start(epochMs int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochMs = epochMs
	//1.- Arm the time limit only for titles configured with a finite duration.
	if s.durationMs > 0 {
		s.remaining = time.Duration(s.durationMs) * time.Millisecond
		s.armTimerLocked()
	}
}

func (s *routedSession) armTimerLocked() {
	if s.remaining <= 0 {
		return
	}
	s.deadline = time.Now().Add(s.remaining)
	s.timer = time.AfterFunc(s.remaining, s.expire)
}

func (s *routedSession) expire() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	callback := s.onExpire
	s.mu.Unlock()
	//1.- Route the timeout through the same end path as an explicit request.
	if callback != nil {
		callback(EndReasonTimeout)
	}
}

func (s *routedSession) Pause() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.ended {
		return
	}
	s.paused = true
	if s.timer == nil {
		return
	}
	//1.- Capture the unexpired remainder so resume can re-arm precisely.
	if s.timer.Stop() {
		s.remaining = time.Until(s.deadline)
		s.timer = nil
	}
}

func (s *routedSession) Resume() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused || s.ended {
		return
	}
	s.paused = false
	s.armTimerLocked()
}

func (s *routedSession) End(reason string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended && s.timer == nil {
		return
	}
	s.ended = true
	//1.- Cancel the pending limit so a timer cannot fire a duplicate end.
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *routedSession) HandleAction(actorID string, d *protocol.Datagram) error {
	if s == nil || d == nil {
		return errors.New("nil session or datagram")
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	players := s.players
	s.mu.Unlock()

	if actorID != players[0] && actorID != players[1] {
		return fmt.Errorf("%w: %q", ErrNotParticipant, actorID)
	}
	//1.- Resolve recipients through the title's routing policy and relay.
	for _, recipient := range s.route(players, actorID) {
		if s.sender == nil {
			continue
		}
		if err := s.sender.SendTo(recipient, d); err != nil {
			//2.- Sends on the unreliable channel are best effort; log and move on.
			s.log.Debug("action relay failed",
				logging.String("recipient", recipient),
				logging.String("type", d.Type),
				logging.Error(err))
		}
	}
	return nil
}
