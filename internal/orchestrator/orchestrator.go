// Package orchestrator is the single authority over lobbies and game
// sessions. It validates every control-channel request against current state,
// serializes mutations, and emits lifecycle notifications back over each
// client's control connection. Locks are held only for in-memory mutations,
// never across a network send.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"duoplay/server/internal/game"
	"duoplay/server/internal/journal"
	"duoplay/server/internal/lobby"
	"duoplay/server/internal/logging"
	"duoplay/server/internal/protocol"
	"duoplay/server/internal/registry"

	"github.com/google/uuid"
)

var (
	// ErrUnknownLobby is returned for requests referencing a missing lobby.
	ErrUnknownLobby = errors.New("unknown lobby")
	// ErrNotInLobby is returned when a client operation requires a seat.
	ErrNotInLobby = errors.New("client is not in a lobby")
	// ErrLobbyNotReady rejects a start on a lobby that is not fully ready.
	ErrLobbyNotReady = errors.New("lobby is not ready")
	// ErrAlreadyPlaying rejects a start while a session is active.
	ErrAlreadyPlaying = errors.New("lobby already has an active session")
	// ErrNoActiveSession rejects session operations without a running session.
	ErrNoActiveSession = errors.New("no active session for this lobby")
	// ErrNotInSession rejects gameplay actions from unmapped clients.
	ErrNotInSession = errors.New("client is not mapped to an active session")
)

// DisconnectObserver is notified after a client's associations are torn down.
type DisconnectObserver func(clientID string)

// Option configures optional Orchestrator behaviour at construction time.
type Option func(*Orchestrator)

// WithJournal wires the lifecycle journal; a nil journal disables recording.
func WithJournal(j *journal.Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithObserver appends an external lifecycle observer.
func WithObserver(observer DisconnectObserver) Option {
	return func(o *Orchestrator) {
		if observer != nil {
			o.observers = append(o.observers, observer)
		}
	}
}

// EpochSource produces the shared epoch for a session start.
type EpochSource interface {
	SharedEpoch(ctx context.Context) int64
}

// Revoker invalidates outstanding binding codes for a departed client.
type Revoker interface {
	Revoke(clientID string)
}

// Orchestrator owns the lobby and session tables.
type Orchestrator struct {
	mu sync.Mutex

	log      *logging.Logger
	registry *registry.Registry
	factory  *game.Factory
	epochs   EpochSource
	journal  *journal.Journal
	sender   game.Sender
	revoker  Revoker

	lobbies       map[string]*lobby.Lobby
	sessions      map[string]game.Session
	clientLobby   map[string]string
	clientSession map[string]string

	observers []DisconnectObserver
}

// New constructs an orchestrator over the provided collaborators.
func New(log *logging.Logger, reg *registry.Registry, factory *game.Factory, epochs EpochSource, opts ...Option) *Orchestrator {
	if log == nil {
		log = logging.L()
	}
	o := &Orchestrator{
		log:           log,
		registry:      reg,
		factory:       factory,
		epochs:        epochs,
		lobbies:       make(map[string]*lobby.Lobby),
		sessions:      make(map[string]game.Session),
		clientLobby:   make(map[string]string),
		clientSession: make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// SetSender wires the low-latency outbound path once the UDP handler exists.
func (o *Orchestrator) SetSender(sender game.Sender) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.sender = sender
	o.mu.Unlock()
}

// SetRevoker wires binding-code invalidation for departed clients.
func (o *Orchestrator) SetRevoker(revoker Revoker) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.revoker = revoker
	o.mu.Unlock()
}

// push is a pending notification resolved and delivered outside the lock.
type push struct {
	clientID string
	msg      *protocol.Message
}

// deliver sends queued notifications best effort; a peer that is already gone
// must never fail the operation that queued the push.
func (o *Orchestrator) deliver(pushes []push) {
	for _, p := range pushes {
		client, ok := o.registry.LookupByID(p.clientID)
		if !ok || client.Conn == nil {
			continue
		}
		if err := client.Conn.Push(p.msg); err != nil {
			o.log.Debug("notification dropped",
				logging.String("client_id", p.clientID),
				logging.String("type", p.msg.Type),
				logging.Error(err))
		}
	}
}

func (o *Orchestrator) record(eventType string, fields map[string]string) {
	if err := o.journal.Event(eventType, fields); err != nil {
		o.log.Warn("journal write failed", logging.String("event", eventType), logging.Error(err))
	}
}

// CreateLobby creates a lobby with a fresh 4-character id and seats the
// creator. An id collision against a live lobby is a fatal configuration
// error, never a silent overwrite.
func (o *Orchestrator) CreateLobby(clientID string, config lobby.GameConfig) (lobby.Snapshot, error) {
	if o == nil {
		return lobby.Snapshot{}, ErrUnknownLobby
	}
	if _, ok := o.registry.LookupByID(clientID); !ok {
		return lobby.Snapshot{}, registry.ErrUnknownClient
	}
	o.mu.Lock()
	if existing, seated := o.clientLobby[clientID]; seated {
		o.mu.Unlock()
		return lobby.Snapshot{}, fmt.Errorf("client already in lobby %q", existing)
	}
	id, err := lobby.NewLobbyID()
	if err != nil {
		o.mu.Unlock()
		return lobby.Snapshot{}, err
	}
	if _, taken := o.lobbies[id]; taken {
		o.mu.Unlock()
		return lobby.Snapshot{}, fmt.Errorf("%w: lobby id %q", lobby.ErrIDCollision, id)
	}
	created := lobby.New(id, config)
	o.lobbies[id] = created
	o.clientLobby[clientID] = id
	o.mu.Unlock()

	if err := created.AddSeat(clientID); err != nil {
		return lobby.Snapshot{}, err
	}
	o.record("LOBBY_CREATED", map[string]string{"lobby_id": id, "client_id": clientID, "game_type": config.GameType})
	return created.Snapshot(), nil
}

// CreateEmptyLobby opens a lobby with no occupants, for operator tooling that
// prepares lobbies ahead of the participants arriving.
func (o *Orchestrator) CreateEmptyLobby(config lobby.GameConfig) (lobby.Snapshot, error) {
	if o == nil {
		return lobby.Snapshot{}, ErrUnknownLobby
	}
	o.mu.Lock()
	id, err := lobby.NewLobbyID()
	if err != nil {
		o.mu.Unlock()
		return lobby.Snapshot{}, err
	}
	if _, taken := o.lobbies[id]; taken {
		o.mu.Unlock()
		return lobby.Snapshot{}, fmt.Errorf("%w: lobby id %q", lobby.ErrIDCollision, id)
	}
	created := lobby.New(id, config)
	o.lobbies[id] = created
	o.mu.Unlock()

	o.record("LOBBY_CREATED", map[string]string{"lobby_id": id, "game_type": config.GameType})
	return created.Snapshot(), nil
}

// JoinLobby seats the client in the lobby and notifies the other occupant.
func (o *Orchestrator) JoinLobby(clientID, lobbyID string) (lobby.Snapshot, error) {
	if o == nil {
		return lobby.Snapshot{}, ErrUnknownLobby
	}
	if _, ok := o.registry.LookupByID(clientID); !ok {
		return lobby.Snapshot{}, registry.ErrUnknownClient
	}
	o.mu.Lock()
	target, ok := o.lobbies[lobbyID]
	if !ok {
		o.mu.Unlock()
		return lobby.Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownLobby, lobbyID)
	}
	if existing, seated := o.clientLobby[clientID]; seated && existing != lobbyID {
		o.mu.Unlock()
		return lobby.Snapshot{}, fmt.Errorf("client already in lobby %q", existing)
	}
	//1.- Seat while still holding the table lock so two concurrent joins by
	// the same client cannot land it in two lobbies.
	if err := target.AddSeat(clientID); err != nil {
		o.mu.Unlock()
		return lobby.Snapshot{}, err
	}
	o.clientLobby[clientID] = lobbyID
	o.mu.Unlock()

	//2.- Tell the existing occupant who arrived; the joiner gets the response.
	var pushes []push
	for _, occupant := range target.Occupants() {
		if occupant == clientID {
			continue
		}
		pushes = append(pushes, push{occupant, &protocol.Message{
			Type:     protocol.TypeJoinLobby,
			Success:  true,
			PlayerID: clientID,
			LobbyID:  lobbyID,
			GameType: target.Config().GameType,
		}})
	}
	o.deliver(pushes)
	o.record("LOBBY_JOINED", map[string]string{"lobby_id": lobbyID, "client_id": clientID})
	return target.Snapshot(), nil
}

// LeaveLobby vacates the client's seat; an active session is force-ended.
func (o *Orchestrator) LeaveLobby(clientID string) error {
	if o == nil {
		return ErrNotInLobby
	}
	o.mu.Lock()
	lobbyID, ok := o.clientLobby[clientID]
	if !ok {
		o.mu.Unlock()
		return ErrNotInLobby
	}
	target := o.lobbies[lobbyID]
	_, playing := o.sessions[lobbyID]
	o.mu.Unlock()

	if playing {
		if err := o.EndGame(lobbyID, game.EndReasonRequested, "participant left the lobby"); err != nil && !errors.Is(err, ErrNoActiveSession) {
			o.log.Warn("force end on leave failed", logging.String("lobby_id", lobbyID), logging.Error(err))
		}
	}
	if err := target.RemoveSeat(clientID); err != nil {
		return err
	}
	o.mu.Lock()
	delete(o.clientLobby, clientID)
	o.mu.Unlock()

	var pushes []push
	for _, occupant := range target.Occupants() {
		pushes = append(pushes, push{occupant, &protocol.Message{
			Type:     protocol.TypeLeaveLobby,
			Success:  true,
			PlayerID: clientID,
			LobbyID:  lobbyID,
		}})
	}
	o.deliver(pushes)
	o.record("LOBBY_LEFT", map[string]string{"lobby_id": lobbyID, "client_id": clientID})
	return nil
}

// RemoveLobby destroys the lobby, notifying and evicting all seated clients.
func (o *Orchestrator) RemoveLobby(lobbyID string) error {
	if o == nil {
		return ErrUnknownLobby
	}
	o.mu.Lock()
	target, ok := o.lobbies[lobbyID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownLobby, lobbyID)
	}
	_, playing := o.sessions[lobbyID]
	o.mu.Unlock()

	if playing {
		if err := o.EndGame(lobbyID, game.EndReasonRequested, "lobby removed"); err != nil && !errors.Is(err, ErrNoActiveSession) {
			o.log.Warn("force end on remove failed", logging.String("lobby_id", lobbyID), logging.Error(err))
		}
	}

	occupants := target.Occupants()
	o.mu.Lock()
	delete(o.lobbies, lobbyID)
	for _, occupant := range occupants {
		delete(o.clientLobby, occupant)
	}
	o.mu.Unlock()

	var pushes []push
	for _, occupant := range occupants {
		pushes = append(pushes, push{occupant, &protocol.Message{
			Type:    protocol.TypeRemoveLobby,
			Success: true,
			LobbyID: lobbyID,
		}})
	}
	o.deliver(pushes)
	o.record("LOBBY_REMOVED", map[string]string{"lobby_id": lobbyID})
	return nil
}

// ToggleReady flips the readiness flag for the client's seat.
func (o *Orchestrator) ToggleReady(clientID string) (lobby.Snapshot, error) {
	target, _, err := o.lobbyFor(clientID)
	if err != nil {
		return lobby.Snapshot{}, err
	}
	if err := target.ToggleReady(clientID); err != nil {
		return lobby.Snapshot{}, err
	}
	snapshot := target.Snapshot()

	//1.- Mirror the readiness change to the other occupant.
	var pushes []push
	for _, occupant := range target.Occupants() {
		if occupant == clientID {
			continue
		}
		pushes = append(pushes, push{occupant, &protocol.Message{
			Type:     protocol.TypeToggleReady,
			Success:  true,
			PlayerID: clientID,
			LobbyID:  snapshot.ID,
		}})
	}
	o.deliver(pushes)
	return snapshot, nil
}

// ConfigureLobby overwrites the lobby's game parameters and notifies both
// occupants.
func (o *Orchestrator) ConfigureLobby(lobbyID string, config lobby.GameConfig) (lobby.Snapshot, error) {
	target, err := o.lobbyByID(lobbyID)
	if err != nil {
		return lobby.Snapshot{}, err
	}
	target.Configure(config)
	snapshot := target.Snapshot()

	var pushes []push
	for _, occupant := range target.Occupants() {
		pushes = append(pushes, push{occupant, &protocol.Message{
			Type:          protocol.TypeConfigureLobby,
			Success:       true,
			LobbyID:       lobbyID,
			GameType:      config.GameType,
			Duration:      config.DurationMs,
			SyncWindow:    config.SyncWindowMs,
			SyncTolerance: config.SyncToleranceMs,
			Warmup:        config.Warmup,
		}})
	}
	o.deliver(pushes)
	o.record("LOBBY_CONFIGURED", map[string]string{"lobby_id": lobbyID, "game_type": config.GameType})
	return snapshot, nil
}

// StartGame validates readiness, constructs the title-specific session,
// computes the shared epoch, and pushes differentiated start notifications to
// both participants.
func (o *Orchestrator) StartGame(ctx context.Context, lobbyID string) (int64, error) {
	if o == nil {
		return 0, ErrUnknownLobby
	}
	target, err := o.lobbyByID(lobbyID)
	if err != nil {
		return 0, err
	}
	o.mu.Lock()
	if _, playing := o.sessions[lobbyID]; playing {
		o.mu.Unlock()
		return 0, ErrAlreadyPlaying
	}
	sender := o.sender
	o.mu.Unlock()

	if !target.IsReady() {
		return 0, ErrLobbyNotReady
	}
	seats := target.Seats()
	//1.- Both seated clients must still be resolvable before anything mutates.
	for _, seat := range seats {
		if _, ok := o.registry.LookupByID(seat); !ok {
			return 0, fmt.Errorf("%w: %q", registry.ErrUnknownClient, seat)
		}
	}

	config := target.Config()
	session, err := o.factory.New(config.GameType, game.Config{
		LobbyID:    lobbyID,
		Players:    seats,
		DurationMs: config.DurationMs,
		Warmup:     config.Warmup,
		Sender:     sender,
		Logger:     o.log,
		OnExpire: func(reason string) {
			//2.- Expiry reuses the explicit end path under the timeout reason.
			if err := o.EndGame(lobbyID, reason, ""); err != nil && !errors.Is(err, ErrNoActiveSession) {
				o.log.Warn("timeout end failed", logging.String("lobby_id", lobbyID), logging.Error(err))
			}
		},
	})
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	if _, playing := o.sessions[lobbyID]; playing {
		o.mu.Unlock()
		return 0, ErrAlreadyPlaying
	}
	o.sessions[lobbyID] = session
	o.clientSession[seats[0]] = lobbyID
	o.clientSession[seats[1]] = lobbyID
	o.mu.Unlock()

	target.SetState(lobby.StatePlaying)
	epoch := o.epochs.SharedEpoch(ctx)
	session.Start(epoch)

	//3.- Push per-client start notifications carrying the epoch and any
	// title-specific role payload.
	var pushes []push
	for _, seat := range seats {
		pushes = append(pushes, push{seat, &protocol.Message{
			Type:      protocol.TypeStartGame,
			Success:   true,
			LobbyID:   lobbyID,
			GameType:  config.GameType,
			Duration:  config.DurationMs,
			Timestamp: epoch,
			Payload:   session.StartPayload(seat),
			Warmup:    config.Warmup,
		}})
	}
	o.deliver(pushes)
	o.record("SESSION_STARTED", map[string]string{
		"lobby_id":  lobbyID,
		"game_type": config.GameType,
		"player_1":  seats[0],
		"player_2":  seats[1],
	})
	return epoch, nil
}

// EndGame terminates the lobby's active session, reverts the lobby to
// WAITING, and removes the session mappings. Notification sends are best
// effort because the remote side may already be gone.
func (o *Orchestrator) EndGame(lobbyID, reason, annotation string) error {
	if o == nil {
		return ErrNoActiveSession
	}
	o.mu.Lock()
	session, ok := o.sessions[lobbyID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNoActiveSession, lobbyID)
	}
	delete(o.sessions, lobbyID)
	participants := session.Participants()
	for _, participant := range participants {
		if o.clientSession[participant] == lobbyID {
			delete(o.clientSession, participant)
		}
	}
	target := o.lobbies[lobbyID]
	o.mu.Unlock()

	//1.- Cancel any pending time limit before anyone is notified.
	session.End(reason)
	var nextUp *lobby.QueueEntry
	if target != nil {
		target.SetState(lobby.StateWaiting)
		//2.- A queued session definition, if any, becomes the lobby's next
		// configured game; occupants re-ready before it starts.
		if entry, ok := target.DequeueSession(); ok {
			target.Configure(lobby.GameConfig{
				GameType:        entry.GameType,
				DurationMs:      entry.DurationMs,
				SyncWindowMs:    entry.SyncWindowMs,
				SyncToleranceMs: entry.SyncToleranceMs,
			})
			nextUp = &entry
		}
	}

	//3.- An error annotation marks a forced end; a timeout is still a normal
	// end and reports through the message field.
	notice := annotation
	if notice == "" {
		notice = reason
	}
	var pushes []push
	for _, participant := range participants {
		if participant == "" {
			continue
		}
		pushes = append(pushes, push{participant, &protocol.Message{
			Type:    protocol.TypeEndGame,
			Success: annotation == "",
			LobbyID: lobbyID,
			Message: notice,
		}})
		if nextUp != nil {
			pushes = append(pushes, push{participant, &protocol.Message{
				Type:    protocol.TypeConfigureLobby,
				Success: true,
				LobbyID: lobbyID,
				Message: "next queued session configured",
				Payload: []string{nextUp.ID, nextUp.GameType},
			}})
		}
	}
	o.deliver(pushes)
	o.record("SESSION_ENDED", map[string]string{"lobby_id": lobbyID, "reason": reason, "annotation": annotation})
	return nil
}

// PauseGame suspends the active session's time limit and notifies players.
func (o *Orchestrator) PauseGame(lobbyID string) error {
	return o.pauseResume(lobbyID, true)
}

// ResumeGame re-arms the paused session and notifies players.
func (o *Orchestrator) ResumeGame(lobbyID string) error {
	return o.pauseResume(lobbyID, false)
}

func (o *Orchestrator) pauseResume(lobbyID string, pause bool) error {
	if o == nil {
		return ErrNoActiveSession
	}
	o.mu.Lock()
	session, ok := o.sessions[lobbyID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoActiveSession, lobbyID)
	}
	msgType := protocol.TypePauseGame
	if pause {
		session.Pause()
	} else {
		session.Resume()
		msgType = protocol.TypeResumeGame
	}
	var pushes []push
	for _, participant := range session.Participants() {
		pushes = append(pushes, push{participant, &protocol.Message{Type: msgType, Success: true, LobbyID: lobbyID}})
	}
	o.deliver(pushes)
	return nil
}

// HandleGameAction routes one gameplay datagram through the actor's active
// session. An action from an unmapped client indicates client/server
// desynchronization and is rejected, not silently dropped.
func (o *Orchestrator) HandleGameAction(clientID string, d *protocol.Datagram) error {
	if o == nil || d == nil {
		return ErrNotInSession
	}
	o.mu.Lock()
	lobbyID, ok := o.clientSession[clientID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotInSession, clientID)
	}
	session, ok := o.sessions[lobbyID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotInSession, clientID)
	}
	if err := o.journal.Action(lobbyID, d); err != nil {
		o.log.Warn("action trace failed", logging.String("lobby_id", lobbyID), logging.Error(err))
	}
	return session.HandleAction(clientID, d)
}

// lobbyFor resolves the lobby the client is seated in.
func (o *Orchestrator) lobbyFor(clientID string) (*lobby.Lobby, string, error) {
	if o == nil {
		return nil, "", ErrNotInLobby
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	lobbyID, ok := o.clientLobby[clientID]
	if !ok {
		return nil, "", ErrNotInLobby
	}
	target, ok := o.lobbies[lobbyID]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownLobby, lobbyID)
	}
	return target, lobbyID, nil
}

func (o *Orchestrator) lobbyByID(lobbyID string) (*lobby.Lobby, error) {
	if o == nil {
		return nil, ErrUnknownLobby
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	target, ok := o.lobbies[lobbyID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLobby, lobbyID)
	}
	return target, nil
}

// Lobbies returns snapshots of every live lobby.
func (o *Orchestrator) Lobbies() []lobby.Snapshot {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	targets := make([]*lobby.Lobby, 0, len(o.lobbies))
	for _, target := range o.lobbies {
		targets = append(targets, target)
	}
	o.mu.Unlock()
	snapshots := make([]lobby.Snapshot, 0, len(targets))
	for _, target := range targets {
		snapshots = append(snapshots, target.Snapshot())
	}
	return snapshots
}

// Lobby returns a snapshot of one lobby.
func (o *Orchestrator) Lobby(lobbyID string) (lobby.Snapshot, error) {
	target, err := o.lobbyByID(lobbyID)
	if err != nil {
		return lobby.Snapshot{}, err
	}
	return target.Snapshot(), nil
}

// OnlinePlayerIDs reports live client ids. The underlying sweep may evict
// lapsed clients; their lobby and session associations are torn down exactly
// as if they had disconnected.
func (o *Orchestrator) OnlinePlayerIDs() []string {
	if o == nil {
		return nil
	}
	live, evicted := o.registry.LiveClientIDs()
	for _, clientID := range evicted {
		o.log.Info("client evicted by liveness sweep", logging.String("client_id", clientID))
		o.ClientDisconnected(clientID)
	}
	return live
}

// Sweep runs one liveness pass; main drives this on a fixed cadence.
func (o *Orchestrator) Sweep() {
	o.OnlinePlayerIDs()
}

// CreateQueuedSession appends a pending session definition to the lobby queue.
func (o *Orchestrator) CreateQueuedSession(lobbyID string, entry lobby.QueueEntry) (lobby.QueueEntry, error) {
	target, err := o.lobbyByID(lobbyID)
	if err != nil {
		return lobby.QueueEntry{}, err
	}
	return target.EnqueueSession(entry)
}

// RemoveQueuedSession deletes one pending session definition by id.
func (o *Orchestrator) RemoveQueuedSession(lobbyID, entryID string) error {
	target, err := o.lobbyByID(lobbyID)
	if err != nil {
		return err
	}
	return target.RemoveSession(entryID)
}

// QueuedSessions lists the lobby's pending session definitions in order.
func (o *Orchestrator) QueuedSessions(lobbyID string) ([]lobby.QueueEntry, error) {
	target, err := o.lobbyByID(lobbyID)
	if err != nil {
		return nil, err
	}
	return target.Sessions(), nil
}

// ReorderQueuedSessions applies a bulk reorder of the lobby's queue.
func (o *Orchestrator) ReorderQueuedSessions(lobbyID string, order []string) error {
	target, err := o.lobbyByID(lobbyID)
	if err != nil {
		return err
	}
	return target.ReorderSessions(order)
}

// StartExperiment flags the lobby as running an experiment, minting an id
// when the caller did not supply one.
func (o *Orchestrator) StartExperiment(lobbyID, experimentID string) (string, error) {
	target, err := o.lobbyByID(lobbyID)
	if err != nil {
		return "", err
	}
	if experimentID == "" {
		experimentID = uuid.NewString()
	}
	target.SetExperiment(true, experimentID)
	o.record("EXPERIMENT_STARTED", map[string]string{"lobby_id": lobbyID, "experiment_id": experimentID})
	return experimentID, nil
}

// EndExperiment clears the lobby's experiment bookkeeping.
func (o *Orchestrator) EndExperiment(lobbyID string) error {
	target, err := o.lobbyByID(lobbyID)
	if err != nil {
		return err
	}
	_, experimentID := target.Experiment()
	target.SetExperiment(false, "")
	o.record("EXPERIMENT_ENDED", map[string]string{"lobby_id": lobbyID, "experiment_id": experimentID})
	return nil
}

// ClientDisconnected tears down a departed client's associations: any active
// session is force-ended with an error annotation and the seat is vacated,
// promoting the other occupant where applicable.
func (o *Orchestrator) ClientDisconnected(clientID string) {
	if o == nil || clientID == "" {
		return
	}
	o.mu.Lock()
	lobbyID, seated := o.clientLobby[clientID]
	target := o.lobbies[lobbyID]
	_, playing := o.sessions[lobbyID]
	delete(o.clientLobby, clientID)
	delete(o.clientSession, clientID)
	observers := o.observers
	revoker := o.revoker
	o.mu.Unlock()

	//1.- An unredeemed binding code must never outlive its owner.
	if revoker != nil {
		revoker.Revoke(clientID)
	}

	if seated && target != nil {
		if playing {
			if err := o.EndGame(lobbyID, game.EndReasonRequested, "participant disconnected"); err != nil && !errors.Is(err, ErrNoActiveSession) {
				o.log.Warn("force end on disconnect failed", logging.String("lobby_id", lobbyID), logging.Error(err))
			}
		}
		if err := target.RemoveSeat(clientID); err != nil && !errors.Is(err, lobby.ErrNotSeated) {
			o.log.Warn("seat cleanup failed", logging.String("lobby_id", lobbyID), logging.Error(err))
		}
		var pushes []push
		for _, occupant := range target.Occupants() {
			pushes = append(pushes, push{occupant, &protocol.Message{
				Type:     protocol.TypeLeaveLobby,
				Success:  true,
				PlayerID: clientID,
				LobbyID:  lobbyID,
			}})
		}
		o.deliver(pushes)
		o.record("CLIENT_DISCONNECTED", map[string]string{"client_id": clientID, "lobby_id": lobbyID})
	} else {
		o.record("CLIENT_DISCONNECTED", map[string]string{"client_id": clientID})
	}

	for _, observer := range observers {
		observer(clientID)
	}
}

// Reconnected transfers a still-live lobby or session association from the
// stale identity to the freshly issued one, then re-pushes the state the
// returning client needs to resynchronize its UI without a server-side
// restart.
func (o *Orchestrator) Reconnected(previousID, newID string) {
	if o == nil || previousID == "" || newID == "" {
		return
	}
	o.mu.Lock()
	lobbyID, seated := o.clientLobby[previousID]
	if !seated {
		o.mu.Unlock()
		return
	}
	target := o.lobbies[lobbyID]
	delete(o.clientLobby, previousID)
	o.clientLobby[newID] = lobbyID
	sessionLobby, inSession := o.clientSession[previousID]
	var session game.Session
	if inSession {
		delete(o.clientSession, previousID)
		o.clientSession[newID] = sessionLobby
		session = o.sessions[sessionLobby]
	}
	o.mu.Unlock()

	if target == nil {
		return
	}
	//1.- Swap the seat in place so readiness and ordering survive the swap.
	target.ReplaceSeat(previousID, newID)

	pushes := []push{{newID, &protocol.Message{
		Type:     protocol.TypeJoinLobby,
		Success:  true,
		LobbyID:  lobbyID,
		GameType: target.Config().GameType,
	}}}
	if session != nil {
		session.ReplaceParticipant(previousID, newID)
		//2.- Hand back the original start epoch so the client can recompute
		// elapsed time and resume locally.
		pushes = append(pushes, push{newID, &protocol.Message{
			Type:      protocol.TypeReconnectToGame,
			Success:   true,
			LobbyID:   sessionLobby,
			GameType:  target.Config().GameType,
			Timestamp: session.StartEpochMs(),
		}})
	}
	o.deliver(pushes)
	o.record("CLIENT_RECONNECTED", map[string]string{
		"previous_id": previousID,
		"client_id":   newID,
		"lobby_id":    lobbyID,
	})
}
