// Package control serves the reliable per-client channel: a websocket
// carrying JSON request/response frames plus server-initiated pushes. The
// handler owns identity admission (ENTER and its variants), liveness
// heartbeats, and delegation of lobby and session requests to the
// coordinator.
package control

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"duoplay/server/internal/logging"
	"duoplay/server/internal/protocol"
	"duoplay/server/internal/registry"

	"github.com/gorilla/websocket"
)

// Coordinator is the slice of the orchestrator the control channel needs.
type Coordinator interface {
	Dispatch(ctx context.Context, clientID string, req *protocol.Message) *protocol.Message
	ClientDisconnected(clientID string)
	Reconnected(previousID, newID string)
}

// CodeIssuer mints one-time binding codes for the low-latency handshake.
type CodeIssuer interface {
	Issue(clientID string) string
}

// Options configures the control handler.
type Options struct {
	Logger       *logging.Logger
	Registry     *registry.Registry
	Coordinator  Coordinator
	Codes        CodeIssuer
	PingInterval time.Duration
	MaxPayload   int64
}

// Handler upgrades control connections and runs their read loops.
type Handler struct {
	log          *logging.Logger
	registry     *registry.Registry
	coordinator  Coordinator
	codes        CodeIssuer
	pingInterval time.Duration
	maxPayload   int64
	upgrader     websocket.Upgrader
}

// NewHandler wires a control handler from its collaborators.
func NewHandler(opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = logging.L()
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	maxPayload := opts.MaxPayload
	if maxPayload <= 0 {
		maxPayload = 1 << 20
	}
	return &Handler{
		log:          log,
		registry:     opts.Registry,
		coordinator:  opts.Coordinator,
		codes:        opts.Codes,
		pingInterval: pingInterval,
		maxPayload:   maxPayload,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			//1.- Clients are native apps, not browsers; origin gating is moot.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// wsConn adapts a websocket connection to the registry's push interface. A
// single mutex serializes reply writes, orchestrator pushes, and keepalive
// pings onto the socket.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) Push(msg *protocol.Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// connState tracks the identity bound to one control connection.
type connState struct {
	conn     registry.Conn
	clientID string
}

// ServeHTTP upgrades the request and services the connection until it drops.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("control upgrade failed", logging.String("remote", r.RemoteAddr), logging.Error(err))
		return
	}
	conn := &wsConn{ws: ws}
	state := &connState{conn: conn}
	h.log.Info("control connection opened", logging.String("remote", r.RemoteAddr))

	ws.SetReadLimit(h.maxPayload)
	deadline := 2 * h.pingInterval
	_ = ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(deadline))
	})

	//1.- Keepalive pings run beside the read loop; a dead peer times out the
	// read deadline instead of blocking forever.
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(deadline))
		reply, closeAfter := h.handleFrame(r.Context(), state, raw)
		if reply != nil {
			if err := state.conn.Push(reply); err != nil {
				break
			}
		}
		if closeAfter {
			break
		}
	}

	close(stop)
	h.connectionClosed(state)
	_ = conn.Close()
}

// handleFrame decodes and executes one inbound control frame, returning the
// reply to send and whether the connection should close afterwards.
func (h *Handler) handleFrame(ctx context.Context, state *connState, raw []byte) (*protocol.Message, bool) {
	msg, err := protocol.DecodeMessage(raw)
	if err != nil {
		return protocol.NewError(err.Error(), nil), false
	}
	return h.process(ctx, state, msg)
}

func (h *Handler) process(ctx context.Context, state *connState, msg *protocol.Message) (*protocol.Message, bool) {
	//1.- Any frame from an entered client proves the application is alive.
	if state.clientID != "" {
		if err := h.registry.RecordLiveness(state.clientID); err != nil {
			h.log.Warn("liveness update failed", logging.String("client_id", state.clientID), logging.Error(err))
		}
	}

	switch msg.Type {
	case protocol.TypePing:
		return &protocol.Message{Type: protocol.TypePong, Success: true, Timestamp: time.Now().UnixMilli()}, false

	case protocol.TypePong:
		//2.- A PONG is a liveness echo, already recorded above; it earns no reply.
		return nil, false

	case protocol.TypeHeartbeat:
		if state.clientID == "" {
			return protocol.NewError("heartbeat before ENTER", msg), false
		}
		return &protocol.Message{Type: protocol.TypeHeartbeat, Success: true, PlayerID: state.clientID}, false

	case protocol.TypeEnter:
		if state.clientID != "" {
			//3.- A second ENTER on a live connection is a protocol violation.
			return &protocol.Message{
				Type:     protocol.TypeAlreadyConnected,
				Success:  false,
				PlayerID: state.clientID,
				Message:  "connection already entered",
			}, false
		}
		client := h.registry.Register(state.conn)
		state.clientID = client.ID
		h.log.Info("client entered", logging.String("client_id", client.ID))
		return h.admitted(protocol.TypeEnter, client.ID), false

	case protocol.TypeForceEnter:
		if state.clientID != "" {
			return &protocol.Message{
				Type:     protocol.TypeAlreadyConnected,
				Success:  false,
				PlayerID: state.clientID,
				Message:  "connection already entered",
			}, false
		}
		if msg.PlayerID == "" {
			return protocol.NewFailure(protocol.TypeForceEnter, "player id is required"), false
		}
		//4.- Reclaiming an identity displaces whatever connection held it.
		if previous, ok := h.registry.LookupByID(msg.PlayerID); ok {
			if previous.Conn != nil && previous.Conn != state.conn {
				_ = previous.Conn.Close()
			}
			h.registry.Remove(msg.PlayerID)
		}
		client, err := h.registry.Adopt(msg.PlayerID, state.conn)
		if err != nil {
			return protocol.NewFailure(protocol.TypeForceEnter, err.Error()), false
		}
		state.clientID = client.ID
		h.log.Info("client force-entered", logging.String("client_id", client.ID))
		return h.admitted(protocol.TypeForceEnter, client.ID), false

	case protocol.TypeReconnect:
		if state.clientID != "" {
			return &protocol.Message{
				Type:     protocol.TypeAlreadyConnected,
				Success:  false,
				PlayerID: state.clientID,
				Message:  "connection already entered",
			}, false
		}
		if msg.PlayerID == "" {
			return protocol.NewFailure(protocol.TypeReconnect, "previous player id is required"), false
		}
		//5.- The stale entry, if still present, is displaced before the fresh
		// identity inherits its lobby and session associations.
		if previous, ok := h.registry.LookupByID(msg.PlayerID); ok {
			if previous.Conn != nil && previous.Conn != state.conn {
				_ = previous.Conn.Close()
			}
			h.registry.Remove(msg.PlayerID)
		}
		client := h.registry.Register(state.conn)
		state.clientID = client.ID
		h.coordinator.Reconnected(msg.PlayerID, client.ID)
		h.log.Info("client reconnected",
			logging.String("previous_id", msg.PlayerID),
			logging.String("client_id", client.ID))
		return h.admitted(protocol.TypeReconnect, client.ID), false

	case protocol.TypeExit:
		if state.clientID == "" {
			return protocol.NewFailure(protocol.TypeExit, "connection never entered"), true
		}
		clientID := state.clientID
		state.clientID = ""
		h.registry.Remove(clientID)
		h.coordinator.ClientDisconnected(clientID)
		h.log.Info("client exited", logging.String("client_id", clientID))
		return &protocol.Message{Type: protocol.TypeExit, Success: true, PlayerID: clientID}, true
	}

	if state.clientID == "" {
		return protocol.NewError(fmt.Sprintf("%s before ENTER", msg.Type), msg), false
	}
	return h.dispatch(ctx, state.clientID, msg), false
}

// dispatch guards delegation so a panic in request handling downgrades to an
// ERROR reply instead of tearing down the process.
func (h *Handler) dispatch(ctx context.Context, clientID string, msg *protocol.Message) (reply *protocol.Message) {
	defer func() {
		if recovered := recover(); recovered != nil {
			h.log.Error("control dispatch panicked",
				logging.String("client_id", clientID),
				logging.String("type", msg.Type),
				logging.Any("panic", recovered))
			reply = protocol.NewError("internal error", msg)
		}
	}()
	return h.coordinator.Dispatch(ctx, clientID, msg)
}

// admitted builds the successful admission reply carrying the fresh identity
// and the one-time code that binds the low-latency channel to it.
func (h *Handler) admitted(msgType, clientID string) *protocol.Message {
	reply := &protocol.Message{Type: msgType, Success: true, PlayerID: clientID}
	if h.codes != nil {
		reply.Payload = []string{h.codes.Issue(clientID)}
	}
	return reply
}

// connectionClosed tears down the identity bound to a dropped connection.
func (h *Handler) connectionClosed(state *connState) {
	if state.clientID == "" {
		return
	}
	clientID := state.clientID
	state.clientID = ""
	//1.- Skip the cascade when the identity was already evicted or now belongs
	// to a displacing connection; teardown ran (or must not run) elsewhere.
	if current, ok := h.registry.LookupByID(clientID); !ok || current.Conn != state.conn {
		return
	}
	h.registry.Remove(clientID)
	h.coordinator.ClientDisconnected(clientID)
	h.log.Info("control connection closed", logging.String("client_id", clientID))
}
