// Package protocol defines the wire formats shared by the control channel and
// the low-latency channel. Control messages are JSON documents exchanged over
// the per-client websocket; datagrams are compact delimited records that fit
// in a single UDP packet.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Control message types understood by the server.
const (
	TypePing               = "PING"
	TypePong               = "PONG"
	TypeEnter              = "ENTER"
	TypeForceEnter         = "FORCE_ENTER"
	TypeAlreadyConnected   = "ALREADY_CONNECTED"
	TypeReconnect          = "RECONNECT"
	TypeExit               = "EXIT"
	TypeGetOnlinePlayerIDs = "GET_ONLINE_PLAYER_IDS"
	TypeGetAllLobbies      = "GET_ALL_LOBBIES"
	TypeGetLobby           = "GET_LOBBY"
	TypeCreateLobby        = "CREATE_LOBBY"
	TypeConfigureLobby     = "CONFIGURE_LOBBY"
	TypeJoinLobby          = "JOIN_LOBBY"
	TypeLeaveLobby         = "LEAVE_LOBBY"
	TypeRemoveLobby        = "REMOVE_LOBBY"
	TypeStartGame          = "START_GAME"
	TypeEndGame            = "END_GAME"
	TypeReconnectToGame    = "RECONNECT_TO_GAME"
	TypePauseGame          = "PAUSE_GAME"
	TypeResumeGame         = "RESUME_GAME"
	TypeToggleReady        = "TOGGLE_READY"
	TypeError              = "ERROR"
	TypeHeartbeat          = "HEARTBEAT"
	TypeCreateSession      = "CREATE_SESSION"
	TypeRemoveSession      = "REMOVE_SESSION"
	TypeGetSessions        = "GET_SESSIONS"
	TypeChangeSessionsOrder = "CHANGE_SESSIONS_ORDER"
	TypeStartExperiment    = "START_EXPERIMENT"
	TypeEndExperiment      = "END_EXPERIMENT"
)

// Message is the single request/response/push envelope carried on the control
// channel. Optional fields are omitted from the JSON encoding when unset.
type Message struct {
	Type              string   `json:"type"`
	PlayerID          string   `json:"player_id,omitempty"`
	LobbyID           string   `json:"lobby_id,omitempty"`
	GameType          string   `json:"game_type,omitempty"`
	Success           bool     `json:"success"`
	Message           string   `json:"message,omitempty"`
	Duration          int64    `json:"duration,omitempty"`
	SessionID         string   `json:"session_id,omitempty"`
	SessionIDs        []string `json:"session_ids,omitempty"`
	Payload           []string `json:"payload,omitempty"`
	Timestamp         int64    `json:"timestamp,omitempty"`
	SyncWindow        int64    `json:"sync_window,omitempty"`
	SyncTolerance     int64    `json:"sync_tolerance,omitempty"`
	Warmup            bool     `json:"warmup,omitempty"`
	Force             bool     `json:"force,omitempty"`
	ExperimentRunning bool     `json:"experiment_running,omitempty"`
	ExperimentID      string   `json:"experiment_id,omitempty"`
}

// DecodeMessage parses a control frame into a structured message.
func DecodeMessage(raw []byte) (*Message, error) {
	//1.- Reject empty frames before handing them to the JSON decoder.
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty control frame")
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode control frame: %w", err)
	}
	//2.- A message without a type cannot be dispatched.
	if strings.TrimSpace(msg.Type) == "" {
		return nil, fmt.Errorf("control frame missing type")
	}
	return &msg, nil
}

// Encode serialises the message for transmission on the control channel.
func (m *Message) Encode() ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("nil control message")
	}
	return json.Marshal(m)
}

// NewError builds an ERROR reply carrying the failure text and, when
// available, the offending request echoed back for client-side debugging.
func NewError(text string, offending *Message) *Message {
	reply := &Message{Type: TypeError, Success: false, Message: text}
	if offending != nil {
		//1.- Echo the raw request so client logs can pair the fault with its cause.
		if raw, err := offending.Encode(); err == nil {
			reply.Payload = []string{string(raw)}
		}
	}
	return reply
}

// NewFailure builds a structured success=false response of the given type.
func NewFailure(msgType, text string) *Message {
	return &Message{Type: msgType, Success: false, Message: text}
}
