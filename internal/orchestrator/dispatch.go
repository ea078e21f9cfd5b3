package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"duoplay/server/internal/game"
	"duoplay/server/internal/lobby"
	"duoplay/server/internal/protocol"
)

// Dispatch executes one lobby or session control request on behalf of the
// identified client and returns the response to send back on the same
// connection. State-validation failures come back as structured success=false
// responses of the request's own type; only protocol violations produce
// ERROR frames.
func (o *Orchestrator) Dispatch(ctx context.Context, clientID string, req *protocol.Message) *protocol.Message {
	if req == nil {
		return protocol.NewError("empty request", nil)
	}
	switch req.Type {
	case protocol.TypeGetOnlinePlayerIDs:
		return &protocol.Message{
			Type:    protocol.TypeGetOnlinePlayerIDs,
			Success: true,
			Payload: o.OnlinePlayerIDs(),
		}

	case protocol.TypeGetAllLobbies:
		return encodeSnapshots(protocol.TypeGetAllLobbies, o.Lobbies())

	case protocol.TypeGetLobby:
		snapshot, err := o.Lobby(req.LobbyID)
		if err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return encodeSnapshots(protocol.TypeGetLobby, []lobby.Snapshot{snapshot})

	case protocol.TypeCreateLobby:
		snapshot, err := o.CreateLobby(clientID, configFrom(req))
		if err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return snapshotReply(req.Type, snapshot)

	case protocol.TypeJoinLobby:
		snapshot, err := o.JoinLobby(clientID, req.LobbyID)
		if err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return snapshotReply(req.Type, snapshot)

	case protocol.TypeLeaveLobby:
		if err := o.LeaveLobby(clientID); err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return &protocol.Message{Type: req.Type, Success: true}

	case protocol.TypeRemoveLobby:
		if err := o.RemoveLobby(req.LobbyID); err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return &protocol.Message{Type: req.Type, Success: true, LobbyID: req.LobbyID}

	case protocol.TypeToggleReady:
		snapshot, err := o.ToggleReady(clientID)
		if err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return snapshotReply(req.Type, snapshot)

	case protocol.TypeConfigureLobby:
		lobbyID := req.LobbyID
		if lobbyID == "" {
			//1.- Clients configuring their own lobby may omit the id.
			if _, seatedIn, err := o.lobbyFor(clientID); err == nil {
				lobbyID = seatedIn
			}
		}
		snapshot, err := o.ConfigureLobby(lobbyID, configFrom(req))
		if err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return snapshotReply(req.Type, snapshot)

	case protocol.TypeStartGame:
		lobbyID := req.LobbyID
		if lobbyID == "" {
			if _, seatedIn, err := o.lobbyFor(clientID); err == nil {
				lobbyID = seatedIn
			}
		}
		epoch, err := o.StartGame(ctx, lobbyID)
		if err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return &protocol.Message{Type: req.Type, Success: true, LobbyID: lobbyID, Timestamp: epoch}

	case protocol.TypeEndGame:
		lobbyID := req.LobbyID
		if lobbyID == "" {
			if _, seatedIn, err := o.lobbyFor(clientID); err == nil {
				lobbyID = seatedIn
			}
		}
		if err := o.EndGame(lobbyID, game.EndReasonRequested, ""); err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return &protocol.Message{Type: req.Type, Success: true, LobbyID: lobbyID}

	case protocol.TypePauseGame:
		if err := o.PauseGame(req.LobbyID); err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return &protocol.Message{Type: req.Type, Success: true, LobbyID: req.LobbyID}

	case protocol.TypeResumeGame:
		if err := o.ResumeGame(req.LobbyID); err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return &protocol.Message{Type: req.Type, Success: true, LobbyID: req.LobbyID}

	case protocol.TypeCreateSession:
		entry, err := o.CreateQueuedSession(req.LobbyID, lobby.QueueEntry{
			GameType:        req.GameType,
			DurationMs:      req.Duration,
			SyncWindowMs:    req.SyncWindow,
			SyncToleranceMs: req.SyncTolerance,
		})
		if err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return &protocol.Message{Type: req.Type, Success: true, LobbyID: req.LobbyID, SessionID: entry.ID}

	case protocol.TypeRemoveSession:
		if err := o.RemoveQueuedSession(req.LobbyID, req.SessionID); err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return &protocol.Message{Type: req.Type, Success: true, LobbyID: req.LobbyID, SessionID: req.SessionID}

	case protocol.TypeGetSessions:
		entries, err := o.QueuedSessions(req.LobbyID)
		if err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		reply := &protocol.Message{Type: req.Type, Success: true, LobbyID: req.LobbyID}
		for _, entry := range entries {
			encoded, err := json.Marshal(entry)
			if err != nil {
				return protocol.NewFailure(req.Type, err.Error())
			}
			reply.SessionIDs = append(reply.SessionIDs, entry.ID)
			reply.Payload = append(reply.Payload, string(encoded))
		}
		return reply

	case protocol.TypeChangeSessionsOrder:
		if err := o.ReorderQueuedSessions(req.LobbyID, req.SessionIDs); err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return &protocol.Message{Type: req.Type, Success: true, LobbyID: req.LobbyID, SessionIDs: req.SessionIDs}

	case protocol.TypeStartExperiment:
		experimentID, err := o.StartExperiment(req.LobbyID, req.ExperimentID)
		if err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return &protocol.Message{
			Type:              req.Type,
			Success:           true,
			LobbyID:           req.LobbyID,
			ExperimentRunning: true,
			ExperimentID:      experimentID,
		}

	case protocol.TypeEndExperiment:
		if err := o.EndExperiment(req.LobbyID); err != nil {
			return protocol.NewFailure(req.Type, err.Error())
		}
		return &protocol.Message{Type: req.Type, Success: true, LobbyID: req.LobbyID}
	}

	//2.- An unrecognized type is a protocol violation, not a state failure.
	return protocol.NewError(fmt.Sprintf("unsupported control message type %q", req.Type), req)
}

func configFrom(req *protocol.Message) lobby.GameConfig {
	return lobby.GameConfig{
		GameType:        req.GameType,
		DurationMs:      req.Duration,
		SyncWindowMs:    req.SyncWindow,
		SyncToleranceMs: req.SyncTolerance,
		Warmup:          req.Warmup,
	}
}

func snapshotReply(msgType string, snapshot lobby.Snapshot) *protocol.Message {
	reply := &protocol.Message{
		Type:              msgType,
		Success:           true,
		LobbyID:           snapshot.ID,
		GameType:          snapshot.Config.GameType,
		Duration:          snapshot.Config.DurationMs,
		SyncWindow:        snapshot.Config.SyncWindowMs,
		SyncTolerance:     snapshot.Config.SyncToleranceMs,
		Warmup:            snapshot.Config.Warmup,
		ExperimentRunning: snapshot.ExperimentRunning,
		ExperimentID:      snapshot.ExperimentID,
	}
	for i, seat := range snapshot.Seats {
		if seat == "" {
			continue
		}
		reply.Payload = append(reply.Payload, fmt.Sprintf("seat_%d=%s ready=%t", i+1, seat, snapshot.Ready[i]))
	}
	return reply
}

func encodeSnapshots(msgType string, snapshots []lobby.Snapshot) *protocol.Message {
	reply := &protocol.Message{Type: msgType, Success: true}
	for _, snapshot := range snapshots {
		encoded, err := json.Marshal(snapshot)
		if err != nil {
			return protocol.NewFailure(msgType, err.Error())
		}
		reply.Payload = append(reply.Payload, string(encoded))
	}
	return reply
}
