package game

import (
	"sync"
	"testing"
	"time"

	"duoplay/server/internal/logging"
	"duoplay/server/internal/protocol"
)

type recordingSender struct {
	mu   sync.Mutex
	sent map[string][]*protocol.Datagram
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[string][]*protocol.Datagram)}
}

func (s *recordingSender) SendTo(clientID string, d *protocol.Datagram) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[clientID] = append(s.sent[clientID], d)
	return nil
}

func (s *recordingSender) countFor(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent[clientID])
}

func newTestConfig(sender Sender) Config {
	return Config{
		LobbyID: "AB12",
		Players: [2]string{"p1", "p2"},
		Sender:  sender,
		Logger:  logging.NewTestLogger(),
	}
}

func TestFactoryRejectsUnknownGameType(t *testing.T) {
	factory := NewFactory()
	if _, err := factory.New("CHESS", newTestConfig(nil)); err == nil {
		t.Fatalf("expected error for unregistered title")
	}
}

func TestBroadcastRoutesToBothParticipants(t *testing.T) {
	sender := newRecordingSender()
	factory := NewFactory()
	session, err := factory.New(TypeWaterRipples, newTestConfig(sender))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	session.Start(1700000000000)

	action := &protocol.Datagram{Type: protocol.DatagramClick, Actor: "p1", Data: "0.3,0.6"}
	if err := session.HandleAction("p1", action); err != nil {
		t.Fatalf("handle action: %v", err)
	}
	if sender.countFor("p1") != 1 || sender.countFor("p2") != 1 {
		t.Fatalf("broadcast must reach both participants: %+v", sender.sent)
	}
}

func TestMirrorRoutesOnlyToOpponent(t *testing.T) {
	sender := newRecordingSender()
	factory := NewFactory()
	session, err := factory.New(TypeAirHockey, newTestConfig(sender))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	session.Start(1700000000000)

	action := &protocol.Datagram{Type: protocol.DatagramPosition, Actor: "p2", Data: "0.5"}
	if err := session.HandleAction("p2", action); err != nil {
		t.Fatalf("handle action: %v", err)
	}
	if sender.countFor("p2") != 0 {
		t.Fatalf("mirror policy must not echo to the actor")
	}
	if sender.countFor("p1") != 1 {
		t.Fatalf("mirror policy must reach the opponent")
	}
}

func TestAirHockeyAssignsAsymmetricRoles(t *testing.T) {
	factory := NewFactory()
	session, err := factory.New(TypeAirHockey, newTestConfig(nil))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	left := session.StartPayload("p1")
	right := session.StartPayload("p2")
	if len(left) != 1 || left[0] != "role=left" {
		t.Fatalf("unexpected left payload: %v", left)
	}
	if len(right) != 1 || right[0] != "role=right" {
		t.Fatalf("unexpected right payload: %v", right)
	}
	if session.StartPayload("stranger") != nil {
		t.Fatalf("non-participants must not receive a role")
	}
}

func TestHandleActionRejectsOutsiders(t *testing.T) {
	factory := NewFactory()
	session, err := factory.New(TypeWaterRipples, newTestConfig(newRecordingSender()))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	action := &protocol.Datagram{Type: protocol.DatagramClick, Actor: "p9"}
	if err := session.HandleAction("p9", action); err == nil {
		t.Fatalf("expected rejection for non-participant")
	}
}

func TestTimeLimitFiresOnceThroughExpiryPath(t *testing.T) {
	expired := make(chan string, 2)
	cfg := newTestConfig(newRecordingSender())
	cfg.DurationMs = 10
	cfg.OnExpire = func(reason string) { expired <- reason }

	factory := NewFactory()
	session, err := factory.New(TypeSandGarden, cfg)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	session.Start(1700000000000)

	select {
	case reason := <-expired:
		if reason != EndReasonTimeout {
			t.Fatalf("unexpected expiry reason: %q", reason)
		}
	case <-time.After(time.Second):
		t.Fatalf("time limit never fired")
	}
	//1.- A follow-up explicit end must not trigger a second expiry.
	session.End(EndReasonRequested)
	select {
	case <-expired:
		t.Fatalf("expiry fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEndCancelsPendingTimer(t *testing.T) {
	expired := make(chan string, 1)
	cfg := newTestConfig(nil)
	cfg.DurationMs = 40
	cfg.OnExpire = func(reason string) { expired <- reason }

	factory := NewFactory()
	session, err := factory.New(TypeWaterRipples, cfg)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	session.Start(1700000000000)
	session.End(EndReasonRequested)

	select {
	case <-expired:
		t.Fatalf("timer fired after explicit end")
	case <-time.After(120 * time.Millisecond):
	}
	if err := session.HandleAction("p1", &protocol.Datagram{Type: protocol.DatagramClick}); err != ErrSessionEnded {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
}

func TestPauseSuspendsTimeLimit(t *testing.T) {
	expired := make(chan string, 1)
	cfg := newTestConfig(nil)
	cfg.DurationMs = 30
	cfg.OnExpire = func(reason string) { expired <- reason }

	factory := NewFactory()
	session, err := factory.New(TypeWaterRipples, cfg)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	session.Start(1700000000000)
	session.Pause()

	select {
	case <-expired:
		t.Fatalf("timer fired while paused")
	case <-time.After(100 * time.Millisecond):
	}

	session.Resume()
	select {
	case reason := <-expired:
		if reason != EndReasonTimeout {
			t.Fatalf("unexpected reason: %q", reason)
		}
	case <-time.After(time.Second):
		t.Fatalf("timer never resumed")
	}
}
