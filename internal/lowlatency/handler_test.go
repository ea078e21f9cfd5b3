package lowlatency

import (
	"net"
	"testing"
	"time"

	"duoplay/server/internal/logging"
	"duoplay/server/internal/protocol"
	"duoplay/server/internal/registry"
)

type nopConn struct{}

func (nopConn) Push(*protocol.Message) error { return nil }
func (nopConn) Close() error                 { return nil }

type sinkRecorder struct {
	actions []struct {
		clientID string
		record   *protocol.Datagram
	}
	err error
}

func (s *sinkRecorder) HandleGameAction(clientID string, d *protocol.Datagram) error {
	s.actions = append(s.actions, struct {
		clientID string
		record   *protocol.Datagram
	}{clientID, d})
	return s.err
}

type writeRecorder struct {
	packets []string
	addrs   []*net.UDPAddr
}

func (w *writeRecorder) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	w.packets = append(w.packets, string(b))
	w.addrs = append(w.addrs, addr)
	return len(b), nil
}

func newTestHandler(t *testing.T) (*Handler, *registry.Registry, *Binder, *sinkRecorder) {
	t.Helper()
	reg := registry.New(30 * time.Second)
	binder := NewBinder()
	sink := &sinkRecorder{}
	h := NewHandler(Options{
		Logger:   logging.NewTestLogger(),
		Registry: reg,
		Binder:   binder,
		Sink:     sink,
		Clock:    func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})
	return h, reg, binder, sink
}

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestBindingHandshake(t *testing.T) {
	h, reg, binder, _ := newTestHandler(t)
	client := reg.Register(nopConn{})
	code := binder.Issue(client.ID)

	reply := h.HandlePacket([]byte("ENTER;;"+code+";;"), addr(5000))
	if reply == nil || reply.Type != protocol.DatagramEnter || reply.Actor != client.ID {
		t.Fatalf("reply = %+v, want ENTER ack for %q", reply, client.ID)
	}
	bound, ok := reg.LookupByAddr(addr(5000))
	if !ok || bound.ID != client.ID {
		t.Fatal("source address must be bound to the client")
	}

	//1.- The code is one-time: replaying the handshake binds nothing.
	if reply := h.HandlePacket([]byte("ENTER;;"+code+";;"), addr(6000)); reply != nil {
		t.Fatalf("reply = %+v, want replay to be dropped", reply)
	}
	if _, ok := reg.LookupByAddr(addr(6000)); ok {
		t.Fatal("a replayed code must not bind a new address")
	}
}

func TestUnknownCodeIsDropped(t *testing.T) {
	h, reg, _, _ := newTestHandler(t)
	if reply := h.HandlePacket([]byte("ENTER;;bogus;;"), addr(5000)); reply != nil {
		t.Fatalf("reply = %+v, want drop", reply)
	}
	if _, ok := reg.LookupByAddr(addr(5000)); ok {
		t.Fatal("unknown code must not bind")
	}
}

func TestPingEchoesTimestampAndSequence(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	reply := h.HandlePacket([]byte("PING;;probe;1699999999000;42"), addr(5000))
	if reply == nil || reply.Type != protocol.DatagramPong {
		t.Fatalf("reply = %+v, want PONG", reply)
	}
	if reply.Timestamp != 1699999999000 || reply.Sequence != 42 || reply.Data != "probe" {
		t.Fatalf("reply = %+v, want echoed fields", reply)
	}
}

func TestSyncTimeStampsServerClock(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	reply := h.HandlePacket([]byte("SYNC_TIME;;;;7"), addr(5000))
	if reply == nil || reply.Type != protocol.DatagramSyncTime {
		t.Fatalf("reply = %+v, want SYNC_TIME", reply)
	}
	if reply.Timestamp != 1_700_000_000_000 || reply.Sequence != 7 {
		t.Fatalf("reply = %+v, want server timestamp with echoed sequence", reply)
	}
}

func TestMalformedPacketIsDropped(t *testing.T) {
	h, _, _, sink := newTestHandler(t)
	for _, raw := range []string{"", "POSITION;only;three", "POSITION;;;not-a-number;"} {
		if reply := h.HandlePacket([]byte(raw), addr(5000)); reply != nil {
			t.Fatalf("HandlePacket(%q) = %+v, want drop", raw, reply)
		}
	}
	if len(sink.actions) != 0 {
		t.Fatal("malformed packets must never reach the sink")
	}
}

func TestActionRequiresBoundAddress(t *testing.T) {
	h, reg, binder, sink := newTestHandler(t)

	if reply := h.HandlePacket([]byte("CLICK;;0.5,0.5;;1"), addr(5000)); reply != nil {
		t.Fatalf("reply = %+v, want drop from unbound address", reply)
	}
	if len(sink.actions) != 0 {
		t.Fatal("unbound traffic must never reach the sink")
	}

	client := reg.Register(nopConn{})
	code := binder.Issue(client.ID)
	h.HandlePacket([]byte("ENTER;;"+code+";;"), addr(5000))

	h.HandlePacket([]byte("CLICK;;0.5,0.5;1700000000100;2"), addr(5000))
	if len(sink.actions) != 1 {
		t.Fatalf("sink actions = %d, want 1", len(sink.actions))
	}
	if sink.actions[0].clientID != client.ID || sink.actions[0].record.Type != protocol.DatagramClick {
		t.Fatalf("action = %+v, want CLICK attributed to %q", sink.actions[0], client.ID)
	}
}

func TestHeartbeatRefreshesLiveness(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg := registry.New(30*time.Second, registry.WithClock(func() time.Time { return now }))
	binder := NewBinder()
	h := NewHandler(Options{Logger: logging.NewTestLogger(), Registry: reg, Binder: binder, Sink: &sinkRecorder{}})
	client := reg.Register(nopConn{})
	code := binder.Issue(client.ID)
	h.HandlePacket([]byte("ENTER;;"+code+";;"), addr(5000))

	now = now.Add(25 * time.Second)
	reply := h.HandlePacket([]byte("HEARTBEAT;;;;"), addr(5000))
	if reply == nil || reply.Type != protocol.DatagramHeartbeat || reply.Actor != client.ID {
		t.Fatalf("reply = %+v, want HEARTBEAT echo", reply)
	}
	now = now.Add(25 * time.Second)
	live, evicted := reg.LiveClientIDs()
	if len(evicted) != 0 || len(live) != 1 {
		t.Fatalf("live = %v evicted = %v, want the client alive", live, evicted)
	}
}

func TestSendToBoundClient(t *testing.T) {
	h, reg, binder, _ := newTestHandler(t)
	writer := &writeRecorder{}
	h.writer = writer

	client := reg.Register(nopConn{})
	if err := h.SendTo(client.ID, &protocol.Datagram{Type: protocol.DatagramPosition}); err == nil {
		t.Fatal("sending before the address is bound must fail")
	}

	code := binder.Issue(client.ID)
	h.HandlePacket([]byte("ENTER;;"+code+";;"), addr(5000))

	record := &protocol.Datagram{Type: protocol.DatagramPosition, Actor: client.ID, Data: "0.1,0.9", Sequence: 3}
	if err := h.SendTo(client.ID, record); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if len(writer.packets) != 1 || writer.packets[0] != string(record.Encode()) {
		t.Fatalf("packets = %v, want the encoded record", writer.packets)
	}
	if writer.addrs[0].Port != 5000 {
		t.Fatalf("sent to port %d, want 5000", writer.addrs[0].Port)
	}
}

func TestSendToUnknownClient(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	h.writer = &writeRecorder{}
	if err := h.SendTo("ghost", &protocol.Datagram{Type: protocol.DatagramPosition}); err == nil {
		t.Fatal("sending to an unknown client must fail")
	}
}
