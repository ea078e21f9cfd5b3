package registry

import (
	"net"
	"sync"
	"testing"
	"time"

	"duoplay/server/internal/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	pushed []*protocol.Message
	closed bool
}

func (c *fakeConn) Push(msg *protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushed = append(c.pushed, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func udpAddr(t *testing.T, raw string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", raw)
	if err != nil {
		t.Fatalf("resolve %q: %v", raw, err)
	}
	return addr
}

func TestRegisterAndLookups(t *testing.T) {
	reg := New(30 * time.Second)
	conn := &fakeConn{}
	client := reg.Register(conn)
	if client == nil || client.ID == "" {
		t.Fatalf("expected client with fresh id, got %+v", client)
	}
	if client.Addr != nil {
		t.Fatalf("address must be unset until the binding handshake")
	}

	if got, ok := reg.LookupByID(client.ID); !ok || got != client {
		t.Fatalf("lookup by id failed")
	}
	if got, ok := reg.LookupByConn(conn); !ok || got != client {
		t.Fatalf("lookup by conn failed")
	}

	addr := udpAddr(t, "127.0.0.1:50000")
	if err := reg.BindAddress(client.ID, addr); err != nil {
		t.Fatalf("bind address: %v", err)
	}
	if got, ok := reg.LookupByAddr(addr); !ok || got != client {
		t.Fatalf("lookup by addr failed")
	}
}

func TestBindAddressInvalidatesPreviousMapping(t *testing.T) {
	reg := New(30 * time.Second)
	client := reg.Register(&fakeConn{})

	first := udpAddr(t, "127.0.0.1:50001")
	second := udpAddr(t, "127.0.0.1:50002")
	if err := reg.BindAddress(client.ID, first); err != nil {
		t.Fatalf("bind first: %v", err)
	}
	if err := reg.BindAddress(client.ID, second); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if _, ok := reg.LookupByAddr(first); ok {
		t.Fatalf("stale address mapping survived rebind")
	}
	if got, ok := reg.LookupByAddr(second); !ok || got != client {
		t.Fatalf("new address mapping missing")
	}
}

func TestLivenessSweepEvictsSilentClients(t *testing.T) {
	current := time.Unix(1000, 0)
	reg := New(30*time.Second, WithClock(func() time.Time { return current }))

	quietConn := &fakeConn{}
	chattyConn := &fakeConn{}
	quiet := reg.Register(quietConn)
	chatty := reg.Register(chattyConn)

	current = current.Add(31 * time.Second)
	if err := reg.RecordLiveness(chatty.ID); err != nil {
		t.Fatalf("record liveness: %v", err)
	}

	live, evicted := reg.LiveClientIDs()
	if len(live) != 1 || live[0] != chatty.ID {
		t.Fatalf("unexpected live set: %v", live)
	}
	if len(evicted) != 1 || evicted[0] != quiet.ID {
		t.Fatalf("unexpected evicted set: %v", evicted)
	}
	if _, ok := reg.LookupByID(quiet.ID); ok {
		t.Fatalf("evicted client still resolvable")
	}
	quietConn.mu.Lock()
	quietClosed := quietConn.closed
	quietConn.mu.Unlock()
	if !quietClosed {
		t.Fatalf("evicted client's connection left open")
	}
	chattyConn.mu.Lock()
	chattyClosed := chattyConn.closed
	chattyConn.mu.Unlock()
	if chattyClosed {
		t.Fatalf("live client's connection closed by sweep")
	}
}

func TestRemoveDeletesAllIndexes(t *testing.T) {
	reg := New(30 * time.Second)
	conn := &fakeConn{}
	client := reg.Register(conn)
	addr := udpAddr(t, "127.0.0.1:50003")
	if err := reg.BindAddress(client.ID, addr); err != nil {
		t.Fatalf("bind: %v", err)
	}

	reg.Remove(client.ID)
	if _, ok := reg.LookupByID(client.ID); ok {
		t.Fatalf("id index not cleared")
	}
	if _, ok := reg.LookupByConn(conn); ok {
		t.Fatalf("conn index not cleared")
	}
	if _, ok := reg.LookupByAddr(addr); ok {
		t.Fatalf("addr index not cleared")
	}
}

func TestConcurrentRegistrationAndSweep(t *testing.T) {
	reg := New(time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				client := reg.Register(&fakeConn{})
				_ = reg.RecordLiveness(client.ID)
				reg.LiveClientIDs()
			}
		}()
	}
	wg.Wait()
	if reg.Size() != 16*50 {
		t.Fatalf("unexpected registry size: %d", reg.Size())
	}
}
