package lowlatency

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"duoplay/server/internal/logging"
	"duoplay/server/internal/protocol"
	"duoplay/server/internal/registry"
)

// ErrUnboundClient is returned when an outbound send targets a client whose
// address was never bound through the handshake.
var ErrUnboundClient = errors.New("client has no bound low-latency address")

// ActionSink consumes gameplay datagrams from bound clients.
type ActionSink interface {
	HandleGameAction(clientID string, d *protocol.Datagram) error
}

// packetWriter is the outbound half of the socket; *net.UDPConn satisfies it.
type packetWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Options configures the low-latency handler.
type Options struct {
	Logger     *logging.Logger
	Registry   *registry.Registry
	Binder     *Binder
	Sink       ActionSink
	MaxPayload int
	Clock      func() time.Time
}

// Handler owns the UDP socket: inbound dispatch and outbound sends.
type Handler struct {
	log        *logging.Logger
	registry   *registry.Registry
	binder     *Binder
	sink       ActionSink
	maxPayload int
	now        func() time.Time

	mu     sync.RWMutex
	writer packetWriter
}

// NewHandler wires a handler; the socket is attached by Serve.
func NewHandler(opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = logging.L()
	}
	maxPayload := opts.MaxPayload
	if maxPayload <= 0 {
		maxPayload = 1400
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Handler{
		log:        log,
		registry:   opts.Registry,
		binder:     opts.Binder,
		sink:       opts.Sink,
		maxPayload: maxPayload,
		now:        now,
	}
}

// Serve reads datagrams until the context is cancelled or the socket fails.
func (h *Handler) Serve(ctx context.Context, conn *net.UDPConn) error {
	if h == nil || conn == nil {
		return errors.New("nil low-latency handler or socket")
	}
	h.mu.Lock()
	h.writer = conn
	h.mu.Unlock()

	//1.- Closing the socket on cancellation unblocks the pending read.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, h.maxPayload)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read datagram: %w", err)
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		if reply := h.HandlePacket(payload, addr); reply != nil {
			if _, err := conn.WriteToUDP(reply.Encode(), addr); err != nil {
				h.log.Debug("datagram reply failed", logging.String("remote", addr.String()), logging.Error(err))
			}
		}
	}
}

// HandlePacket dispatches one inbound datagram and returns the reply to send
// back to the source address, if any. Malformed and unattributable traffic is
// dropped; a public UDP port sees junk as a matter of course.
func (h *Handler) HandlePacket(raw []byte, addr *net.UDPAddr) *protocol.Datagram {
	record, err := protocol.ParseDatagram(raw)
	if err != nil {
		h.log.Debug("datagram dropped", logging.String("remote", addr.String()), logging.Error(err))
		return nil
	}

	switch record.Type {
	case protocol.DatagramEnter:
		return h.bind(record, addr)

	case protocol.DatagramPing:
		h.touch(addr)
		//1.- Echo the client's timestamp and sequence so it can measure RTT.
		return &protocol.Datagram{
			Type:      protocol.DatagramPong,
			Data:      record.Data,
			Timestamp: record.Timestamp,
			Sequence:  record.Sequence,
		}

	case protocol.DatagramSyncTime:
		h.touch(addr)
		//2.- Clock probes get the server wall clock stamped on the way out.
		return &protocol.Datagram{
			Type:      protocol.DatagramSyncTime,
			Data:      record.Data,
			Timestamp: h.now().UnixMilli(),
			Sequence:  record.Sequence,
		}

	case protocol.DatagramHeartbeat:
		client, ok := h.registry.LookupByAddr(addr)
		if !ok {
			h.log.Debug("heartbeat from unbound address", logging.String("remote", addr.String()))
			return nil
		}
		if err := h.registry.RecordLiveness(client.ID); err != nil {
			h.log.Warn("liveness update failed", logging.String("client_id", client.ID), logging.Error(err))
		}
		return &protocol.Datagram{Type: protocol.DatagramHeartbeat, Actor: client.ID, Timestamp: h.now().UnixMilli()}
	}

	//3.- Everything else is gameplay traffic and must come from a bound address.
	client, ok := h.registry.LookupByAddr(addr)
	if !ok {
		h.log.Debug("action from unbound address",
			logging.String("remote", addr.String()),
			logging.String("type", record.Type))
		return nil
	}
	if err := h.registry.RecordLiveness(client.ID); err != nil {
		h.log.Warn("liveness update failed", logging.String("client_id", client.ID), logging.Error(err))
	}
	if err := h.sink.HandleGameAction(client.ID, record); err != nil {
		h.log.Debug("action rejected",
			logging.String("client_id", client.ID),
			logging.String("type", record.Type),
			logging.Error(err))
		//4.- A rejected action signals client/server desynchronization; tell
		// the client on its reliable channel rather than dropping silently.
		if client.Conn != nil {
			_ = client.Conn.Push(protocol.NewError(err.Error(), nil))
		}
	}
	return nil
}

// bind redeems a one-time code and pins the source address to the identity.
func (h *Handler) bind(record *protocol.Datagram, addr *net.UDPAddr) *protocol.Datagram {
	clientID, ok := h.binder.Consume(record.Data)
	if !ok {
		h.log.Debug("handshake with unknown code", logging.String("remote", addr.String()))
		return nil
	}
	if err := h.registry.BindAddress(clientID, addr); err != nil {
		h.log.Warn("address bind failed", logging.String("client_id", clientID), logging.Error(err))
		return nil
	}
	h.log.Info("low-latency channel bound",
		logging.String("client_id", clientID),
		logging.String("remote", addr.String()))
	return &protocol.Datagram{Type: protocol.DatagramEnter, Actor: clientID, Timestamp: h.now().UnixMilli()}
}

// touch refreshes liveness when the source address is already bound.
func (h *Handler) touch(addr *net.UDPAddr) {
	client, ok := h.registry.LookupByAddr(addr)
	if !ok {
		return
	}
	if err := h.registry.RecordLiveness(client.ID); err != nil {
		h.log.Warn("liveness update failed", logging.String("client_id", client.ID), logging.Error(err))
	}
}

// SendTo delivers a datagram to the client's bound address. Satisfies the
// game session sender contract.
func (h *Handler) SendTo(clientID string, d *protocol.Datagram) error {
	if h == nil || d == nil {
		return ErrUnboundClient
	}
	client, ok := h.registry.LookupByID(clientID)
	if !ok || client.Addr == nil {
		return fmt.Errorf("%w: %q", ErrUnboundClient, clientID)
	}
	h.mu.RLock()
	writer := h.writer
	h.mu.RUnlock()
	if writer == nil {
		return errors.New("low-latency socket not serving")
	}
	if _, err := writer.WriteToUDP(d.Encode(), client.Addr); err != nil {
		return fmt.Errorf("send datagram to %q: %w", clientID, err)
	}
	return nil
}
