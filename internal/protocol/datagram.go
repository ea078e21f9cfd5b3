package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Datagram types carried on the low-latency channel.
const (
	DatagramEnter     = "ENTER"
	DatagramPing      = "PING"
	DatagramPong      = "PONG"
	DatagramPosition  = "POSITION"
	DatagramClick     = "CLICK"
	DatagramHeartbeat = "HEARTBEAT"
	DatagramSyncTime  = "SYNC_TIME"
)

// datagramFieldCount is the fixed number of delimited fields in a record.
const datagramFieldCount = 5

// ErrMalformedDatagram signals a record that does not match the wire layout.
var ErrMalformedDatagram = errors.New("malformed datagram")

// Datagram is one low-latency record: type;actor;data;timestamp;sequence.
// Every field except the type may be empty.
type Datagram struct {
	Type      string
	Actor     string
	Data      string
	Timestamp int64
	Sequence  uint64
}

// ParseDatagram decodes a single UDP payload into a structured record.
func ParseDatagram(raw []byte) (*Datagram, error) {
	//1.- Split the record without allocating beyond the five expected fields.
	text := strings.TrimRight(string(raw), "\n")
	if text == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedDatagram)
	}
	parts := strings.SplitN(text, ";", datagramFieldCount)
	if len(parts) != datagramFieldCount {
		return nil, fmt.Errorf("%w: %d fields", ErrMalformedDatagram, len(parts))
	}
	record := &Datagram{Type: parts[0], Actor: parts[1], Data: parts[2]}
	if record.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedDatagram)
	}
	//2.- Numeric fields tolerate emptiness but not garbage.
	if parts[3] != "" {
		ts, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp %q", ErrMalformedDatagram, parts[3])
		}
		record.Timestamp = ts
	}
	if parts[4] != "" {
		seq, err := strconv.ParseUint(parts[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: sequence %q", ErrMalformedDatagram, parts[4])
		}
		record.Sequence = seq
	}
	return record, nil
}

// Encode renders the record into its single-datagram wire form.
func (d *Datagram) Encode() []byte {
	if d == nil {
		return nil
	}
	//1.- Emit empty numeric fields as blanks so zero values stay compact.
	ts := ""
	if d.Timestamp != 0 {
		ts = strconv.FormatInt(d.Timestamp, 10)
	}
	seq := ""
	if d.Sequence != 0 {
		seq = strconv.FormatUint(d.Sequence, 10)
	}
	return []byte(strings.Join([]string{d.Type, d.Actor, d.Data, ts, seq}, ";"))
}
