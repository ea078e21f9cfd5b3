package journal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"duoplay/server/internal/protocol"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

func fixedClock() time.Time {
	return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
}

func TestNewWithoutRootDisablesJournal(t *testing.T) {
	j, _, err := New("", "run", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if j != nil {
		t.Fatalf("expected nil journal when disabled")
	}
	//1.- Nil journals must absorb every call without panicking.
	if err := j.Event("SESSION_STARTED", nil); err != nil {
		t.Fatalf("nil event: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestEventLogRoundTrip(t *testing.T) {
	root := t.TempDir()
	j, manifest, err := New(root, "lobby AB12", fixedClock)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if manifest.EventsPath != "events.jsonl.sz" {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}

	if err := j.Event("LOBBY_CREATED", map[string]string{"lobby_id": "AB12"}); err != nil {
		t.Fatalf("event: %v", err)
	}
	if err := j.Event("SESSION_STARTED", map[string]string{"lobby_id": "AB12", "game_type": "WATER_RIPPLES"}); err != nil {
		t.Fatalf("event: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	file, err := os.Open(filepath.Join(j.Directory(), "events.jsonl.sz"))
	if err != nil {
		t.Fatalf("open events: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	var types []string
	for scanner.Scan() {
		var record struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		types = append(types, record.Type)
	}
	if len(types) != 2 || types[0] != "LOBBY_CREATED" || types[1] != "SESSION_STARTED" {
		t.Fatalf("unexpected event sequence: %v", types)
	}
}

func TestActionTraceRoundTrip(t *testing.T) {
	root := t.TempDir()
	j, _, err := New(root, "trace", fixedClock)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	action := &protocol.Datagram{Type: protocol.DatagramPosition, Actor: "p1", Data: "0.5", Sequence: 7}
	if err := j.Action("AB12", action); err != nil {
		t.Fatalf("action: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	file, err := os.Open(filepath.Join(j.Directory(), "traces.bin.zst"))
	if err != nil {
		t.Fatalf("open traces: %v", err)
	}
	defer file.Close()
	reader, err := zstd.NewReader(file)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer reader.Close()

	header := make([]byte, 14)
	if _, err := io.ReadFull(reader, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	lobbyLen := binary.LittleEndian.Uint16(header[8:10])
	payloadLen := binary.LittleEndian.Uint32(header[10:14])
	body := make([]byte, int(lobbyLen)+int(payloadLen))
	if _, err := io.ReadFull(reader, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body[:lobbyLen]) != "AB12" {
		t.Fatalf("unexpected lobby tag: %q", body[:lobbyLen])
	}
	parsed, err := protocol.ParseDatagram(body[lobbyLen:])
	if err != nil {
		t.Fatalf("parse traced datagram: %v", err)
	}
	if *parsed != *action {
		t.Fatalf("trace mismatch: %+v != %+v", parsed, action)
	}
}
