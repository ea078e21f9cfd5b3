// Package journal streams lobby and session lifecycle records to disk so
// operators can reconstruct a run after the fact. Events are a snappy
// compressed JSONL log; gameplay action traces are a zstd stream of
// length-prefixed records. All writes are best effort: a journal failure is
// logged by callers, never propagated into handler loops.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"duoplay/server/internal/protocol"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var runNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Manifest describes the journal bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version    int    `json:"version"`
	CreatedAt  string `json:"created_at"`
	EventsPath string `json:"events_path"`
	TracesPath string `json:"traces_path"`
}

// Journal owns the compressed sinks for one server run. A nil *Journal is a
// valid disabled journal: every method becomes a no-op.
type Journal struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	traceFile   *os.File
	traceStream *zstd.Encoder
}

// New prepares the journal directory and opens both compressed sinks. An
// empty root disables journaling and returns a nil journal without error.
func New(root, runName string, clock func() time.Time) (*Journal, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, nil
	}
	if clock == nil {
		clock = time.Now
	}
	cleaned := runNameCleaner.ReplaceAllString(runName, "")
	if cleaned == "" {
		cleaned = "run"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	eventsPath := filepath.Join(path, "events.jsonl.sz")
	tracesPath := filepath.Join(path, "traces.bin.zst")

	eventFile, err := os.Create(eventsPath)
	if err != nil {
		return nil, Manifest{}, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	traceFile, err := os.Create(tracesPath)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}
	traceStream, err := zstd.NewWriter(traceFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		traceFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:    1,
		CreatedAt:  created.Format(time.RFC3339Nano),
		EventsPath: "events.jsonl.sz",
		TracesPath: "traces.bin.zst",
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(path, "manifest.json"), data, 0o644)
	}
	if err != nil {
		traceStream.Close()
		traceFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	return &Journal{
		dir:         path,
		now:         clock,
		eventFile:   eventFile,
		eventStream: eventStream,
		traceFile:   traceFile,
		traceStream: traceStream,
	}, manifest, nil
}

// Directory exposes the directory backing the journal bundle.
func (j *Journal) Directory() string {
	if j == nil {
		return ""
	}
	return j.dir
}

// Event appends one lifecycle record to the compressed event log.
func (j *Journal) Event(eventType string, fields map[string]string) error {
	if j == nil {
		return nil
	}
	captured := j.now().UTC()

	j.mu.Lock()
	defer j.mu.Unlock()

	//1.- Encode the record with a capture timestamp so the JSONL stream is
	// self-describing for downstream tooling.
	record := struct {
		CapturedAt string            `json:"captured_at"`
		Type       string            `json:"type"`
		Fields     map[string]string `json:"fields,omitempty"`
	}{
		CapturedAt: captured.Format(time.RFC3339Nano),
		Type:       eventType,
		Fields:     fields,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := j.eventStream.Write(line); err != nil {
		return err
	}
	if _, err := j.eventStream.Write([]byte("\n")); err != nil {
		return err
	}
	return j.eventStream.Flush()
}

// Action appends one gameplay datagram to the trace stream, tagged with the
// lobby it was routed for.
func (j *Journal) Action(lobbyID string, d *protocol.Datagram) error {
	if j == nil || d == nil {
		return nil
	}
	payload := d.Encode()
	captured := j.now().UTC()

	j.mu.Lock()
	defer j.mu.Unlock()

	//1.- Length-prefix each record so trace readers can step without resync.
	lobbyBytes := []byte(lobbyID)
	header := make([]byte, 8+2+4)
	binary.LittleEndian.PutUint64(header[0:8], uint64(captured.UnixNano()))
	binary.LittleEndian.PutUint16(header[8:10], uint16(len(lobbyBytes)))
	binary.LittleEndian.PutUint32(header[10:14], uint32(len(payload)))
	if _, err := j.traceStream.Write(header); err != nil {
		return err
	}
	if _, err := j.traceStream.Write(lobbyBytes); err != nil {
		return err
	}
	if _, err := j.traceStream.Write(payload); err != nil {
		return err
	}
	return nil
}

// Close flushes both sinks and releases the file handles.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	//1.- Attempt every flush/close and surface the first failure.
	var firstErr error
	if err := j.eventStream.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := j.eventStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := j.eventFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := j.traceStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := j.traceFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
