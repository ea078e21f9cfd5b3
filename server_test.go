package main

import (
	"context"
	"testing"
	"time"

	"duoplay/server/internal/config"
	"duoplay/server/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ControlAddr:     "127.0.0.1:0",
		LowLatencyAddr:  "127.0.0.1:0",
		AdminAddr:       "127.0.0.1:0",
		PingInterval:    time.Second,
		MaxPayloadBytes: 1 << 16,
		LivenessTimeout: 30 * time.Second,
		SweepInterval:   time.Second,
		TimeRefTimeout:  time.Second,
		JournalDir:      "",
	}
}

func TestNewServerRejectsNilConfig(t *testing.T) {
	if _, err := NewServer(nil, logging.NewTestLogger()); err == nil {
		t.Fatal("nil config must be rejected")
	}
}

func TestServerStartsAndStops(t *testing.T) {
	server, err := NewServer(testConfig(t), logging.NewTestLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	//1.- Give the listeners a moment to bind before asking them to stop.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestJournalDirectoryIsOptional(t *testing.T) {
	cfg := testConfig(t)
	cfg.JournalDir = t.TempDir()
	if _, err := NewServer(cfg, logging.NewTestLogger()); err != nil {
		t.Fatalf("NewServer with journal: %v", err)
	}
}
