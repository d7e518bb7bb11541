package logchannel_test

import (
	"bytes"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"blaze/internal/logchannel"
)

func TestForwardsLogRecordsUntilClientDisconnects(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ch, err := logchannel.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}

	conn, err := net.Dial("unix", ch.Path())
	if err != nil {
		t.Fatal(err)
	}

	lines := []string{
		`{"message":"starting up","level":"info"}`,
		`{"message":"careful here","level":"warn"}`,
	}
	for _, l := range lines {
		if _, err := conn.Write([]byte(l + "\n")); err != nil {
			t.Fatal(err)
		}
	}
	conn.Close()

	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "starting up") || !strings.Contains(out, "careful here") {
		t.Fatalf("expected both messages forwarded, got: %s", out)
	}
}

func TestMalformedLineDoesNotStopForwarding(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ch, err := logchannel.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	conn, err := net.Dial("unix", ch.Path())
	if err != nil {
		t.Fatal(err)
	}
	conn.Write([]byte("not json\n"))
	conn.Write([]byte(`{"message":"still works","level":"info"}` + "\n"))
	conn.Close()

	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "still works") {
		t.Fatalf("expected later valid line to still be forwarded, got: %s", buf.String())
	}
}

func TestCloseWithoutAnyClientDoesNotHang(t *testing.T) {
	ch, err := logchannel.Open(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- ch.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung with no client ever connecting")
	}
}

func TestRecordUnmarshalsKnownLevels(t *testing.T) {
	var rec struct {
		Message string `json:"message"`
		Level   string `json:"level"`
	}
	if err := json.Unmarshal([]byte(`{"message":"m","level":"error"}`), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Level != "error" {
		t.Fatalf("unexpected level: %s", rec.Level)
	}
}
