// Package logchannel implements the Inter-Process Log Channel (spec.md
// §4.F): a Unix domain socket an out-of-process executor bridge connects
// to once, writing newline-delimited JSON log records that are forwarded
// to the host process's logger as they arrive.
//
// Grounded on original_source/core/src/system/ipc_server.rs and
// original_source/core/src/executors/bridge.rs's process_logs: a
// listener accepts exactly one client, reads it line by line, and
// forwards {message, level} records to a Logger until the client closes
// the connection. Reimplemented with net.Listen("unix", ...)
// in place of the original's cross-platform interprocess crate (blaze
// bridges are Unix-only per SPEC_FULL.md §6), and github.com/rs/zerolog
// as the forwarding sink, matching the teacher's logging stack.
package logchannel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Level mirrors the closed set of severities a bridge process may report.
type Level string

const (
	LevelTrace Level = "trace"
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type record struct {
	Message string `json:"message"`
	Level   Level  `json:"level"`
}

// Channel is a single-use log side-channel scoped to one executor
// invocation.
type Channel struct {
	path     string
	listener net.Listener
	logger   zerolog.Logger

	closed   atomic.Bool
	wg       sync.WaitGroup
	acceptWG sync.WaitGroup
}

// Open creates a Unix domain socket under dir and starts accepting a
// single client connection in the background, forwarding every log
// record it sends to logger until the client closes the connection;
// Close does not cut that connection short, it waits for it to end.
func Open(dir string, logger zerolog.Logger) (*Channel, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logchannel: creating socket dir %q: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("blaze_%s.sock", uuid.NewString()))
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("logchannel: listening on %q: %w", path, err)
	}

	c := &Channel{path: path, listener: ln, logger: logger}
	c.acceptWG.Add(1)
	go c.acceptLoop()
	return c, nil
}

// Path is the socket path to hand to the spawned bridge process.
func (c *Channel) Path() string {
	return c.path
}

func (c *Channel) acceptLoop() {
	defer c.acceptWG.Done()
	conn, err := c.listener.Accept()
	if err != nil {
		if !c.closed.Load() {
			c.logger.Error().Err(err).Msg("executor bridge ipc accept error")
		}
		return
	}
	c.wg.Add(1)
	go c.serve(conn)
}

func (c *Channel) serve(conn net.Conn) {
	defer c.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			c.logger.Error().Err(err).Str("line", string(line)).Msg("malformed executor bridge log line")
			continue
		}
		c.forward(rec)
	}
	if err := scanner.Err(); err != nil && !c.closed.Load() {
		c.logger.Error().Err(err).Msg("executor bridge ipc read error")
	}
}

func (c *Channel) forward(rec record) {
	var event *zerolog.Event
	switch rec.Level {
	case LevelTrace:
		event = c.logger.Trace()
	case LevelDebug:
		event = c.logger.Debug()
	case LevelWarn:
		event = c.logger.Warn()
	case LevelError:
		event = c.logger.Error()
	default:
		event = c.logger.Info()
	}
	event.Msg(rec.Message)
}

// Close stops accepting new connections, waits for any in-flight
// forwarding to finish, and removes the socket file.
func (c *Channel) Close() error {
	c.closed.Store(true)
	err := c.listener.Close()
	c.acceptWG.Wait()
	c.wg.Wait()
	_ = os.Remove(c.path)
	return err
}
