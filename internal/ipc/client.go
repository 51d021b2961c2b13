package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client communicates with the daemon over a Unix domain socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new IPC client that connects to the given socket path.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// Ping tests if the daemon is alive.
func (c *Client) Ping() error {
	_, err := c.send(Request{Command: "ping"})
	return err
}

// StatusSnapshot is the daemon's status decoded into the types the
// caller actually works with: Uptime as a time.Duration instead of its
// wire string, and counters validated against the invariants the
// pipeline itself maintains (none of them can be negative).
type StatusSnapshot struct {
	Uptime          time.Duration
	WatchedRoots    []string
	RuleCount       int
	PendingEvents   int
	ProcessedEvents int
	DiscardedEvents int
}

// Idle reports whether the pipeline has no in-flight (not yet
// completed) audit events.
func (s *StatusSnapshot) Idle() bool { return s.PendingEvents == 0 }

// MarshalJSON renders the snapshot in the same shape as the wire
// StatusData, so CLI callers printing --json get the daemon's own
// field names rather than Go's default Duration-as-nanoseconds
// encoding.
func (s *StatusSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(StatusData{
		Uptime:          s.Uptime.String(),
		WatchedRoots:    s.WatchedRoots,
		RuleCount:       s.RuleCount,
		PendingEvents:   s.PendingEvents,
		ProcessedEvents: s.ProcessedEvents,
		DiscardedEvents: s.DiscardedEvents,
	})
}

// Status returns the daemon's current status, decoded field-by-field
// against the PipelineQuerier counters the server reports (see
// handleStatus) rather than treated as an opaque map.
func (c *Client) Status() (*StatusSnapshot, error) {
	resp, err := c.send(Request{Command: "status"})
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("ipc: marshal status payload: %w", err)
	}

	var data StatusData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("ipc: unmarshal status payload: %w", err)
	}

	uptime, err := time.ParseDuration(data.Uptime)
	if err != nil {
		return nil, fmt.Errorf("ipc: daemon reported unparseable uptime %q: %w", data.Uptime, err)
	}
	if data.RuleCount < 0 || data.PendingEvents < 0 || data.ProcessedEvents < 0 || data.DiscardedEvents < 0 {
		return nil, fmt.Errorf("ipc: daemon reported a negative counter: %+v", data)
	}

	return &StatusSnapshot{
		Uptime:          uptime,
		WatchedRoots:    data.WatchedRoots,
		RuleCount:       data.RuleCount,
		PendingEvents:   data.PendingEvents,
		ProcessedEvents: data.ProcessedEvents,
		DiscardedEvents: data.DiscardedEvents,
	}, nil
}

// RequestStop asks the daemon to shut down gracefully.
func (c *Client) RequestStop() error {
	_, err := c.send(Request{Command: "stop"})
	return err
}

// WaitReady polls Ping until the daemon answers or ctx is done, at the
// given interval. The IPC tests use this instead of hand-rolled retry
// loops around Ping.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	for {
		if err := c.Ping(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("ipc: daemon did not become ready: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// send dials the socket, sends a JSON request, reads the JSON response.
func (c *Client) send(req Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("ipc: connect to daemon: %w", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ipc: marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("ipc: send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("ipc: read response: %w", err)
		}
		return nil, fmt.Errorf("ipc: empty response from daemon")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("ipc: unmarshal response: %w", err)
	}

	if !resp.OK {
		return nil, fmt.Errorf("ipc: daemon error: %s", resp.Error)
	}

	return &resp, nil
}
