// Package drive talks to a Parker Gemini servo/stepper drive over its
// ASCII RS-232 command protocol: a line-oriented transport with echo
// checking, a facade for the drive's named parameters and stored
// programs/profiles, and helpers to push compiled move sequences to
// the drive.
package drive

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// Port is the serial channel to the drive. The abstraction allows a
// real RS-232 port or a mock for development and tests.
type Port interface {
	io.ReadWriteCloser
}

// PortConfig holds the serial settings for a real port.
type PortConfig struct {
	// Device path, e.g. "/dev/ttyS1" or "COM3".
	Device string
	// Baud rate. Gemini drives default to 9600.
	Baud int
	// ReadTimeout bounds a single Read call. Response reads poll the
	// port against their own deadline, so this should stay small.
	ReadTimeout time.Duration
}

// DefaultPortConfig returns the settings a factory-configured Gemini
// drive expects.
func DefaultPortConfig(device string) PortConfig {
	return PortConfig{
		Device:      device,
		Baud:        9600,
		ReadTimeout: 10 * time.Millisecond,
	}
}

// OpenPort opens the real serial port for cfg.
func OpenPort(cfg PortConfig) (Port, error) {
	if cfg.Baud <= 0 {
		cfg.Baud = 9600
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Millisecond
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", cfg.Device)
	}
	return p, nil
}

// MockPort is a scripted in-memory port for tests and development.
// Responses queued with QueueResponse are released one per written
// carriage return, the way the drive answers a terminated command.
// With Echo set, every written byte is also fed back to the reader,
// the way the drive echoes typed characters.
type MockPort struct {
	// Echo mirrors written bytes into the read stream.
	Echo bool

	mu      sync.Mutex
	written bytes.Buffer
	pending bytes.Buffer
	replies []string
	closed  bool
}

// QueueResponse queues a scripted response for the next terminated
// command.
func (p *MockPort) QueueResponse(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, s)
}

// Written returns everything written to the port so far.
func (p *MockPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func (p *MockPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("mock port closed")
	}
	if p.pending.Len() == 0 {
		// A real port with a read timeout returns no data.
		return 0, nil
	}
	return p.pending.Read(b)
}

func (p *MockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("mock port closed")
	}
	p.written.Write(b)
	if p.Echo {
		p.pending.Write(b)
	}
	if bytes.ContainsRune(b, '\r') && len(p.replies) > 0 {
		p.pending.WriteString(p.replies[0])
		p.replies = p.replies[1:]
	}
	return len(b), nil
}

func (p *MockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
