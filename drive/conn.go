package drive

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/frejanordsiek/GeminiMotorDrive/internal/debug"
)

// Comm settings pushed to the drive on attach: echo on, error level 4,
// no begin-of-transmission characters, '\n' transmission terminator,
// carriage returns inside responses, and no error/ok prompts. The
// transport depends on exactly this framing.
var attachCommands = []string{
	"ERRLVL4",
	"BOT0,0,0",
	"EOT10,0,0",
	"EOL13,0,0",
	"ERRBAD0,0,0,0",
	"ERROK0,0,0,0",
}

// Comm settings restored on Close (the drive's manual defaults).
var detachCommands = []string{
	"ECHO1",
	"ERRLVL4",
	"BOT0,0,0",
	"EOT13,0,0",
	"EOL13,10,0",
	"ERRBAD13,10,63,32",
	"ERROK13,10,62,32",
}

// End-of-response markers. Most commands end with '\n' or, inside a
// program definition, '\n- '. Running a program ends with RunEOR.
var DefaultEOR = []string{"\n", "\n- "}

// RunEOR terminates the output of a full program run.
const RunEOR = "*END\n"

// ConnConfig tunes the transport. Zero values get defaults.
type ConnConfig struct {
	// CheckEcho corrects transmission mistakes using the drive's
	// character echo while a command is typed out.
	CheckEcho bool
	// Timeout is the default time to wait for a response.
	Timeout time.Duration
	// CharDelay is the pause after each written character, so the
	// drive's input buffer never overruns.
	CharDelay time.Duration
	// PollDelay is the interval between reads while waiting for a
	// response.
	PollDelay time.Duration
	// RetryPause is the breathing time between retries and between
	// consecutive commands.
	RetryPause time.Duration
	// SettleDelay is how long to wait after pushing comm settings
	// before discarding the accumulated replies.
	SettleDelay time.Duration
}

func (c *ConnConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.CharDelay <= 0 {
		c.CharDelay = 10 * time.Millisecond
	}
	if c.PollDelay <= 0 {
		c.PollDelay = time.Millisecond
	}
	if c.RetryPause <= 0 {
		c.RetryPause = 250 * time.Millisecond
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
}

// Conn is the line-oriented ASCII transport to the drive: send one
// command, read back the echo and the terminated response block within
// a timeout. It owns the port's comm settings while attached.
type Conn struct {
	port Port
	cfg  ConnConfig
}

// NewConn wraps port and pushes the comm settings the transport
// needs. The drive's previous comm settings are lost; Close restores
// the manual defaults.
func NewConn(port Port, cfg ConnConfig) (*Conn, error) {
	cfg.applyDefaults()
	c := &Conn{port: port, cfg: cfg}

	// Echo may not be on yet, so the echo command itself cannot be
	// echo checked.
	if _, err := c.writeCommand("ECHO1", true, false, cfg.Timeout); err != nil {
		return nil, errors.Wrap(err, "enable command echo")
	}
	for _, cmd := range attachCommands {
		if _, err := c.writeCommand(cmd, true, cfg.CheckEcho, cfg.Timeout); err != nil {
			return nil, errors.Wrapf(err, "set comm parameter %s", cmd)
		}
	}

	// Let the drive chew through the settings, then discard whatever
	// it replied.
	time.Sleep(cfg.SettleDelay)
	c.drain()
	debug.Live("Drive transport attached (echo check: %v)", cfg.CheckEcho)
	return c, nil
}

// Close restores the drive's default comm settings and closes the
// port.
func (c *Conn) Close() error {
	for _, cmd := range detachCommands {
		if _, err := c.writeCommand(cmd, true, false, c.cfg.Timeout); err != nil {
			debug.Error(err)
			break
		}
	}
	time.Sleep(c.cfg.SettleDelay)
	c.drain()
	return c.port.Close()
}

// SendOptions controls a single command exchange. Zero values get the
// connection defaults.
type SendOptions struct {
	// Immediate prefixes the command with '!' so the drive executes
	// it right away instead of queueing it.
	Immediate bool
	// Timeout for reading the response.
	Timeout time.Duration
	// MaxRetries re-sends the command when the response indicates an
	// error.
	MaxRetries int
	// EOR are the accepted end-of-response markers.
	EOR []string
}

// Send sends one command with default options and returns its
// processed response. A non-nil error means the exchange itself broke
// (port I/O); a drive-level problem is reported through
// Response.Failed.
func (c *Conn) Send(cmd string) (*Response, error) {
	return c.SendWith(context.Background(), cmd, SendOptions{})
}

// SendImmediate sends one command as an immediate command.
func (c *Conn) SendImmediate(cmd string) (*Response, error) {
	return c.SendWith(context.Background(), cmd, SendOptions{Immediate: true})
}

// SendWith sends one command with full control over the exchange,
// retrying failed commands up to opt.MaxRetries times.
func (c *Conn) SendWith(ctx context.Context, cmd string, opt SendOptions) (*Response, error) {
	if opt.Timeout <= 0 {
		opt.Timeout = c.cfg.Timeout
	}
	if len(opt.EOR) == 0 {
		opt.EOR = DefaultEOR
	}

	var resp *Response
	for try := 0; try <= opt.MaxRetries; try++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sent, err := c.writeCommand(cmd, opt.Immediate, c.cfg.CheckEcho, opt.Timeout)
		if err != nil {
			return nil, errors.Wrapf(err, "send command %q", cmd)
		}
		raw, err := c.readResponse(ctx, opt.Timeout, opt.EOR)
		if err != nil {
			return nil, errors.Wrapf(err, "read response to %q", cmd)
		}
		// With echo checking the echoed characters were consumed
		// while typing, so put the command back in front for
		// processing.
		if c.cfg.CheckEcho {
			raw = sent + raw
		}
		resp = processResponse(sent, raw)
		debug.Exchange(sent, resp.Raw)
		if !resp.Failed() {
			return resp, nil
		}
		time.Sleep(c.cfg.RetryPause)
	}
	return resp, nil
}

// SendAll sends commands one by one, collecting responses, and stops
// after the first command that still fails once its retries are
// exhausted. The responses gathered so far are always returned.
func (c *Conn) SendAll(ctx context.Context, cmds []string, opt SendOptions) ([]*Response, error) {
	responses := make([]*Response, 0, len(cmds))
	for _, cmd := range cmds {
		resp, err := c.SendWith(ctx, cmd, opt)
		if err != nil {
			return responses, err
		}
		responses = append(responses, resp)
		if resp.Failed() {
			break
		}
		time.Sleep(c.cfg.RetryPause)
	}
	return responses, nil
}

// writeCommand sanitizes cmd, types it out character by character,
// and terminates it with a carriage return. With checkEcho the
// drive's echo is compared as characters go out and mistakes are
// erased with backspaces until the echo matches or the timeout runs
// out.
func (c *Conn) writeCommand(cmd string, immediate, checkEcho bool, timeout time.Duration) (string, error) {
	s := sanitizeCommand(cmd)
	if immediate && !strings.HasPrefix(s, "!") {
		s = "!" + s
	}
	out := []byte(s)

	// Discard stale bytes so they cannot pollute the echo or the
	// response.
	c.drain()

	if !checkEcho {
		for _, b := range out {
			if _, err := c.port.Write([]byte{b}); err != nil {
				return s, errors.Wrap(err, "write to port")
			}
			time.Sleep(c.cfg.CharDelay)
		}
	} else {
		deadline := time.Now().Add(timeout)
		var echo []byte
		for !bytes.Equal(echo, out) && time.Now().Before(deadline) {
			// If the echo so far is a prefix of the command, type the
			// next character; otherwise erase the mistake.
			var next byte = 0x08
			if bytes.HasPrefix(out, echo) {
				next = out[len(echo)]
			}
			if _, err := c.port.Write([]byte{next}); err != nil {
				return s, errors.Wrap(err, "write to port")
			}
			time.Sleep(c.cfg.CharDelay)

			chunk, err := c.readAvailable()
			if err != nil {
				return s, err
			}
			echo = applyBackspaces(append(echo, chunk...))
		}
	}

	if _, err := c.port.Write([]byte{'\r'}); err != nil {
		return s, errors.Wrap(err, "write command terminator")
	}
	return s, nil
}

// readResponse accumulates port output until one of the
// end-of-response markers shows up or the timeout elapses. Whatever
// was collected is returned either way; a short or garbled response
// shows up as an echo mismatch during processing.
func (c *Conn) readResponse(ctx context.Context, timeout time.Duration, eors []string) (string, error) {
	deadline := time.Now().Add(timeout)
	var buf []byte
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		chunk, err := c.readAvailable()
		if err != nil {
			return "", err
		}
		buf = append(buf, chunk...)

		// Cut everything after the earliest marker.
		best := -1
		bestLen := 0
		for _, eor := range eors {
			if i := bytes.Index(buf, []byte(eor)); i >= 0 && (best < 0 || i < best) {
				best, bestLen = i, len(eor)
			}
		}
		if best >= 0 {
			return string(buf[:best+bestLen]), nil
		}
		if !time.Now().Before(deadline) {
			return string(buf), nil
		}
		time.Sleep(c.cfg.PollDelay)
	}
}

// readAvailable reads whatever the port has right now. A read timeout
// surfaces as no data (or io.EOF on some platforms), not as an error.
func (c *Conn) readAvailable() ([]byte, error) {
	var out []byte
	tmp := make([]byte, 256)
	for {
		n, err := c.port.Read(tmp)
		if n > 0 {
			out = append(out, tmp[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, errors.Wrap(err, "read from port")
		}
		if n < len(tmp) {
			return out, nil
		}
	}
}

// drain discards everything currently readable on the port.
func (c *Conn) drain() {
	for {
		chunk, err := c.readAvailable()
		if err != nil || len(chunk) == 0 {
			return
		}
	}
}

// applyBackspaces resolves 0x08 characters in an echo: each one
// deletes itself and the character before it.
func applyBackspaces(echo []byte) []byte {
	out := echo[:0]
	for _, b := range echo {
		if b == 0x08 {
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			continue
		}
		out = append(out, b)
	}
	return out
}
