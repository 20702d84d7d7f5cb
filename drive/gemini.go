package drive

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/frejanordsiek/GeminiMotorDrive/compiler"
	"github.com/frejanordsiek/GeminiMotorDrive/internal/debug"
	"github.com/frejanordsiek/GeminiMotorDrive/sequence"
	"github.com/frejanordsiek/GeminiMotorDrive/units"
)

// ErrProfileReadback is returned when asking the drive for a stored
// profile. The drive compiles profiles into an internal form and
// cannot list them back; this is a capability gap, not bad input.
var ErrProfileReadback = errors.New("the drive cannot read back a stored profile")

// CommandError reports a command the drive rejected or garbled.
type CommandError struct {
	Command    string
	DriveError string
}

func (e *CommandError) Error() string {
	if e.DriveError != "" {
		return fmt.Sprintf("command %q failed: drive returned %s", e.Command, e.DriveError)
	}
	return fmt.Sprintf("command %q failed: echo mismatch", e.Command)
}

// commandError builds a *CommandError from a failed response.
func commandError(r *Response) error {
	return &CommandError{Command: r.Command, DriveError: r.DriveError}
}

// Drive is the high level facade over a Gemini GV6/GT6 drive: named
// parameters, motion state, stored programs and profiles, and the
// glue that pushes compiled move sequences to the drive.
type Drive struct {
	conn *Conn

	// MaxRetries is how often a rejected or garbled command is
	// re-sent before giving up.
	MaxRetries int
}

// NewDrive wraps an attached connection.
func NewDrive(conn *Conn) *Drive {
	return &Drive{conn: conn, MaxRetries: 2}
}

// checked sends cmd immediately with retries and converts a failed
// response into a *CommandError.
func (d *Drive) checked(cmd string, opt SendOptions) (*Response, error) {
	opt.Immediate = true
	resp, err := d.conn.SendWith(context.Background(), cmd, opt)
	if err != nil {
		return nil, err
	}
	if resp.Failed() {
		return resp, commandError(resp)
	}
	return resp, nil
}

// parameter reads the named drive parameter, which the drive reports
// as a line of the form "*NAME<value>".
func (d *Drive) parameter(name string) (string, error) {
	resp, err := d.checked(name, SendOptions{MaxRetries: d.MaxRetries})
	if err != nil {
		return "", err
	}
	if len(resp.Lines) == 0 || !strings.HasPrefix(resp.Lines[0], "*"+name) {
		return "", errors.Errorf("could not retrieve parameter %s", name)
	}
	return resp.Lines[0][len(name)+1:], nil
}

func (d *Drive) boolParameter(name string) (bool, error) {
	v, err := d.parameter(name)
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

func (d *Drive) intParameter(name string) (int, error) {
	v, err := d.parameter(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse parameter %s value %q", name, v)
	}
	return n, nil
}

func (d *Drive) floatParameter(name string) (float64, error) {
	v, err := d.parameter(name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse parameter %s value %q", name, v)
	}
	return f, nil
}

// setParameter sets a named parameter by sending "NAME<value>".
func (d *Drive) setParameter(name, value string) error {
	_, err := d.checked(name+value, SendOptions{MaxRetries: d.MaxRetries})
	return err
}

func boolValue(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// Energized reports whether the motor is energized (DRIVE).
func (d *Drive) Energized() (bool, error) {
	return d.boolParameter("DRIVE")
}

// SetEnergized energizes or de-energizes the motor.
func (d *Drive) SetEnergized(on bool) error {
	return d.setParameter("DRIVE", boolValue(on))
}

// DenergizeOnKill reports whether the motor de-energizes when the
// drive is killed (KDRIVE).
func (d *Drive) DenergizeOnKill() (bool, error) {
	return d.boolParameter("KDRIVE")
}

// SetDenergizeOnKill sets the kill behavior.
func (d *Drive) SetDenergizeOnKill(on bool) error {
	return d.setParameter("KDRIVE", boolValue(on))
}

// EncoderResolution reads the encoder/resolver resolution (ERES) in
// counts per pitch.
func (d *Drive) EncoderResolution() (int, error) {
	return d.intParameter("ERES")
}

// SetEncoderResolution sets ERES and resets the drive, which the
// setting requires to take effect.
func (d *Drive) SetEncoderResolution(eres int) error {
	if err := d.setParameter("ERES", strconv.Itoa(eres)); err != nil {
		return err
	}
	return d.Reset()
}

// ElectricalPitch reads the motor's electrical pitch (DMEPIT) in mm.
func (d *Drive) ElectricalPitch() (float64, error) {
	return d.floatParameter("DMEPIT")
}

// SetElectricalPitch sets DMEPIT and resets the drive.
func (d *Drive) SetElectricalPitch(pitch float64) error {
	if err := d.setParameter("DMEPIT", strconv.FormatFloat(pitch, 'f', -1, 64)); err != nil {
		return err
	}
	return d.Reset()
}

// MaxVelocity reads the drive's velocity limit (DMVLIM) in motor
// units.
func (d *Drive) MaxVelocity() (float64, error) {
	return d.floatParameter("DMVLIM")
}

// SetMaxVelocity sets the velocity limit.
func (d *Drive) SetMaxVelocity(v float64) error {
	return d.setParameter("DMVLIM", strconv.FormatFloat(v, 'f', -1, 64))
}

// MotionCommanded reports whether motion is currently commanded: the
// first bit of the TAS status word.
func (d *Drive) MotionCommanded() (bool, error) {
	resp, err := d.checked("TAS", SendOptions{})
	if err != nil {
		return false, err
	}
	if len(resp.Lines) != 1 || !strings.HasPrefix(resp.Lines[0], "*TAS") || len(resp.Lines[0]) < 5 {
		return false, errors.New("could not read TAS status")
	}
	return resp.Lines[0][4] == '1', nil
}

// Pause makes the drive queue commands instead of executing them.
// Motion is not stopped.
func (d *Drive) Pause() error {
	_, err := d.checked("PS", SendOptions{})
	return err
}

// Unpause resumes execution of queued commands.
func (d *Drive) Unpause() error {
	_, err := d.checked("C", SendOptions{})
	return err
}

// Kill stops the motor and any running program. Whether the motor
// also de-energizes depends on DenergizeOnKill.
func (d *Drive) Kill() error {
	_, err := d.checked("K", SendOptions{})
	return err
}

// Reset resets the drive, equivalent to a power cycle.
func (d *Drive) Reset() error {
	_, err := d.checked("RESET", SendOptions{Timeout: 10 * time.Second})
	return err
}

// Program downloads stored program n from the drive (TPROG). The
// trailing END marker is removed.
func (d *Drive) Program(n int) ([]string, error) {
	resp, err := d.checked(fmt.Sprintf("TPROG PROG%d", n),
		SendOptions{Timeout: 2 * time.Second, MaxRetries: d.MaxRetries})
	if err != nil {
		return nil, err
	}
	cmds := make([]string, 0, len(resp.Lines))
	for _, line := range resp.Lines {
		if line == "*END" {
			continue
		}
		cmds = append(cmds, strings.TrimPrefix(line, "*"))
	}
	return cmds, nil
}

// Profile would download stored profile n, but the drive has no way
// to list a compiled profile back, so this always returns
// ErrProfileReadback.
func (d *Drive) Profile(n int) ([]string, error) {
	return nil, ErrProfileReadback
}

// SetProgram stores commands as program n. If the identical program
// is already on the drive nothing is written. On failure the partial
// definition is terminated and deleted.
func (d *Drive) SetProgram(ctx context.Context, n int, commands []string) error {
	stripped := StripCommands(commands)

	// Skip the download when the drive already holds exactly this
	// program.
	if current, err := d.Program(n); err == nil && equalCommands(current, stripped) {
		debug.Verbose("Program %d already on drive, not rewriting", n)
		return nil
	}

	return d.setStored(ctx, fmt.Sprintf("PROG%d", n), stripped)
}

// SetProfile stores commands as profile n. Profiles cannot be read
// back, so there is no identity check: the profile is always
// rewritten.
func (d *Drive) SetProfile(ctx context.Context, n int, commands []string) error {
	return d.setStored(ctx, fmt.Sprintf("PROF%d", n), StripCommands(commands))
}

// setStored deletes and redefines a stored program or profile:
// DEL/DEF, the command body, END. Inside the definition the drive
// answers with the "- " continuation prompt.
func (d *Drive) setStored(ctx context.Context, name string, commands []string) error {
	if _, err := d.conn.SendWith(ctx, "DEL "+name, SendOptions{EOR: []string{"\n"}}); err != nil {
		return err
	}

	body := append([]string{"DEF " + name}, commands...)
	responses, err := d.conn.SendAll(ctx, body, SendOptions{EOR: []string{"\n- "}})
	if err == nil && len(responses) == len(body) && !responses[len(responses)-1].Failed() {
		end, endErr := d.conn.SendWith(ctx, "END", SendOptions{EOR: []string{"\n"}})
		if endErr == nil && !end.Failed() {
			debug.Live("Stored %s (%d commands)", name, len(commands))
			return nil
		}
	}

	// The definition went wrong somewhere: close it out and delete
	// the fragment so the drive is not left in definition mode.
	cleanup := []string{"END", "DEL " + name}
	_, _ = d.conn.SendAll(context.Background(), cleanup, SendOptions{MaxRetries: d.MaxRetries})
	if err != nil {
		return err
	}
	if len(responses) > 0 && responses[len(responses)-1].Failed() {
		return commandError(responses[len(responses)-1])
	}
	return errors.Errorf("storing %s failed", name)
}

// RunProgram runs stored program n and collects its output, which
// ends with the *END marker. The timeout must cover the full run
// time; use SequenceTime to size it.
func (d *Drive) RunProgram(ctx context.Context, n int, timeout time.Duration) (*Response, error) {
	resp, err := d.conn.SendWith(ctx, fmt.Sprintf("RUN PROG%d", n), SendOptions{
		Immediate: true,
		Timeout:   timeout,
		EOR:       []string{RunEOR},
	})
	if err != nil {
		return nil, err
	}
	if resp.Failed() {
		return resp, commandError(resp)
	}
	return resp, nil
}

// RunProfile starts stored profile n. Profiles run without output
// beyond the echoed command, so this returns quickly.
func (d *Drive) RunProfile(ctx context.Context, n int) (*Response, error) {
	resp, err := d.conn.SendWith(ctx, fmt.Sprintf("PRUN PROF%d", n), SendOptions{Immediate: true})
	if err != nil {
		return nil, err
	}
	if resp.Failed() {
		return resp, commandError(resp)
	}
	return resp, nil
}

// StoreSequence compiles a move sequence in motor units and stores it
// on the drive as program or profile n, depending on mode.
func (d *Drive) StoreSequence(ctx context.Context, n int, s sequence.Sequence, mode compiler.Mode) error {
	commands, err := compiler.Compile(s, mode)
	if err != nil {
		return err
	}
	if mode == compiler.ModeProfile {
		return d.SetProfile(ctx, n, commands)
	}
	return d.SetProgram(ctx, n, commands)
}

// Converter builds a unit converter from the motor constants the
// drive reports (ERES and DMEPIT). metersPerUnit picks the caller's
// distance unit; 0 means meters.
func (d *Drive) Converter(metersPerUnit float64) (*units.Converter, error) {
	eres, err := d.EncoderResolution()
	if err != nil {
		return nil, err
	}
	pitch, err := d.ElectricalPitch()
	if err != nil {
		return nil, err
	}
	return units.NewConverter(pitch, float64(eres), metersPerUnit)
}

// SequenceTime predicts the execution time of a sequence in motor
// units, using the encoder resolution reported by the drive.
func (d *Drive) SequenceTime(s sequence.Sequence) (float64, error) {
	eres, err := d.EncoderResolution()
	if err != nil {
		return 0, err
	}
	return compiler.SequenceTime(s, float64(eres))
}

func equalCommands(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
