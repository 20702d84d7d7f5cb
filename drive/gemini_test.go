package drive

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/frejanordsiek/GeminiMotorDrive/compiler"
	"github.com/frejanordsiek/GeminiMotorDrive/sequence"
)

func newTestDrive() (*Drive, *MockPort) {
	c, p := newTestConn(false)
	return NewDrive(c), p
}

func TestDrive_Energized(t *testing.T) {
	d, p := newTestDrive()
	p.QueueResponse("*DRIVE1\n")
	on, err := d.Energized()
	if err != nil {
		t.Fatalf("Energized failed: %v", err)
	}
	if !on {
		t.Error("Energized = false, want true")
	}
	if got := p.Written(); got != "!DRIVE\r" {
		t.Errorf("wrote %q, want %q", got, "!DRIVE\r")
	}
}

func TestDrive_SetEnergized(t *testing.T) {
	d, p := newTestDrive()
	p.QueueResponse("\n")
	if err := d.SetEnergized(true); err != nil {
		t.Fatalf("SetEnergized failed: %v", err)
	}
	if got := p.Written(); got != "!DRIVE1\r" {
		t.Errorf("wrote %q, want %q", got, "!DRIVE1\r")
	}
}

func TestDrive_EncoderResolution(t *testing.T) {
	d, p := newTestDrive()
	p.QueueResponse("*ERES4000\n")
	eres, err := d.EncoderResolution()
	if err != nil {
		t.Fatalf("EncoderResolution failed: %v", err)
	}
	if eres != 4000 {
		t.Errorf("EncoderResolution = %d, want 4000", eres)
	}
}

func TestDrive_SetEncoderResolutionResets(t *testing.T) {
	d, p := newTestDrive()
	p.QueueResponse("\n")
	p.QueueResponse("\n")
	if err := d.SetEncoderResolution(4096); err != nil {
		t.Fatalf("SetEncoderResolution failed: %v", err)
	}
	if got := p.Written(); got != "!ERES4096\r!RESET\r" {
		t.Errorf("wrote %q, want set followed by reset", got)
	}
}

func TestDrive_ElectricalPitch(t *testing.T) {
	d, p := newTestDrive()
	p.QueueResponse("*DMEPIT12.7\n")
	pitch, err := d.ElectricalPitch()
	if err != nil {
		t.Fatalf("ElectricalPitch failed: %v", err)
	}
	if pitch != 12.7 {
		t.Errorf("ElectricalPitch = %g, want 12.7", pitch)
	}
}

func TestDrive_ParameterGarbled(t *testing.T) {
	d, p := newTestDrive()
	p.QueueResponse("\n")
	if _, err := d.EncoderResolution(); err == nil {
		t.Error("expected error for missing parameter line, got nil")
	}
}

func TestDrive_ParameterDriveError(t *testing.T) {
	d, p := newTestDrive()
	// Exhaust the retries.
	p.QueueResponse("*UNDEFINED_LABEL\n")
	p.QueueResponse("*UNDEFINED_LABEL\n")
	p.QueueResponse("*UNDEFINED_LABEL\n")
	_, err := d.EncoderResolution()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %T: %v", err, err)
	}
	if cmdErr.DriveError != "UNDEFINED_LABEL" {
		t.Errorf("drive error = %q, want UNDEFINED_LABEL", cmdErr.DriveError)
	}
}

func TestDrive_MotionCommanded(t *testing.T) {
	cases := []struct {
		name string
		line string
		want bool
	}{
		{"moving", "*TAS1000_0000_0000_0000\n", true},
		{"at rest", "*TAS0000_0000_0000_0000\n", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, p := newTestDrive()
			p.QueueResponse(tc.line)
			got, err := d.MotionCommanded()
			if err != nil {
				t.Fatalf("MotionCommanded failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("MotionCommanded = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDrive_MotionControl(t *testing.T) {
	cases := []struct {
		name string
		call func(*Drive) error
		want string
	}{
		{"pause", (*Drive).Pause, "!PS\r"},
		{"unpause", (*Drive).Unpause, "!C\r"},
		{"kill", (*Drive).Kill, "!K\r"},
		{"reset", (*Drive).Reset, "!RESET\r"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, p := newTestDrive()
			p.QueueResponse("\n")
			if err := tc.call(d); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := p.Written(); got != tc.want {
				t.Errorf("wrote %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDrive_Program(t *testing.T) {
	d, p := newTestDrive()
	p.QueueResponse("*A100\r*GO1\r*END\n")
	cmds, err := d.Program(1)
	if err != nil {
		t.Fatalf("Program failed: %v", err)
	}
	want := []string{"A100", "GO1"}
	if len(cmds) != 2 || cmds[0] != want[0] || cmds[1] != want[1] {
		t.Errorf("Program = %q, want %q", cmds, want)
	}
	if got := p.Written(); got != "!TPROG PROG1\r" {
		t.Errorf("wrote %q, want %q", got, "!TPROG PROG1\r")
	}
}

func TestDrive_ProfileReadback(t *testing.T) {
	d, _ := newTestDrive()
	if _, err := d.Profile(1); !errors.Is(err, ErrProfileReadback) {
		t.Errorf("Profile error = %v, want ErrProfileReadback", err)
	}
}

func TestDrive_SetProgram_SkipsIdentical(t *testing.T) {
	d, p := newTestDrive()
	p.QueueResponse("*A100\r*GO1\r*END\n")
	if err := d.SetProgram(context.Background(), 1, []string{"A100", "GO1"}); err != nil {
		t.Fatalf("SetProgram failed: %v", err)
	}
	if got := p.Written(); got != "!TPROG PROG1\r" {
		t.Errorf("identical program should only be read back, wrote %q", got)
	}
}

func TestDrive_SetProgram_Writes(t *testing.T) {
	d, p := newTestDrive()
	p.QueueResponse("*END\n")  // readback: program differs
	p.QueueResponse("\n")      // DEL
	p.QueueResponse("\n- ")    // DEF
	p.QueueResponse("\n- ")    // A100
	p.QueueResponse("\n- ")    // GO1
	p.QueueResponse("\n")      // END
	if err := d.SetProgram(context.Background(), 1, []string{"A100", "GO1"}); err != nil {
		t.Fatalf("SetProgram failed: %v", err)
	}
	want := "!TPROG PROG1\rDEL PROG1\rDEF PROG1\rA100\rGO1\rEND\r"
	if got := p.Written(); got != want {
		t.Errorf("wrote %q, want %q", got, want)
	}
}

func TestDrive_SetProgram_CleansUpOnFailure(t *testing.T) {
	d, p := newTestDrive()
	p.QueueResponse("*END\n")            // readback: program differs
	p.QueueResponse("\n")                // DEL
	p.QueueResponse("\n- ")              // DEF
	p.QueueResponse("*INVALID_DATA\n- ") // A100 rejected
	err := d.SetProgram(context.Background(), 1, []string{"A100", "GO1"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %T: %v", err, err)
	}
	if !strings.HasSuffix(p.Written(), "END\rDEL PROG1\r") {
		t.Errorf("failed download should end the definition and delete the fragment, wrote %q", p.Written())
	}
}

func TestDrive_SetProfile_AlwaysWrites(t *testing.T) {
	d, p := newTestDrive()
	p.QueueResponse("\n")   // DEL
	p.QueueResponse("\n- ") // DEF
	p.QueueResponse("\n- ") // GOBUF1
	p.QueueResponse("\n")   // END
	if err := d.SetProfile(context.Background(), 2, []string{"GOBUF1"}); err != nil {
		t.Fatalf("SetProfile failed: %v", err)
	}
	want := "DEL PROF2\rDEF PROF2\rGOBUF1\rEND\r"
	if got := p.Written(); got != want {
		t.Errorf("wrote %q, want %q", got, want)
	}
}

func TestDrive_RunProgram(t *testing.T) {
	d, p := newTestDrive()
	p.QueueResponse("*A100\r*END\n")
	resp, err := d.RunProgram(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("RunProgram failed: %v", err)
	}
	if got := p.Written(); got != "!RUN PROG1\r" {
		t.Errorf("wrote %q, want %q", got, "!RUN PROG1\r")
	}
	if len(resp.Lines) != 2 || resp.Lines[1] != "*END" {
		t.Errorf("lines = %q, want trailing *END", resp.Lines)
	}
}

func TestDrive_RunProfile(t *testing.T) {
	d, p := newTestDrive()
	p.QueueResponse("\n")
	if _, err := d.RunProfile(context.Background(), 3); err != nil {
		t.Fatalf("RunProfile failed: %v", err)
	}
	if got := p.Written(); got != "!PRUN PROF3\r" {
		t.Errorf("wrote %q, want %q", got, "!PRUN PROF3\r")
	}
}

func TestDrive_StoreSequence(t *testing.T) {
	d, p := newTestDrive()
	s := sequence.Sequence{
		{
			Iterations: 1,
			Moves:      []sequence.Move{{Distance: 500, MaxVelocity: 10, Accel: 5, Decel: 5}},
			WaitTimes:  []float64{0},
		},
	}
	// Compiles to A5, AD5, V10, D500, VF0, GOBUF1.
	p.QueueResponse("\n") // DEL
	for i := 0; i < 7; i++ {
		p.QueueResponse("\n- ") // DEF plus six commands
	}
	p.QueueResponse("\n") // END
	if err := d.StoreSequence(context.Background(), 1, s, compiler.ModeProfile); err != nil {
		t.Fatalf("StoreSequence failed: %v", err)
	}
	want := "DEL PROF1\rDEF PROF1\rA5\rAD5\rV10\rD500\rVF0\rGOBUF1\rEND\r"
	if got := p.Written(); got != want {
		t.Errorf("wrote %q, want %q", got, want)
	}
}

func TestDrive_StoreSequence_InvalidSequence(t *testing.T) {
	d, p := newTestDrive()
	s := sequence.Sequence{
		{
			Iterations: 1,
			Moves:      []sequence.Move{{Distance: 0, MaxVelocity: 10, Accel: 5}},
			WaitTimes:  []float64{0},
		},
	}
	if err := d.StoreSequence(context.Background(), 1, s, compiler.ModeProgram); err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if p.Written() != "" {
		t.Errorf("invalid sequence should not touch the drive, wrote %q", p.Written())
	}
}

func TestDrive_Converter(t *testing.T) {
	d, p := newTestDrive()
	p.QueueResponse("*ERES4000\n")
	p.QueueResponse("*DMEPIT12.7\n")
	conv, err := d.Converter(0.01)
	if err != nil {
		t.Fatalf("Converter failed: %v", err)
	}
	if conv.EncoderResolution != 4000 || conv.ElectricalPitch != 12.7 || conv.MetersPerUnit != 0.01 {
		t.Errorf("converter = %+v", conv)
	}
}

func TestDrive_SequenceTime(t *testing.T) {
	d, p := newTestDrive()
	p.QueueResponse("*ERES1\n")
	s := sequence.Sequence{
		{
			Iterations: 1,
			Moves:      []sequence.Move{{Distance: 1000, MaxVelocity: 100, Accel: 50, Decel: 50}},
			WaitTimes:  []float64{0},
		},
	}
	got, err := d.SequenceTime(s)
	if err != nil {
		t.Fatalf("SequenceTime failed: %v", err)
	}
	if got != 12 {
		t.Errorf("SequenceTime = %g, want 12", got)
	}
}

func TestCommandError_Message(t *testing.T) {
	withTok := &CommandError{Command: "V100", DriveError: "INVALID_DATA"}
	if !strings.Contains(withTok.Error(), "INVALID_DATA") || !strings.Contains(withTok.Error(), "V100") {
		t.Errorf("message %q should name the command and the drive error", withTok.Error())
	}
	noTok := &CommandError{Command: "V100"}
	if !strings.Contains(noTok.Error(), "echo") {
		t.Errorf("message %q should mention the echo mismatch", noTok.Error())
	}
}
