package drive

import (
	"context"
	"strings"
	"testing"
	"time"
)

// testConnConfig returns transport timings small enough for tests.
func testConnConfig(checkEcho bool) ConnConfig {
	return ConnConfig{
		CheckEcho:   checkEcho,
		Timeout:     100 * time.Millisecond,
		CharDelay:   time.Microsecond,
		PollDelay:   200 * time.Microsecond,
		RetryPause:  time.Millisecond,
		SettleDelay: time.Millisecond,
	}
}

// newTestConn wires a Conn to a MockPort without going through the
// attach sequence.
func newTestConn(checkEcho bool) (*Conn, *MockPort) {
	p := &MockPort{Echo: true}
	cfg := testConnConfig(checkEcho)
	cfg.applyDefaults()
	return &Conn{port: p, cfg: cfg}, p
}

func TestNewConn_AttachSequence(t *testing.T) {
	p := &MockPort{}
	if _, err := NewConn(p, testConnConfig(false)); err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}
	want := "!ECHO1\r!ERRLVL4\r!BOT0,0,0\r!EOT10,0,0\r!EOL13,0,0\r" +
		"!ERRBAD0,0,0,0\r!ERROK0,0,0,0\r"
	if got := p.Written(); got != want {
		t.Errorf("attach wrote %q, want %q", got, want)
	}
}

func TestClose_RestoresDefaults(t *testing.T) {
	p := &MockPort{}
	c, err := NewConn(p, testConnConfig(false))
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	want := "!ECHO1\r!ERRLVL4\r!BOT0,0,0\r!EOT13,0,0\r!EOL13,10,0\r" +
		"!ERRBAD13,10,63,32\r!ERROK13,10,62,32\r"
	if got := p.Written(); !strings.HasSuffix(got, want) {
		t.Errorf("detach wrote %q, want suffix %q", got, want)
	}
	if _, err := p.Write([]byte{'x'}); err == nil {
		t.Error("port should be closed after Close")
	}
}

func TestSend_ParameterQuery(t *testing.T) {
	c, p := newTestConn(false)
	p.QueueResponse("*DRIVE1\n")

	resp, err := c.Send("DRIVE")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Failed() {
		t.Fatalf("response failed: %+v", resp)
	}
	if resp.Echo != "DRIVE" {
		t.Errorf("echo = %q, want %q", resp.Echo, "DRIVE")
	}
	if len(resp.Lines) != 1 || resp.Lines[0] != "*DRIVE1" {
		t.Errorf("lines = %q, want [*DRIVE1]", resp.Lines)
	}
	if got := p.Written(); got != "DRIVE\r" {
		t.Errorf("wrote %q, want %q", got, "DRIVE\r")
	}
}

func TestSendImmediate_Prefix(t *testing.T) {
	c, p := newTestConn(false)
	p.QueueResponse("\n")

	resp, err := c.SendImmediate("K")
	if err != nil {
		t.Fatalf("SendImmediate failed: %v", err)
	}
	if resp.Command != "!K" {
		t.Errorf("command = %q, want %q", resp.Command, "!K")
	}
	if got := p.Written(); got != "!K\r" {
		t.Errorf("wrote %q, want %q", got, "!K\r")
	}
}

func TestSendWith_CheckEcho(t *testing.T) {
	c, p := newTestConn(true)
	p.QueueResponse("*ERES4000\n")

	resp, err := c.SendWith(context.Background(), "ERES", SendOptions{Immediate: true})
	if err != nil {
		t.Fatalf("SendWith failed: %v", err)
	}
	if resp.Failed() {
		t.Fatalf("response failed: %+v", resp)
	}
	// The echoed characters are consumed while typing and put back in
	// front of the raw text for processing.
	if resp.Echo != "!ERES" {
		t.Errorf("echo = %q, want %q", resp.Echo, "!ERES")
	}
	if len(resp.Lines) != 1 || resp.Lines[0] != "*ERES4000" {
		t.Errorf("lines = %q, want [*ERES4000]", resp.Lines)
	}
}

func TestSendWith_RetriesOnDriveError(t *testing.T) {
	c, p := newTestConn(false)
	p.QueueResponse("*INVALID_DATA\n")
	p.QueueResponse("\n")

	resp, err := c.SendWith(context.Background(), "V100", SendOptions{MaxRetries: 1})
	if err != nil {
		t.Fatalf("SendWith failed: %v", err)
	}
	if resp.Failed() {
		t.Errorf("retry should have succeeded: %+v", resp)
	}
	if got := p.Written(); got != "V100\rV100\r" {
		t.Errorf("wrote %q, want the command twice", got)
	}
}

func TestSendWith_ReturnsLastFailure(t *testing.T) {
	c, p := newTestConn(false)
	p.QueueResponse("*INVALID_DATA\n")
	p.QueueResponse("*INVALID_DATA_HIGH\n")

	resp, err := c.SendWith(context.Background(), "V100", SendOptions{MaxRetries: 1})
	if err != nil {
		t.Fatalf("SendWith failed: %v", err)
	}
	if !resp.Failed() {
		t.Error("response should report failure")
	}
	if resp.DriveError != "INVALID_DATA_HIGH" {
		t.Errorf("drive error = %q, want the last attempt's", resp.DriveError)
	}
}

func TestSendWith_CancelledContext(t *testing.T) {
	c, _ := newTestConn(false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.SendWith(ctx, "DRIVE", SendOptions{}); err == nil {
		t.Error("expected error for cancelled context, got nil")
	}
}

func TestSendAll_StopsOnFailure(t *testing.T) {
	c, p := newTestConn(false)
	p.QueueResponse("\n")
	p.QueueResponse("*UNDEFINED_LABEL\n")

	responses, err := c.SendAll(context.Background(), []string{"A100", "GO2", "V50"}, SendOptions{})
	if err != nil {
		t.Fatalf("SendAll failed: %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}
	if responses[0].Failed() {
		t.Error("first command should have succeeded")
	}
	if !responses[1].Failed() {
		t.Error("second command should have failed")
	}
	if strings.Contains(p.Written(), "V50") {
		t.Error("third command should not have been sent")
	}
}

func TestSend_SanitizesComment(t *testing.T) {
	c, p := newTestConn(false)
	p.QueueResponse("\n")

	resp, err := c.Send("A100 ; set accel")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Command != "A100" {
		t.Errorf("command = %q, want %q", resp.Command, "A100")
	}
	if got := p.Written(); got != "A100\r" {
		t.Errorf("wrote %q, want %q", got, "A100\r")
	}
}

func TestApplyBackspaces(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"GO1", "GO1"},
		{"GX\x08O1", "GO1"},
		{"\x08GO1", "GO1"},
		{"GO12\x08\x08", "GO"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := string(applyBackspaces([]byte(tc.in))); got != tc.want {
			t.Errorf("applyBackspaces(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
