package drive

import "strings"

// Error tokens the drive can return on a line of its own, with the
// leading '*' stripped.
var driveErrorTokens = []string{
	"INVALID_ADDRESS",
	"INVALID_DATA",
	"INVALID_DATA_HIGH",
	"INVALID_DATA_LOW",
	"UNDEFINED_LABEL",
}

// Response is the processed reply to one command. The drive echoes
// the command back, optionally follows it with an error token, and
// then with any payload lines.
type Response struct {
	// Command is the sanitized command that was sent.
	Command string
	// Raw is the full response text, carriage returns preserved.
	Raw string
	// Echo is the command as the drive echoed it back.
	Echo string
	// DriveError is the error token returned by the drive, or "".
	DriveError string
	// Lines are the response lines that are not the echo or the
	// error line.
	Lines []string
}

// Failed reports whether the command went wrong: either the drive
// returned an error token, or the echo does not match what was sent
// (corruption in transmission). Inside a program definition the drive
// prefixes its echo with "- ", which still counts as a match.
func (r *Response) Failed() bool {
	if r.DriveError != "" {
		return true
	}
	return r.Echo != r.Command && r.Echo != "- "+r.Command
}

// processResponse breaks a raw response into echo, drive error, and
// payload lines. Responses use carriage returns as line separators
// (the EOL comm setting); the first line is the echo.
func processResponse(command, raw string) *Response {
	r := &Response{Command: command, Raw: raw}

	lines := strings.Split(strings.TrimRight(raw, "\r\n"), "\r")

	if len(lines) > 0 {
		r.Echo = lines[0]
		lines = lines[1:]
	}

	if len(lines) > 0 {
		for _, tok := range driveErrorTokens {
			if lines[0] == "*"+tok {
				r.DriveError = tok
				lines = lines[1:]
				break
			}
		}
	}

	r.Lines = lines
	return r
}

// sanitizeCommand strips an inline ';' comment and surrounding
// whitespace from a command.
func sanitizeCommand(cmd string) string {
	if i := strings.IndexByte(cmd, ';'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.TrimSpace(cmd)
}

// StripCommands sanitizes a list of commands and drops the ones that
// end up blank. Stored programs come back from the drive in this
// form, so stripping before a comparison or download keeps the two
// sides comparable.
func StripCommands(commands []string) []string {
	stripped := make([]string, 0, len(commands))
	for _, c := range commands {
		if s := sanitizeCommand(c); s != "" {
			stripped = append(stripped, s)
		}
	}
	return stripped
}
