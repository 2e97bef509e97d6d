package wire

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	json "github.com/goccy/go-json"
)

// QuitToken is the bare line a peer sends to close its connection.
const QuitToken = "quit"

// ErrQuit is returned by Decode when the line is the termination token.
var ErrQuit = errors.New("wire: quit")

var errEmptyLine = errors.New("empty line")

// DecodeError reports a line that could not be turned into a frame.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	line := e.Line
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	return fmt.Sprintf("wire: decode %q: %v", line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Sanitize strips ASCII control characters, the line terminator included.
func Sanitize(line []byte) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, string(line))
}

// Decode parses one line into a Frame.
//
// The line is sanitized, then parsed as JSON. When that fails a permissive
// literal syntax (single quotes, True/False/None, tuples, trailing commas) is
// tried. Every failure is reported as a *DecodeError; the termination token is
// reported as ErrQuit.
func Decode(line []byte) (Frame, error) {
	if !utf8.Valid(line) {
		return Frame{}, &DecodeError{Line: string(line), Err: errors.New("invalid utf-8")}
	}

	text := Sanitize(line)
	if text == QuitToken {
		return Frame{}, ErrQuit
	}
	if strings.TrimSpace(text) == "" {
		return Frame{}, &DecodeError{Line: text, Err: errEmptyLine}
	}

	var frame Frame
	if err := json.Unmarshal([]byte(text), &frame); err != nil {
		converted, lerr := literalToJSON(text)
		if lerr != nil {
			return Frame{}, &DecodeError{Line: text, Err: errors.Join(err, lerr)}
		}
		frame = Frame{}
		if err := json.Unmarshal(converted, &frame); err != nil {
			return Frame{}, &DecodeError{Line: text, Err: err}
		}
	}

	if err := frame.Validate(); err != nil {
		return Frame{}, &DecodeError{Line: text, Err: err}
	}
	return frame, nil
}

// Encode serializes f followed by a single newline.
func Encode(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: encode frame: %w", err)
	}
	return append(b, '\n'), nil
}

// Quit returns the encoded termination token.
func Quit() []byte {
	return []byte(QuitToken + "\n")
}
