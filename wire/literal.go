package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

var errInvalidLiteral = errors.New("not a valid literal")

// literalToJSON rewrites a dictionary literal such as
//
//	{'command': 'send', 'topic': 'query', 'delivery': 'one', 'ok': True}
//
// into JSON. Only containers, quoted strings, numbers and the True/False/None
// keywords are understood.
func literalToJSON(s string) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\'' || c == '"':
			str, next, err := readQuoted(s, i)
			if err != nil {
				return nil, err
			}
			b, err := json.Marshal(str)
			if err != nil {
				return nil, err
			}
			out.Write(b)
			i = next
		case isWordByte(c):
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			switch word := s[i:j]; word {
			case "True":
				out.WriteString("true")
			case "False":
				out.WriteString("false")
			case "None":
				out.WriteString("null")
			default:
				return nil, fmt.Errorf("%w: unexpected identifier %q", errInvalidLiteral, word)
			}
			i = j
		case c == '(':
			out.WriteByte('[')
			i++
		case c == ')':
			out.WriteByte(']')
			i++
		case c == ',':
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']' || s[j] == ')') {
				i = j
				continue
			}
			out.WriteByte(',')
			i++
		default:
			out.WriteByte(c)
			i++
		}
	}

	if !gjson.ValidBytes(out.Bytes()) {
		return nil, errInvalidLiteral
	}
	return out.Bytes(), nil
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// readQuoted reads the quoted string starting at s[start] and returns its
// unescaped value plus the offset just past the closing quote.
func readQuoted(s string, start int) (string, int, error) {
	quote := s[start]
	var sb strings.Builder
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == quote:
			return sb.String(), i + 1, nil
		case c == '\\' && i+1 < len(s):
			i++
			switch e := s[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '0':
				sb.WriteByte(0)
			case '\\', '\'', '"':
				sb.WriteByte(e)
			default:
				sb.WriteByte('\\')
				sb.WriteByte(e)
			}
		default:
			sb.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("%w: unterminated string", errInvalidLiteral)
}
