// Package wire defines the newline-delimited JSON message that carries one
// fuzzing command from the generator to the executor.
package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/c2afuzz/c2afuzz/internal/cmddb"
	fuzzerrors "github.com/c2afuzz/c2afuzz/internal/errors"
	"github.com/c2afuzz/c2afuzz/internal/params"
)

// MaxDatagramSize is the largest UDP payload a role reads.
const MaxDatagramSize = 65535

// MaxPayloadSize is the largest payload a single IPv4 UDP datagram carries.
const MaxPayloadSize = 65507

// Meta carries generator-side context.
type Meta struct {
	GeneratorPID int               `json:"generator_pid,omitempty"`
	MsgID        string            `json:"msg_id,omitempty"`
	Strategy     string            `json:"strategy,omitempty"`
	Seed         *uint64           `json:"seed,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// FuzzMessage is one command invocation on the wire.
type FuzzMessage struct {
	CmdName string         `json:"cmd_name"`
	CmdCode Code           `json:"cmd_code"`
	Params  []params.Param `json:"params"`
	Meta    *Meta          `json:"meta,omitempty"`
}

// Code is a command code that decodes from a JSON integer, a decimal string
// or a 0x-prefixed hex string and always encodes as an integer.
type Code uint32

func (c Code) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(c), 10)), nil
}

func (c *Code) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = 0
		return nil
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	v, ok := cmddb.ParseCode(s)
	if !ok {
		return fmt.Errorf("invalid cmd_code %s", data)
	}
	*c = Code(v)
	return nil
}

// Encode renders m as one JSON line terminated by a newline.
func Encode(m FuzzMessage) ([]byte, error) {
	if m.Params == nil {
		m.Params = []params.Param{}
	}
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode fuzz message: %w", err)
	}
	return append(out, '\n'), nil
}

// Decode parses one datagram. Invalid UTF-8 is replaced, surrounding
// whitespace is ignored, and bare Infinity/NaN literals are tolerated.
func Decode(datagram []byte) (FuzzMessage, error) {
	text := bytes.TrimSpace(ToValidUTF8(datagram))
	if len(text) == 0 {
		return FuzzMessage{}, fuzzerrors.WrapDecodeError("decode_datagram", fmt.Errorf("empty datagram"))
	}

	var m FuzzMessage
	if err := json.Unmarshal(quoteNonFinite(text), &m); err != nil {
		return FuzzMessage{}, fuzzerrors.WrapDecodeError("decode_datagram", err)
	}
	if m.Params == nil {
		m.Params = []params.Param{}
	}
	return m, nil
}

// ToValidUTF8 replaces invalid byte sequences with U+FFFD.
func ToValidUTF8(b []byte) []byte {
	if utf8.Valid(b) {
		return b
	}
	return []byte(strings.ToValidUTF8(string(b), "�"))
}

var nonFiniteTokens = [][]byte{[]byte("-Infinity"), []byte("Infinity"), []byte("NaN")}

// quoteNonFinite wraps bare Infinity, -Infinity and NaN tokens that appear
// outside string literals in quotes so a strict JSON decoder accepts them.
func quoteNonFinite(in []byte) []byte {
	if !bytes.Contains(in, []byte("Infinity")) && !bytes.Contains(in, []byte("NaN")) {
		return in
	}

	out := make([]byte, 0, len(in)+8)
	inString, escaped := false, false
	for i := 0; i < len(in); i++ {
		ch := in[i]
		if inString {
			out = append(out, ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
			out = append(out, ch)
			continue
		}
		matched := false
		for _, tok := range nonFiniteTokens {
			if bytes.HasPrefix(in[i:], tok) {
				out = append(out, '"')
				out = append(out, tok...)
				out = append(out, '"')
				i += len(tok) - 1
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, ch)
		}
	}
	return out
}
