// Package enum loads the symbolic command and telemetry code tables that the
// onboard software build exports.
package enum

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/c2afuzz/c2afuzz/internal/cmddb"
)

// Markers prefixed to every exported symbol.
const (
	CommandMarker   = "Cmd_CODE_"
	TelemetryMarker = "Tlm_CODE_"
)

var headerLine = regexp.MustCompile(`^\s*(Cmd_CODE_|Tlm_CODE_)([A-Za-z0-9_]+)\s*=\s*(0[xX][0-9A-Fa-f]+|[0-9]+)\b`)

// Entry is one name/code pair.
type Entry struct {
	Name string
	Code uint32
}

// Index maps unprefixed names to numeric codes. It is built once per process
// and is independent of the command database.
type Index struct {
	commands  map[string]uint32
	telemetry map[string]uint32
}

// New builds an index from unprefixed command names.
func New(commands map[string]uint32) *Index {
	idx := &Index{commands: make(map[string]uint32, len(commands)), telemetry: make(map[string]uint32)}
	for name, code := range commands {
		idx.commands[name] = code
	}
	return idx
}

// FromSymbols builds an index from raw exported symbols. Names carrying the
// command marker become commands, names carrying the telemetry marker become
// telemetry ids, everything else is ignored.
func FromSymbols(symbols map[string]uint32) *Index {
	idx := New(nil)
	for name, code := range symbols {
		idx.add(name, code)
	}
	return idx
}

// WithTelemetry registers unprefixed telemetry ids and returns the index.
func (idx *Index) WithTelemetry(telemetry map[string]uint32) *Index {
	for name, code := range telemetry {
		idx.telemetry[name] = code
	}
	return idx
}

func (idx *Index) add(symbol string, code uint32) {
	switch {
	case strings.HasPrefix(symbol, CommandMarker):
		idx.commands[strings.TrimPrefix(symbol, CommandMarker)] = code
	case strings.HasPrefix(symbol, TelemetryMarker):
		idx.telemetry[strings.TrimPrefix(symbol, TelemetryMarker)] = code
	}
}

// Commands returns every command pair ordered by name.
func (idx *Index) Commands() []Entry {
	return sorted(idx.commands)
}

// Command looks up a command code by unprefixed name.
func (idx *Index) Command(name string) (uint32, bool) {
	code, ok := idx.commands[name]
	return code, ok
}

// Telemetry looks up a telemetry id by unprefixed name.
func (idx *Index) Telemetry(name string) (uint32, bool) {
	code, ok := idx.telemetry[name]
	return code, ok
}

// Len returns the number of commands.
func (idx *Index) Len() int {
	return len(idx.commands)
}

// FromDatabase derives an index from the command database. It is used when
// no enumeration source is configured.
func FromDatabase(db *cmddb.Database) *Index {
	idx := New(nil)
	for _, d := range db.All() {
		idx.commands[d.Name] = d.Code
	}
	return idx
}

func sorted(m map[string]uint32) []Entry {
	out := make([]Entry, 0, len(m))
	for name, code := range m {
		out = append(out, Entry{Name: name, Code: code})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// document is the YAML/JSON shape: marker-prefixed or bare names under
// "commands" and "telemetry".
type document struct {
	Commands  map[string]codeValue `yaml:"commands" json:"commands"`
	Telemetry map[string]codeValue `yaml:"telemetry" json:"telemetry"`
}

// LoadFile reads an enumeration from a C header, YAML or JSON file, chosen by
// extension.
func LoadFile(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read enum %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse enum yaml %s: %w", path, err)
		}
		return fromDocument(doc), nil
	case ".json":
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse enum json %s: %w", path, err)
		}
		return fromDocument(doc), nil
	default:
		return ParseHeader(bytes.NewReader(data))
	}
}

func fromDocument(doc document) *Index {
	idx := New(nil)
	for name, v := range doc.Commands {
		idx.commands[strings.TrimPrefix(name, CommandMarker)] = uint32(v)
	}
	for name, v := range doc.Telemetry {
		idx.telemetry[strings.TrimPrefix(name, TelemetryMarker)] = uint32(v)
	}
	return idx
}

// ParseHeader scans C enum definitions such as "Cmd_CODE_NOP = 0x0000,".
func ParseHeader(r io.Reader) (*Index, error) {
	idx := New(nil)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := headerLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		code, ok := cmddb.ParseCode(m[3])
		if !ok {
			continue
		}
		idx.add(m[1]+m[2], code)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan enum header: %w", err)
	}
	return idx, nil
}

// codeValue accepts integers as well as decimal or 0x-prefixed strings.
type codeValue uint32

func (c *codeValue) UnmarshalYAML(node *yaml.Node) error {
	v, ok := cmddb.ParseCode(node.Value)
	if !ok {
		return fmt.Errorf("invalid code %q at line %d", node.Value, node.Line)
	}
	*c = codeValue(v)
	return nil
}

func (c *codeValue) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	v, ok := cmddb.ParseCode(s)
	if !ok {
		return fmt.Errorf("invalid code %s", data)
	}
	*c = codeValue(v)
	return nil
}
