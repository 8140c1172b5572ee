// Package cmddb loads the command-definition table that describes every
// command the onboard software accepts.
package cmddb

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	headerRows = 3
	minColumns = 5

	colName       = 1
	colCode       = 3
	colNumParams  = 4
	colFirstParam = 5
	colDanger     = 18
	colDesc       = 19

	// MaxParams is the number of type/description pairs that fit between
	// the parameter count and the danger column.
	MaxParams = (colDanger - colFirstParam) / 2

	dangerMarker = "danger"
)

// Descriptor describes one command. Descriptors are built once at load time
// and never mutated afterwards.
type Descriptor struct {
	Name              string   `json:"name"`
	Code              uint32   `json:"code"`
	ParamTypes        []string `json:"param_types"`
	ParamDescriptions []string `json:"param_descriptions"`
	Description       string   `json:"description,omitempty"`
	Danger            bool     `json:"danger,omitempty"`
}

// NumParams returns the declared parameter count.
func (d Descriptor) NumParams() int {
	return len(d.ParamTypes)
}

// Synthetic returns a zero-parameter descriptor for a command known only by
// name and code.
func Synthetic(name string, code uint32) Descriptor {
	return Descriptor{
		Name:              name,
		Code:              code,
		ParamTypes:        []string{},
		ParamDescriptions: []string{},
	}
}

// Database is a read-only name to descriptor mapping.
type Database struct {
	source   string
	commands map[string]Descriptor
}

// Empty returns a database with no commands.
func Empty() *Database {
	return &Database{commands: make(map[string]Descriptor)}
}

// New builds a database from already constructed descriptors. Later entries
// replace earlier ones with the same name.
func New(descriptors ...Descriptor) *Database {
	db := Empty()
	for _, d := range descriptors {
		db.commands[d.Name] = d
	}
	return db
}

// Load reads the table at path. A missing or unreadable file is not an
// error: the result is an empty database and a logged warning.
func Load(path string) *Database {
	f, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Command DB not available, continuing with empty database")
		db := Empty()
		db.source = path
		return db
	}
	defer f.Close()

	db, err := Parse(f)
	db.source = path
	if err != nil {
		log.Warn().Err(err).Str("path", path).Int("commands", db.Len()).Msg("Command DB partially parsed")
		return db
	}

	log.Debug().Str("path", path).Int("commands", db.Len()).Msg("Loaded command DB")
	return db
}

// Parse reads a command table. Rows that cannot describe a command are
// skipped. A reader error stops parsing; rows read until then are kept and
// the error is returned alongside them.
func Parse(r io.Reader) (*Database, error) {
	db := Empty()

	reader := csv.NewReader(stripBOM(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	for index := 0; ; index++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return db, nil
		}
		if err != nil {
			return db, fmt.Errorf("read row %d: %w", index, err)
		}
		if index < headerRows {
			continue
		}

		d, ok := parseRow(row)
		if !ok {
			log.Trace().Int("row", index).Msg("Skipping command DB row")
			continue
		}
		db.commands[d.Name] = d
	}
}

func parseRow(row []string) (Descriptor, bool) {
	if len(row) < minColumns {
		return Descriptor{}, false
	}

	rawName := row[colName]
	if rawName == "" || strings.HasPrefix(rawName, "*") {
		return Descriptor{}, false
	}
	name := strings.TrimSpace(rawName)
	if name == "" || strings.HasPrefix(name, "*") {
		return Descriptor{}, false
	}

	code, ok := parseCode(strings.TrimSpace(row[colCode]))
	if !ok {
		return Descriptor{}, false
	}

	numParams, err := strconv.Atoi(strings.TrimSpace(row[colNumParams]))
	if err != nil || numParams < 0 {
		numParams = 0
	}
	if numParams > MaxParams {
		return Descriptor{}, false
	}

	d := Descriptor{
		Name:              name,
		Code:              code,
		ParamTypes:        make([]string, numParams),
		ParamDescriptions: make([]string, numParams),
		Description:       column(row, colDesc),
		Danger:            strings.EqualFold(column(row, colDanger), dangerMarker),
	}
	for i := 0; i < numParams; i++ {
		d.ParamTypes[i] = column(row, colFirstParam+2*i)
		d.ParamDescriptions[i] = column(row, colFirstParam+2*i+1)
	}
	return d, true
}

// ParseCode parses a command code written as 0x-prefixed hex or decimal.
func ParseCode(s string) (uint32, bool) {
	return parseCode(strings.TrimSpace(s))
}

func parseCode(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// column returns the trimmed cell at i, or "" when the row is too short.
func column(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Get looks up a descriptor by exact name.
func (db *Database) Get(name string) (Descriptor, bool) {
	d, ok := db.commands[name]
	return d, ok
}

// Len returns the number of commands.
func (db *Database) Len() int {
	return len(db.commands)
}

// Source returns the path the database was loaded from, if any.
func (db *Database) Source() string {
	return db.source
}

// Names returns all command names in ascending order.
func (db *Database) Names() []string {
	names := make([]string, 0, len(db.commands))
	for name := range db.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns a copy of every descriptor, ordered by name.
func (db *Database) All() []Descriptor {
	out := make([]Descriptor, 0, len(db.commands))
	for _, name := range db.Names() {
		out = append(out, db.commands[name])
	}
	return out
}

type bomStripper struct {
	r       io.Reader
	checked bool
}

func stripBOM(r io.Reader) io.Reader {
	return &bomStripper{r: r}
}

func (b *bomStripper) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if b.checked || n == 0 {
		return n, err
	}
	b.checked = true
	if n >= 3 && p[0] == 0xEF && p[1] == 0xBB && p[2] == 0xBF {
		copy(p, p[3:n])
		n -= 3
	}
	return n, err
}
