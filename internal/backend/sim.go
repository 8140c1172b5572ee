package backend

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/c2afuzz/c2afuzz/internal/cmddb"
	"github.com/c2afuzz/c2afuzz/internal/params"
)

// Scheduled is a command queued on the simulated timeline or block sequence.
type Scheduled struct {
	TI     uint64
	Code   uint32
	Params []params.Param
}

// Sim is an in-process stand-in for a running target. It validates commands
// against the command database the way the onboard dispatcher would and
// keeps a monotonically increasing time indicator.
type Sim struct {
	mu       sync.Mutex
	byCode   map[uint32]cmddb.Descriptor
	out      io.Writer
	ti       uint64
	timeline []Scheduled
	blocks   []Scheduled
}

// NewSim returns a simulator knowing the commands in db. Console lines go to
// out when it is non-nil.
func NewSim(db *cmddb.Database, out io.Writer) *Sim {
	s := &Sim{byCode: make(map[uint32]cmddb.Descriptor), out: out}
	if db != nil {
		for _, d := range db.All() {
			s.byCode[d.Code] = d
		}
	}
	return s
}

func (s *Sim) SendRealtimeCommandAndConfirm(ctx context.Context, code uint32, ps []params.Param, _ uint32) (Result, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ti++
	result := s.judge(code, ps)
	s.printf("[SIM] TI=%d RT 0x%04X params=%s -> %s\n", s.ti, code, params.FormatList(ps), result)
	return result, nil
}

func (s *Sim) SendTimelineCommand(ctx context.Context, ti uint64, code uint32, ps []params.Param) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ti++
	s.timeline = append(s.timeline, Scheduled{TI: ti, Code: code, Params: ps})
	s.printf("[SIM] TI=%d TL 0x%04X at TI=%d params=%s\n", s.ti, code, ti, params.FormatList(ps))
	return nil
}

func (s *Sim) SendBlockCommand(ctx context.Context, ti uint64, code uint32, ps []params.Param) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ti++
	s.blocks = append(s.blocks, Scheduled{TI: ti, Code: code, Params: ps})
	s.printf("[SIM] TI=%d BL 0x%04X at TI=%d params=%s\n", s.ti, code, ti, params.FormatList(ps))
	return nil
}

func (s *Sim) GenerateAndReceiveTelemetry(ctx context.Context, _, _ uint32) (Telemetry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ti++
	return Telemetry{DefaultTIField: s.ti}, nil
}

// Timeline returns a copy of the commands scheduled so far.
func (s *Sim) Timeline() []Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Scheduled(nil), s.timeline...)
}

// Blocks returns a copy of the block commands registered so far.
func (s *Sim) Blocks() []Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Scheduled(nil), s.blocks...)
}

// TI returns the current time indicator.
func (s *Sim) TI() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ti
}

// judge mirrors the onboard checks: unknown codes cannot be routed, danger
// commands are refused outside their mode, and parameters must match the
// declared count and fit their declared types.
func (s *Sim) judge(code uint32, ps []params.Param) Result {
	d, ok := s.byCode[code]
	if !ok {
		return ResultRoutingFailed
	}
	if len(ps) != d.NumParams() {
		return ResultParamError
	}
	for i, p := range ps {
		if !fits(params.Classify(d.ParamTypes[i]), p) {
			return ResultParamError
		}
	}
	if d.Danger {
		return ResultContextError
	}
	return ResultSuccess
}

type bounds struct{ lo, hi float64 }

var typeBounds = map[params.Type]bounds{
	params.TypeUint8:   {0, math.MaxUint8},
	params.TypeInt8:    {math.MinInt8, math.MaxInt8},
	params.TypeUint16:  {0, math.MaxUint16},
	params.TypeInt16:   {math.MinInt16, math.MaxInt16},
	params.TypeUint32:  {0, math.MaxUint32},
	params.TypeInt32:   {math.MinInt32, math.MaxInt32},
	params.TypeUnknown: {0, math.MaxUint8},
}

func fits(typ params.Type, p params.Param) bool {
	switch typ {
	case params.TypeDouble:
		return p.Kind != params.KindRaw && !math.IsInf(value(p), 0) && !math.IsNaN(value(p))
	case params.TypeFloat:
		v := value(p)
		return p.Kind != params.KindRaw && !math.IsNaN(v) && math.Abs(v) <= math.MaxFloat32
	case params.TypeRaw:
		if p.Kind == params.KindRaw {
			return strings.HasPrefix(strings.ToLower(p.Raw), "0x")
		}
		return p.Kind == params.KindInt && p.Int >= 0 && p.Int <= math.MaxUint8
	default:
		if p.Kind != params.KindInt {
			return false
		}
		b := typeBounds[typ]
		v := float64(p.Int)
		return v >= b.lo && v <= b.hi
	}
}

func value(p params.Param) float64 {
	if p.Kind == params.KindInt {
		return float64(p.Int)
	}
	return p.Float
}

func (s *Sim) printf(format string, args ...any) {
	if s.out == nil {
		return
	}
	fmt.Fprintf(s.out, format, args...)
}
