package ble

import (
	"fmt"
	"strings"
	"time"

	"github.com/chaz8081/bleprint/internal/ble/protocol"
)

// Backend names accepted by NewCentral.
const (
	BackendTinygo = "tinygo"
	BackendHCI    = "hci"
)

// BackendOptions configures a hardware backend.
type BackendOptions struct {
	ChunkSize  int           // bytes per ATT write
	ChunkDelay time.Duration // pause between chunks
	Logger     Logger
}

func (o BackendOptions) withDefaults() BackendOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = protocol.DefaultChunkSize
	}
	if o.ChunkSize < protocol.MinChunkSize {
		o.ChunkSize = protocol.MinChunkSize
	}
	if o.Logger == nil {
		o.Logger = NullLogger{}
	}
	return o
}

// NewCentral creates the named backend. The hci backend talks to a raw HCI
// socket and is only available on Linux.
func NewCentral(backend string, opts BackendOptions) (Central, error) {
	switch strings.ToLower(backend) {
	case "", BackendTinygo:
		return NewTinygoCentral(opts), nil
	case BackendHCI:
		return newHCICentral(opts)
	default:
		return nil, fmt.Errorf("ble: unknown backend %q", backend)
	}
}

// connectRequests tracks outstanding connect requests of a backend. Each
// request gets its own sequence number, so the late answer of an abandoned
// request is told apart from a newer request to the same peripheral. The
// caller serialises access.
type connectRequests struct {
	seq     uint64
	pending map[PeripheralID]uint64
}

// begin registers a request for id, replacing any earlier one.
func (r *connectRequests) begin(id PeripheralID) uint64 {
	if r.pending == nil {
		r.pending = make(map[PeripheralID]uint64)
	}
	r.seq++
	r.pending[id] = r.seq
	return r.seq
}

// finish reports whether seq is still the wanted request for id and
// forgets it if so.
func (r *connectRequests) finish(id PeripheralID, seq uint64) bool {
	cur, ok := r.pending[id]
	if !ok || cur != seq {
		return false
	}
	delete(r.pending, id)
	return true
}

// take forgets the request for id, whichever it is, and reports whether
// there was one.
func (r *connectRequests) take(id PeripheralID) bool {
	_, ok := r.pending[id]
	delete(r.pending, id)
	return ok
}

// scanRuns serialises the runs of a blocking scan call. A run started while
// the previous one is still returning waits for it, and a run stopped before
// it got going never scans. The caller serialises access.
type scanRuns struct {
	gen    uint64
	active bool
	done   chan struct{} // closed when the latest run returns
}

// start opens a new run unless one is active. It returns the run's
// generation, the channel to wait on before scanning and the channel the run
// closes when it returns.
func (s *scanRuns) start() (gen uint64, prev <-chan struct{}, done chan struct{}, ok bool) {
	if s.active {
		return 0, nil, nil, false
	}
	s.gen++
	s.active = true
	prev = s.done
	s.done = make(chan struct{})
	return s.gen, prev, s.done, true
}

// stop ends the active run and reports whether there was one.
func (s *scanRuns) stop() bool {
	was := s.active
	s.active = false
	return was
}

// current reports whether run gen is still wanted.
func (s *scanRuns) current(gen uint64) bool {
	return s.active && s.gen == gen
}

// finish marks run gen as returned on its own, for example after an error.
func (s *scanRuns) finish(gen uint64) {
	if s.gen == gen {
		s.active = false
	}
}
