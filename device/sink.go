package device

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Direction is the direction of a host/device copy.
type Direction int

const (
	HostToDevice Direction = iota
	DeviceToHost
)

// String returns a short label for the direction.
func (d Direction) String() string {
	if d == HostToDevice {
		return "h2d"
	}
	return "d2h"
}

// Sink receives instrumentation events from a device.  Implementations
// must be safe for concurrent use.
type Sink interface {
	KernelDone(name string, groups int, elapsed time.Duration)
	Transferred(dir Direction, elems int)
}

type sinkKey struct{}

// WithSink returns a copy of ctx that carries sink.  Launches and
// transfers performed with the returned context report to sink.
func WithSink(ctx context.Context, sink Sink) context.Context {
	return context.WithValue(ctx, sinkKey{}, sink)
}

// SinkFromContext returns the sink carried by ctx, or nil.
func SinkFromContext(ctx context.Context) Sink {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(sinkKey{}).(Sink)
	return s
}

// KernelTiming summarizes the launches of one kernel.
type KernelTiming struct {
	Name     string
	Launches int
	Groups   int64
	Total    time.Duration
}

// DurationSink accumulates kernel timings and transfer counts in memory.
type DurationSink struct {
	id uuid.UUID

	mu        sync.Mutex
	kernels   map[string]*KernelTiming
	transfers [2]int
	elems     [2]int64
}

// NewDurationSink returns an empty DurationSink with a fresh run id.
func NewDurationSink() *DurationSink {
	return &DurationSink{
		id:      uuid.New(),
		kernels: make(map[string]*KernelTiming),
	}
}

// ID returns the identifier of the run recorded by the sink.
func (s *DurationSink) ID() uuid.UUID {
	return s.id
}

// KernelDone implements Sink.
func (s *DurationSink) KernelDone(name string, groups int, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kt, ok := s.kernels[name]
	if !ok {
		kt = &KernelTiming{Name: name}
		s.kernels[name] = kt
	}
	kt.Launches++
	kt.Groups += int64(groups)
	kt.Total += elapsed
}

// Transferred implements Sink.
func (s *DurationSink) Transferred(dir Direction, elems int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers[dir]++
	s.elems[dir] += int64(elems)
}

// Transfers returns the number of copies recorded in direction dir.
func (s *DurationSink) Transfers(dir Direction) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfers[dir]
}

// Launches returns the number of launches recorded for the named kernel.
func (s *DurationSink) Launches(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kt, ok := s.kernels[name]; ok {
		return kt.Launches
	}
	return 0
}

// Timings returns the per-kernel summaries sorted by decreasing total time.
func (s *DurationSink) Timings() []KernelTiming {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tm []KernelTiming
	for _, kt := range s.kernels {
		tm = append(tm, *kt)
	}
	sort.Slice(tm, func(i, j int) bool {
		if tm[i].Total != tm[j].Total {
			return tm[i].Total > tm[j].Total
		}
		return tm[i].Name < tm[j].Name
	})
	return tm
}
