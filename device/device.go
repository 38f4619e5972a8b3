// Package device provides the data-parallel execution substrate used by the
// coordinate descent kernels.  A Device runs a kernel over an N-dimensional
// range of work-groups on a pool of goroutines and blocks until every group
// has finished, so consecutive launches are strictly ordered.  Memory that
// kernels read and write lives in Buffers owned by the device; moving data
// between host slices and Buffers goes through Upload and Download, which
// are counted.
package device

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/cpu"
)

// Features records the vector instruction sets reported by the host CPU.
type Features struct {
	AVX2    bool
	AVX512F bool
	FMA     bool
	ASIMD   bool
}

func detectFeatures() Features {
	return Features{
		AVX2:    cpu.X86.HasAVX2,
		AVX512F: cpu.X86.HasAVX512F,
		FMA:     cpu.X86.HasFMA,
		ASIMD:   cpu.ARM64.HasASIMD,
	}
}

// Config defines configuration parameters for a Device.
type Config struct {

	// Name is a human readable label for the device.
	Name string

	// Workers is the number of goroutines that execute work-groups.  If
	// zero, runtime.NumCPU() is used.
	Workers int

	// MaxAlloc is an upper bound on the total number of bytes held in
	// device buffers.  Zero means no limit.
	MaxAlloc int64

	// Log receives setup messages, if not nil.
	Log *log.Logger
}

// DefaultConfig returns the default device configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "cpu",
	}
}

// Device executes kernels and owns device buffers.
type Device struct {
	name     string
	workers  int
	maxAlloc int64
	features Features
	log      *log.Logger

	allocated atomic.Int64

	dispatches    atomic.Int64
	hostToDevice  atomic.Int64
	deviceToHost  atomic.Int64
	elemsUploaded atomic.Int64
}

// New returns a Device configured by config, or by DefaultConfig if config
// is nil.
func New(config *Config) (*Device, error) {

	if config == nil {
		config = DefaultConfig()
	}

	if config.Workers < 0 {
		return nil, &Error{Kind: KindArgument, Op: "New", Msg: fmt.Sprintf("negative worker count %d", config.Workers)}
	}
	if config.MaxAlloc < 0 {
		return nil, &Error{Kind: KindArgument, Op: "New", Msg: fmt.Sprintf("negative allocation limit %d", config.MaxAlloc)}
	}

	workers := config.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}

	name := config.Name
	if name == "" {
		name = "cpu"
	}

	d := &Device{
		name:     name,
		workers:  workers,
		maxAlloc: config.MaxAlloc,
		features: detectFeatures(),
		log:      config.Log,
	}

	if d.log != nil {
		d.log.Printf("device %s: %d workers, features %+v", d.name, d.workers, d.features)
	}

	return d, nil
}

// Name returns the device label.
func (d *Device) Name() string {
	return d.name
}

// Workers returns the number of goroutines used to run work-groups.
func (d *Device) Workers() int {
	return d.workers
}

// Features returns the CPU features detected when the device was created.
func (d *Device) Features() Features {
	return d.features
}

// String describes the device.
func (d *Device) String() string {
	return fmt.Sprintf("%s (%d workers, avx2=%t avx512f=%t fma=%t asimd=%t)", d.name, d.workers,
		d.features.AVX2, d.features.AVX512F, d.features.FMA, d.features.ASIMD)
}

// Stats holds counters describing the work a device has performed.
type Stats struct {
	Dispatches    int64
	HostToDevice  int64
	DeviceToHost  int64
	ElemsUploaded int64
	Allocated     int64
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	return Stats{
		Dispatches:    d.dispatches.Load(),
		HostToDevice:  d.hostToDevice.Load(),
		DeviceToHost:  d.deviceToHost.Load(),
		ElemsUploaded: d.elemsUploaded.Load(),
		Allocated:     d.allocated.Load(),
	}
}

// Range is the shape of a launch: the global size and the work-group
// (local) size in each of two dimensions.  The global size in each
// dimension must be a multiple of the local size.
type Range struct {
	Global [2]int
	Local  [2]int
}

// Range1D returns a one-dimensional launch shape.
func Range1D(global, local int) Range {
	return Range{Global: [2]int{global, 1}, Local: [2]int{local, 1}}
}

// Range2D returns a two-dimensional launch shape.
func Range2D(global0, global1, local0, local1 int) Range {
	return Range{Global: [2]int{global0, global1}, Local: [2]int{local0, local1}}
}

// Groups returns the number of work-groups in each dimension.
func (r Range) Groups() [2]int {
	return [2]int{r.Global[0] / r.Local[0], r.Global[1] / r.Local[1]}
}

func (r Range) validate() error {
	for k := 0; k < 2; k++ {
		if r.Local[k] <= 0 {
			return fmt.Errorf("local size %v must be positive", r.Local)
		}
		if r.Global[k] < 0 {
			return fmt.Errorf("global size %v must not be negative", r.Global)
		}
		if r.Global[k]%r.Local[k] != 0 {
			return fmt.Errorf("global size %v is not a multiple of local size %v", r.Global, r.Local)
		}
	}
	return nil
}

// Group identifies one work-group of a launch.  The work items of a group
// are executed sequentially by a single goroutine, so a kernel may keep
// group-local accumulators in ordinary variables.
type Group struct {
	ID    [2]int
	Size  [2]int
	Count [2]int
}

// Linear returns the row-major linear index of the group.
func (g Group) Linear() int {
	return g.ID[1]*g.Count[0] + g.ID[0]
}

// Base returns the global index of the first work item of the group in
// dimension k.
func (g Group) Base(k int) int {
	return g.ID[k] * g.Size[k]
}

// Kernel is the body of a launch, invoked once per work-group.
type Kernel func(g Group)

// Launch runs k over the range r and returns after every work-group has
// completed.  Work-groups are distributed over the device workers in
// contiguous blocks.  A panic inside the kernel is reported as a launch
// error.
func (d *Device) Launch(ctx context.Context, name string, r Range, k Kernel) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.validate(); err != nil {
		return &Error{Kind: KindLaunch, Op: name, Msg: err.Error()}
	}

	cnt := r.Groups()
	total := cnt[0] * cnt[1]
	d.dispatches.Add(1)
	if total == 0 {
		return nil
	}

	start := time.Now()

	workers := d.workers
	if total < workers {
		workers = total
	}
	per := (total + workers - 1) / workers

	var wg sync.WaitGroup
	var mu sync.Mutex
	var fault error

	for w := 0; w < workers; w++ {
		first := w * per
		last := first + per
		if last > total {
			last = total
		}
		if first >= last {
			break
		}
		wg.Add(1)
		go func(first, last int) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					mu.Lock()
					if fault == nil {
						fault = fmt.Errorf("kernel fault: %v", p)
					}
					mu.Unlock()
				}
			}()
			for q := first; q < last; q++ {
				k(Group{
					ID:    [2]int{q % cnt[0], q / cnt[0]},
					Size:  r.Local,
					Count: cnt,
				})
			}
		}(first, last)
	}
	wg.Wait()

	if sink := SinkFromContext(ctx); sink != nil {
		sink.KernelDone(name, total, time.Since(start))
	}

	if fault != nil {
		return &Error{Kind: KindLaunch, Op: name, Msg: "kernel failed", Err: fault}
	}

	return nil
}
