// Package xbeta keeps a vector that lives both on the host and on a
// device, such as the linear predictor Xβ and the quantities derived from
// it.  A Cache records which copy is current and copies lazily, at most
// once per write.
package xbeta

import (
	"context"
	"fmt"

	"github.com/minghao2016/Cyclops/column"
	"github.com/minghao2016/Cyclops/device"
)

// State describes which copies of a cached vector are current.
type State int

const (
	// BothFresh means the host and device copies agree.
	BothFresh State = iota

	// HostFresh means the host copy was written after the device copy.
	HostFresh

	// DeviceFresh means the device copy was written after the host copy.
	DeviceFresh
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case BothFresh:
		return "both-fresh"
	case HostFresh:
		return "host-fresh"
	case DeviceFresh:
		return "device-fresh"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Cache is a float64 vector with a host copy and a device copy.
type Cache struct {
	host  []float64
	dev   *device.Buffer[float64]
	state State

	transfers int
}

// New returns a zeroed cache of length n.  Both copies start current.
func New(dev *device.Device, n int) (*Cache, error) {
	b, err := device.Alloc[float64](dev, n)
	if err != nil {
		return nil, err
	}
	return &Cache{host: make([]float64, n), dev: b}, nil
}

// Len returns the length of the vector.
func (c *Cache) Len() int {
	return len(c.host)
}

// State returns the current synchronization state.
func (c *Cache) State() State {
	return c.state
}

// Transfers returns the number of copies made between host and device.
func (c *Cache) Transfers() int {
	return c.transfers
}

// Host returns the host copy, downloading it first if the device copy is
// newer.  Callers that modify the returned slice must call HostWritten.
func (c *Cache) Host(ctx context.Context) ([]float64, error) {
	if c.state == DeviceFresh {
		if err := device.Download(ctx, c.host, c.dev, 0); err != nil {
			return nil, err
		}
		c.transfers++
		c.state = BothFresh
	}
	return c.host, nil
}

// Device returns the device copy, uploading the host copy first if it is
// newer.  Kernels that modify the buffer must be followed by a call to
// DeviceWritten.
func (c *Cache) Device(ctx context.Context) (*device.Buffer[float64], error) {
	if c.state == HostFresh {
		if err := device.Upload(ctx, c.dev, 0, c.host); err != nil {
			return nil, err
		}
		c.transfers++
		c.state = BothFresh
	}
	return c.dev, nil
}

// DeviceWritten marks the host copy stale.
func (c *Cache) DeviceWritten() {
	c.state = DeviceFresh
}

// HostWritten marks the device copy stale.
func (c *Cache) HostWritten() {
	c.state = HostFresh
}

// Set overwrites the host copy with v, which must have the cache length.
func (c *Cache) Set(v []float64) error {
	if len(v) != len(c.host) {
		return fmt.Errorf("xbeta: length %d does not match cache length %d", len(v), len(c.host))
	}
	copy(c.host, v)
	c.state = HostFresh
	return nil
}

// Fill sets every host element to v.
func (c *Cache) Fill(v float64) {
	for i := range c.host {
		c.host[i] = v
	}
	c.state = HostFresh
}

// Axpy adds beta times column v to the host copy, writing to element
// i*stride+slot for row i.
func (c *Cache) Axpy(ctx context.Context, beta float64, v column.View, stride, slot int) error {
	if v.K*stride > len(c.host) || slot < 0 || slot >= stride {
		return fmt.Errorf("xbeta: column with %d rows does not fit cache of length %d at stride %d", v.K, len(c.host), stride)
	}
	h, err := c.Host(ctx)
	if err != nil {
		return err
	}
	a := v.Accessor()
	for t := 0; t < a.Len(); t++ {
		i, x := a.At(t)
		h[i*stride+slot] += beta * x
	}
	c.state = HostFresh
	return nil
}

// Resize changes the length of both copies and zeroes them.
func (c *Cache) Resize(n int) error {
	if err := c.dev.Resize(n, false); err != nil {
		return err
	}
	if n <= cap(c.host) {
		c.host = c.host[:n]
		clear(c.host)
	} else {
		c.host = make([]float64, n)
	}
	c.state = BothFresh
	return nil
}

// Slot extracts elements slot, slot+stride, ... from the host copy.
func (c *Cache) Slot(ctx context.Context, stride, slot int) ([]float64, error) {
	h, err := c.Host(ctx)
	if err != nil {
		return nil, err
	}
	n := len(h) / stride
	v := make([]float64, n)
	for i := range v {
		v[i] = h[i*stride+slot]
	}
	return v, nil
}

// Free releases the device copy.
func (c *Cache) Free() {
	c.dev.Free()
}
