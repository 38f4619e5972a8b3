package device

import (
	"context"
	"fmt"
	"unsafe"
)

// Elem is the set of element types that can be held in a Buffer.
type Elem interface {
	~float64 | ~int32 | ~uint8
}

// Buffer is a fixed-length array of elements in device memory.
type Buffer[T Elem] struct {
	dev  *Device
	data []T
}

func elemSize[T Elem]() int64 {
	var x T
	return int64(unsafe.Sizeof(x))
}

func (d *Device) reserve(op string, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	total := d.allocated.Add(bytes)
	if d.maxAlloc > 0 && total > d.maxAlloc {
		d.allocated.Add(-bytes)
		return &Error{
			Kind: KindResource,
			Op:   op,
			Msg:  fmt.Sprintf("cannot allocate %d bytes (%d in use, limit %d)", bytes, total-bytes, d.maxAlloc),
			Err:  ErrOutOfMemory,
		}
	}
	return nil
}

// Alloc returns a zeroed buffer of n elements on d.
func Alloc[T Elem](d *Device, n int) (*Buffer[T], error) {
	if n < 0 {
		return nil, &Error{Kind: KindArgument, Op: "Alloc", Msg: fmt.Sprintf("negative length %d", n)}
	}
	if err := d.reserve("Alloc", int64(n)*elemSize[T]()); err != nil {
		return nil, err
	}
	return &Buffer[T]{dev: d, data: make([]T, n)}, nil
}

// Len returns the number of elements in the buffer.
func (b *Buffer[T]) Len() int {
	return len(b.data)
}

// Slice exposes the device memory to kernel bodies.  Host code must use
// Upload and Download instead.
func (b *Buffer[T]) Slice() []T {
	return b.data
}

// Resize changes the length of the buffer.  The contents are preserved up
// to the smaller of the two lengths if preserve is true, otherwise the
// buffer is zeroed.  Shrinking never reallocates.
func (b *Buffer[T]) Resize(n int, preserve bool) error {
	if n < 0 {
		return &Error{Kind: KindArgument, Op: "Resize", Msg: fmt.Sprintf("negative length %d", n)}
	}

	if n <= cap(b.data) {
		old := len(b.data)
		b.data = b.data[:n]
		if !preserve {
			clear(b.data)
		} else if n > old {
			clear(b.data[old:])
		}
		return nil
	}

	if err := b.dev.reserve("Resize", int64(n-cap(b.data))*elemSize[T]()); err != nil {
		return err
	}
	nd := make([]T, n)
	if preserve {
		copy(nd, b.data)
	}
	b.data = nd
	return nil
}

// Fill sets every element of the buffer to v on the device.
func (b *Buffer[T]) Fill(v T) {
	for i := range b.data {
		b.data[i] = v
	}
}

// Free releases the buffer memory.
func (b *Buffer[T]) Free() {
	if b == nil || b.data == nil {
		return
	}
	b.dev.allocated.Add(-int64(cap(b.data)) * elemSize[T]())
	b.data = nil
}

// Upload copies src into the buffer starting at element offset.
func Upload[T Elem](ctx context.Context, b *Buffer[T], offset int, src []T) error {
	if offset < 0 || offset+len(src) > len(b.data) {
		return &Error{Kind: KindArgument, Op: "Upload",
			Msg: fmt.Sprintf("range [%d, %d) outside buffer of length %d", offset, offset+len(src), len(b.data))}
	}
	copy(b.data[offset:], src)
	b.dev.hostToDevice.Add(1)
	b.dev.elemsUploaded.Add(int64(len(src)))
	if sink := SinkFromContext(ctx); sink != nil {
		sink.Transferred(HostToDevice, len(src))
	}
	return nil
}

// Download copies len(dst) elements of the buffer starting at element
// offset into dst.
func Download[T Elem](ctx context.Context, dst []T, b *Buffer[T], offset int) error {
	if offset < 0 || offset+len(dst) > len(b.data) {
		return &Error{Kind: KindArgument, Op: "Download",
			Msg: fmt.Sprintf("range [%d, %d) outside buffer of length %d", offset, offset+len(dst), len(b.data))}
	}
	copy(dst, b.data[offset:])
	b.dev.deviceToHost.Add(1)
	if sink := SinkFromContext(ctx); sink != nil {
		sink.Transferred(DeviceToHost, len(dst))
	}
	return nil
}

// UploadNew allocates a buffer holding a copy of src.
func UploadNew[T Elem](ctx context.Context, d *Device, src []T) (*Buffer[T], error) {
	b, err := Alloc[T](d, len(src))
	if err != nil {
		return nil, err
	}
	if err := Upload(ctx, b, 0, src); err != nil {
		b.Free()
		return nil, err
	}
	return b, nil
}
