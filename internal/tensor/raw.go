package tensor

import (
	"fmt"
	"unsafe"
)

// RawTensor is a dense tensor in canonical row-major layout: consecutive
// elements have no gaps, so raw-memory transforms and BLAS views are
// always legal. Views produced by Index share the owning buffer through
// a byte offset and remain canonical.
type RawTensor struct {
	data   []byte
	shape  Shape
	stride []int // element strides, row-major
	dtype  DataType
	offset int // byte offset into data, non-zero for views
}

// NewRaw creates a new zero-filled RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Dim returns the number of dimensions.
func (r *RawTensor) Dim() int {
	return len(r.shape)
}

// Strides returns the tensor's element strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	n := r.NumElements()
	if n == 0 {
		return nil
	}
	data := r.data[r.offset:]
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), n)
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	n := r.NumElements()
	if n == 0 {
		return nil
	}
	data := r.data[r.offset:]
	return unsafe.Slice((*float64)(unsafe.Pointer(&data[0])), n)
}

// Index returns a view of the sub-tensor at position i along the leading
// dimension. The view shares memory with r.
func (r *RawTensor) Index(i int) *RawTensor {
	if len(r.shape) == 0 {
		panic("index of a scalar tensor")
	}
	if i < 0 || i >= r.shape[0] {
		panic(fmt.Sprintf("index %d out of range for leading dimension %d", i, r.shape[0]))
	}

	sub := r.shape[1:].Clone()
	return &RawTensor{
		data:   r.data,
		shape:  sub,
		stride: sub.ComputeStrides(),
		dtype:  r.dtype,
		offset: r.offset + i*r.stride[0]*r.dtype.Size(),
	}
}

// View returns a no-copy reinterpretation of the tensor with a new shape
// holding the same number of elements. Always legal here because the
// layout is canonical.
func (r *RawTensor) View(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if shape.NumElements() != r.NumElements() {
		return nil, fmt.Errorf("view %v incompatible with %v: element counts differ", shape, r.shape)
	}

	return &RawTensor{
		data:   r.data,
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  r.dtype,
		offset: r.offset,
	}, nil
}

// Resize changes the tensor's shape, reallocating the buffer when the
// current one is too small or when r is a view. Element contents are
// unspecified after a resize; callers zero or overwrite.
func (r *RawTensor) Resize(shape Shape) error {
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("invalid shape: %w", err)
	}

	need := shape.NumElements() * r.dtype.Size()
	if r.offset != 0 || need > len(r.data) {
		r.data = make([]byte, need)
		r.offset = 0
	}
	r.shape = shape.Clone()
	r.stride = shape.ComputeStrides()
	return nil
}

// Zero fills the tensor with zeros.
func (r *RawTensor) Zero() {
	clear(r.data[r.offset : r.offset+r.ByteSize()])
}
