package tensor

import "fmt"

// FromSlice creates a tensor by copying data into a fresh buffer.
func FromSlice[T Float](data []T, shape Shape) (*RawTensor, error) {
	r, err := NewRaw(shape, DataTypeOf[T]())
	if err != nil {
		return nil, err
	}
	if len(data) != r.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, r.NumElements())
	}

	switch DataTypeOf[T]() {
	case Float32:
		copy(r.AsFloat32(), any(data).([]float32))
	case Float64:
		copy(r.AsFloat64(), any(data).([]float64))
	}
	return r, nil
}

// Full creates a tensor filled with a specific value.
func Full[T Float](shape Shape, value T) (*RawTensor, error) {
	data := make([]T, shape.NumElements())
	for i := range data {
		data[i] = value
	}
	return FromSlice(data, shape)
}

// Zeros creates a tensor filled with zeros.
func Zeros[T Float](shape Shape) (*RawTensor, error) {
	return NewRaw(shape, DataTypeOf[T]())
}
