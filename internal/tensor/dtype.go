// Package tensor provides the dense-array abstraction used by the voxel
// convolution kernels.
package tensor

// Float is a constraint for supported tensor element types.
type Float interface {
	float32 | float64
}

// DataType represents runtime type information for tensors.
type DataType int

// Supported element types.
const (
	Float32 DataType = iota
	Float64
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// DataTypeOf returns the DataType matching the generic element type T.
func DataTypeOf[T Float]() DataType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	default:
		panic("unsupported element type")
	}
}
