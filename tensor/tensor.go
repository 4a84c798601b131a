// Copyright 2025 The Voxel Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for the dense-array abstraction
// used by the voxel convolution kernels.
//
// A RawTensor is a dense array in canonical row-major layout over one of
// the supported floating element types. Inputs, weights, outputs and
// gradients of the convolution kernels are all RawTensors.
//
// Example:
//
//	x, err := tensor.FromSlice(data, tensor.Shape{1, 3, 8, 8, 8})
package tensor

import (
	"github.com/voxel-ml/voxel/internal/tensor"
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// DataType represents the underlying element type of a tensor.
type DataType = tensor.DataType

// Supported element types.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
)

// Float is a constraint for supported tensor element types.
type Float = tensor.Float

// RawTensor is the dense row-major tensor representation.
type RawTensor = tensor.RawTensor

// NewRaw creates a new zero-filled tensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}

// FromSlice creates a tensor by copying data into a fresh buffer.
//
// Example:
//
//	data := []float32{1, 2, 3, 4, 5, 6}
//	x, err := tensor.FromSlice(data, tensor.Shape{2, 3})
func FromSlice[T Float](data []T, shape Shape) (*RawTensor, error) {
	return tensor.FromSlice(data, shape)
}

// Full creates a tensor filled with a specific value.
func Full[T Float](shape Shape, value T) (*RawTensor, error) {
	return tensor.Full(shape, value)
}

// Zeros creates a tensor filled with zeros.
func Zeros[T Float](shape Shape) (*RawTensor, error) {
	return tensor.Zeros[T](shape)
}
