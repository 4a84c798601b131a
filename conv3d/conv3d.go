// Copyright 2025 The Voxel Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package conv3d provides the public API for the volumetric convolution
// kernels: the forward pass and the input/weight/bias backward passes of
// a direct 3-D convolution realized via unfold -> GEMM -> fold.
//
// Tensors follow the (batch, channels, depth, height, width) layout and
// all size triples are ordered (depth, height, width).
//
// Example:
//
//	output, saved, err := conv3d.Forward(input, weight, bias,
//	    [3]int{2, 2, 2}, [3]int{1, 1, 1}, [3]int{0, 0, 0})
//	if err != nil {
//	    return err
//	}
//	gradIn, gradW, gradB, err := conv3d.Backward(gradOut, input, weight,
//	    [3]int{2, 2, 2}, [3]int{1, 1, 1}, [3]int{0, 0, 0}, saved,
//	    [3]bool{true, true, true})
package conv3d

import (
	"github.com/voxel-ml/voxel/internal/conv3d"
	"github.com/voxel-ml/voxel/internal/tensor"
)

// ErrInvalidArgument is wrapped by every shape or parameter validation
// failure. Failures surface synchronously, before any buffer resize or
// parallel dispatch, so no partial output is ever produced.
var ErrInvalidArgument = conv3d.ErrInvalidArgument

// Saved holds the non-differentiable intermediates produced by Forward
// and required unchanged by the matching Backward call. The caller owns
// it exclusively; Backward borrows mutable access to its scratch.
type Saved = conv3d.Saved

// NewSaved creates an empty Saved value for the given element type, for
// use with ForwardOut.
func NewSaved(dtype tensor.DataType) (*Saved, error) {
	return conv3d.NewSaved(dtype)
}

// OutputSize computes the output spatial extent per axis,
// floor((input+2*pad-kernel)/stride)+1, failing with ErrInvalidArgument
// when the geometry is infeasible.
func OutputSize(inputSize, kernelSize, stride, padding [3]int) ([3]int, error) {
	return conv3d.OutputSize(inputSize, kernelSize, stride, padding)
}

// Forward runs the forward convolution pass.
//
// input is (batch, inC, inD, inH, inW); weight is (outC, inC, kd, kh, kw)
// or pre-flattened (outC, inC*kd*kh*kw); bias is optional (outC) and may
// be nil. Returns the output volume and the saved intermediates needed
// by Backward.
func Forward(input, weight, bias *tensor.RawTensor,
	kernelSize, stride, padding [3]int) (*tensor.RawTensor, *Saved, error) {
	return conv3d.Forward(input, weight, bias, kernelSize, stride, padding)
}

// ForwardOut is the caller-allocated variant of Forward: output and
// saved are resized and filled in place.
func ForwardOut(output *tensor.RawTensor, saved *Saved,
	input, weight *tensor.RawTensor, kernelSize [3]int,
	bias *tensor.RawTensor, stride, padding [3]int) error {
	return conv3d.ForwardOut(output, saved, input, weight, kernelSize, bias, stride, padding)
}

// Conv3D runs the forward pass only, discarding the saved intermediates.
func Conv3D(input, weight, bias *tensor.RawTensor,
	kernelSize, stride, padding [3]int) (*tensor.RawTensor, error) {
	return conv3d.Conv3D(input, weight, bias, kernelSize, stride, padding)
}

// Backward computes the gradients selected by mask, in the order
// (input, weight, bias). Unrequested gradients come back nil. saved must
// be the value returned by the matching Forward call, passed unchanged.
func Backward(gradOutput, input, weight *tensor.RawTensor,
	kernelSize, stride, padding [3]int, saved *Saved,
	mask [3]bool) (gradInput, gradWeight, gradBias *tensor.RawTensor, err error) {
	return conv3d.Backward(gradOutput, input, weight, kernelSize, stride, padding, saved, mask)
}

// BackwardOut is the caller-allocated variant of Backward. A nil
// destination means that gradient is not requested; requested ones are
// resized and zero-initialized before accumulation.
func BackwardOut(gradInput, gradWeight, gradBias *tensor.RawTensor,
	gradOutput, input, weight *tensor.RawTensor,
	kernelSize, stride, padding [3]int, saved *Saved) error {
	return conv3d.BackwardOut(gradInput, gradWeight, gradBias,
		gradOutput, input, weight, kernelSize, stride, padding, saved)
}
