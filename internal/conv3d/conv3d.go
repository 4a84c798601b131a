package conv3d

import (
	"fmt"

	"gonum.org/v1/gonum/blas"

	"github.com/voxel-ml/voxel/internal/parallel"
	"github.com/voxel-ml/voxel/internal/tensor"
)

// batchGrainSize is the number of batch items per scheduler chunk. Small
// batches run on the calling goroutine; larger ones fan out in chunks of
// this size.
const batchGrainSize = 20

// Saved holds the non-differentiable intermediates produced by Forward
// and required unchanged by the matching Backward call. The caller owns
// the value exclusively and lends Backward mutable access; it is not
// kernel state shared across calls.
//
// Columns is the unfolded receptive-field buffer with shape
// (batch, inC*kd*kh*kw, outD*outH*outW), filled per batch item by
// Forward and consumed read-only by the weight-gradient pass.
// GradColumns is scratch of the same shape for the input-gradient
// unfold/fold round trip; Forward leaves it empty and Backward sizes it.
type Saved struct {
	Columns     *tensor.RawTensor
	GradColumns *tensor.RawTensor
}

// NewSaved creates an empty Saved value for the given element type.
func NewSaved(dtype tensor.DataType) (*Saved, error) {
	columns, err := tensor.NewRaw(tensor.Shape{0}, dtype)
	if err != nil {
		return nil, err
	}
	gradColumns, err := tensor.NewRaw(tensor.Shape{0}, dtype)
	if err != nil {
		return nil, err
	}
	return &Saved{Columns: columns, GradColumns: gradColumns}, nil
}

// OutputSize computes the output spatial extent per axis,
// floor((input+2*pad-kernel)/stride)+1, after validating that the
// geometry is feasible. Triples are ordered (depth, height, width).
func OutputSize(inputSize, kernelSize, stride, padding [3]int) ([3]int, error) {
	var out [3]int
	for i := 0; i < 3; i++ {
		if kernelSize[i] <= 0 {
			return out, fmt.Errorf("%w: kernel size should be greater than zero, got %v", ErrInvalidArgument, kernelSize)
		}
		if stride[i] <= 0 {
			return out, fmt.Errorf("%w: stride should be greater than zero, got %v", ErrInvalidArgument, stride)
		}
		if inputSize[i]+2*padding[i] < kernelSize[i] {
			return out, fmt.Errorf("%w: kernel size %v exceeds padded input size %v", ErrInvalidArgument, kernelSize, inputSize)
		}
		out[i] = outputSize(inputSize[i], kernelSize[i], stride[i], padding[i])
		if out[i] < 1 {
			return out, fmt.Errorf("%w: calculated output size %v is too small", ErrInvalidArgument, out)
		}
	}
	return out, nil
}

// Forward runs the forward convolution pass, allocating the output and
// the saved intermediates.
//
// input is (batch, inC, inD, inH, inW); weight is (outC, inC, kd, kh, kw)
// or pre-flattened (outC, inC*kd*kh*kw); bias is optional (outC) and may
// be nil. Triples are ordered (depth, height, width).
func Forward(input, weight, bias *tensor.RawTensor,
	kernelSize, stride, padding [3]int) (*tensor.RawTensor, *Saved, error) {
	output, err := tensor.NewRaw(tensor.Shape{0}, input.DType())
	if err != nil {
		return nil, nil, err
	}
	saved, err := NewSaved(input.DType())
	if err != nil {
		return nil, nil, err
	}
	if err := ForwardOut(output, saved, input, weight, kernelSize, bias, stride, padding); err != nil {
		return nil, nil, err
	}
	return output, saved, nil
}

// Conv3D runs the forward pass only, discarding the saved intermediates.
func Conv3D(input, weight, bias *tensor.RawTensor,
	kernelSize, stride, padding [3]int) (*tensor.RawTensor, error) {
	output, _, err := Forward(input, weight, bias, kernelSize, stride, padding)
	return output, err
}

// ForwardOut is the caller-allocated variant of Forward: it resizes
// output to (batch, outC, outD, outH, outW) and saved.Columns to the
// unfold shape, then fills both. saved.GradColumns is left for Backward
// to size. Validation failures surface before any resize, so no partial
// output is ever produced on the error path.
//
// Each batch item writes a wholly disjoint region of output and of
// saved.Columns, so items are processed in parallel without locking.
func ForwardOut(output *tensor.RawTensor, saved *Saved,
	input, weight *tensor.RawTensor, kernelSize [3]int,
	bias *tensor.RawTensor, stride, padding [3]int) error {
	if err := checkShapes(input, nil, weight, bias, kernelSize, stride, padding, false); err != nil {
		return err
	}
	if err := checkDType(input, weight, bias, output, saved.Columns, saved.GradColumns); err != nil {
		return err
	}

	weight2d := viewWeight2d(weight)
	g := newGeometry(input.Shape(), kernelSize, stride, padding)
	batch := input.Shape()[dimBatch]
	outChannels := weight2d.Shape()[0]

	if err := saved.Columns.Resize(tensor.Shape{batch, g.columnRows(), g.columnCols()}); err != nil {
		return err
	}
	if err := output.Resize(tensor.Shape{batch, outChannels, g.outDepth, g.outHeight, g.outWidth}); err != nil {
		return err
	}

	switch input.DType() {
	case tensor.Float32:
		forwardBatch(output.AsFloat32(), saved.Columns.AsFloat32(),
			input.AsFloat32(), weight2d.AsFloat32(), float32Data(bias),
			outChannels, batch, g)
	case tensor.Float64:
		forwardBatch(output.AsFloat64(), saved.Columns.AsFloat64(),
			input.AsFloat64(), weight2d.AsFloat64(), float64Data(bias),
			outChannels, batch, g)
	}
	return nil
}

// forwardBatch drives the per-item forward kernel over the batch.
func forwardBatch[T tensor.Float](output, columns, input, weight2d, bias []T,
	outChannels, batch int, g geometry) {
	inFrame := g.inputFrameSize()
	colFrame := g.columnRows() * g.columnCols()
	outFrame := outChannels * g.columnCols()

	parallel.For(0, batch, batchGrainSize, func(start, end int) {
		for t := start; t < end; t++ {
			forwardFrame(
				output[t*outFrame:(t+1)*outFrame],
				columns[t*colFrame:(t+1)*colFrame],
				input[t*inFrame:(t+1)*inFrame],
				weight2d, bias, outChannels, g)
		}
	})
}

// forwardFrame computes one batch item: unfold the input frame into its
// column slice, then multiply by the weight matrix. With a bias, the
// output frame is first broadcast-filled per channel and the product is
// accumulated on top; without one, the product overwrites the frame.
func forwardFrame[T tensor.Float](out2d, columns, input, weight2d, bias []T,
	outChannels int, g geometry) {
	unfold3dCopy(columns, input, g)

	k := g.columnRows()
	n := g.columnCols()
	if bias != nil {
		for c := 0; c < outChannels; c++ {
			row := out2d[c*n : (c+1)*n]
			for i := range row {
				row[i] = bias[c]
			}
		}
		gemm(blas.NoTrans, blas.NoTrans, T(1), weight2d, outChannels, k, columns, k, n, T(1), out2d, outChannels, n)
	} else {
		gemm(blas.NoTrans, blas.NoTrans, T(1), weight2d, outChannels, k, columns, k, n, T(0), out2d, outChannels, n)
	}
}

// float32Data unwraps an optional tensor, keeping nil as "undefined".
func float32Data(t *tensor.RawTensor) []float32 {
	if t == nil {
		return nil
	}
	return t.AsFloat32()
}

func float64Data(t *tensor.RawTensor) []float64 {
	if t == nil {
		return nil
	}
	return t.AsFloat64()
}
