package conv3d

import (
	"fmt"

	"gonum.org/v1/gonum/blas"

	"github.com/voxel-ml/voxel/internal/parallel"
	"github.com/voxel-ml/voxel/internal/tensor"
)

// Backward computes the gradients selected by mask, in the order
// (input, weight, bias), allocating a destination for each requested
// one. Unrequested gradients come back nil.
//
// saved must be the value returned by the matching Forward call, passed
// unchanged; Backward borrows mutable access to its scratch.
func Backward(gradOutput, input, weight *tensor.RawTensor,
	kernelSize, stride, padding [3]int, saved *Saved,
	mask [3]bool) (gradInput, gradWeight, gradBias *tensor.RawTensor, err error) {
	alloc := func() (*tensor.RawTensor, error) {
		return tensor.NewRaw(tensor.Shape{0}, gradOutput.DType())
	}
	if mask[0] {
		if gradInput, err = alloc(); err != nil {
			return nil, nil, nil, err
		}
	}
	if mask[1] {
		if gradWeight, err = alloc(); err != nil {
			return nil, nil, nil, err
		}
	}
	if mask[2] {
		if gradBias, err = alloc(); err != nil {
			return nil, nil, nil, err
		}
	}

	if err = BackwardOut(gradInput, gradWeight, gradBias,
		gradOutput, input, weight, kernelSize, stride, padding, saved); err != nil {
		return nil, nil, nil, err
	}
	return gradInput, gradWeight, gradBias, nil
}

// BackwardOut is the caller-allocated variant of Backward. A nil
// destination means that gradient is not requested. Each requested
// destination is resized and zero-initialized before accumulation.
func BackwardOut(gradInput, gradWeight, gradBias *tensor.RawTensor,
	gradOutput, input, weight *tensor.RawTensor,
	kernelSize, stride, padding [3]int, saved *Saved) error {
	if err := checkDType(gradOutput, input, weight, gradInput, gradWeight, gradBias,
		saved.Columns, saved.GradColumns); err != nil {
		return err
	}

	if gradInput != nil {
		if err := backwardGradInput(gradInput, gradOutput, input, weight,
			kernelSize, stride, padding, saved); err != nil {
			return err
		}
	}
	if gradWeight != nil || gradBias != nil {
		if err := backwardGradParams(gradWeight, gradBias, gradOutput, input, weight,
			kernelSize, stride, padding, saved); err != nil {
			return err
		}
	}
	return nil
}

// backwardGradInput computes the gradient w.r.t. the input: per batch
// item, the transposed weight matrix times the output-gradient frame
// yields gradient columns, which fold-accumulate back into a zeroed
// input-gradient frame. Writes are disjoint per item, so the batch loop
// runs in parallel without locking.
func backwardGradInput(gradInput, gradOutput, input, weight *tensor.RawTensor,
	kernelSize, stride, padding [3]int, saved *Saved) error {
	if weight == nil {
		return fmt.Errorf("%w: weight tensor is undefined", ErrInvalidArgument)
	}
	if err := checkShapes(input, gradOutput, weight, nil, kernelSize, stride, padding, false); err != nil {
		return err
	}

	weight2d := viewWeight2d(weight)
	g := newGeometry(input.Shape(), kernelSize, stride, padding)
	batch := input.Shape()[dimBatch]
	outChannels := weight2d.Shape()[0]

	if err := gradInput.Resize(input.Shape()); err != nil {
		return err
	}
	if err := saved.GradColumns.Resize(tensor.Shape{batch, g.columnRows(), g.columnCols()}); err != nil {
		return err
	}
	// Zero-fill once before the parallel loop; each item then touches
	// only its own slice, so no initial contribution leaks between items.
	saved.GradColumns.Zero()

	switch gradOutput.DType() {
	case tensor.Float32:
		gradInputBatch(gradInput.AsFloat32(), saved.GradColumns.AsFloat32(),
			gradOutput.AsFloat32(), weight2d.AsFloat32(), outChannels, batch, g)
	case tensor.Float64:
		gradInputBatch(gradInput.AsFloat64(), saved.GradColumns.AsFloat64(),
			gradOutput.AsFloat64(), weight2d.AsFloat64(), outChannels, batch, g)
	}
	return nil
}

func gradInputBatch[T tensor.Float](gradInput, gradColumns, gradOutput, weight2d []T,
	outChannels, batch int, g geometry) {
	inFrame := g.inputFrameSize()
	colFrame := g.columnRows() * g.columnCols()
	outFrame := outChannels * g.columnCols()

	parallel.For(0, batch, batchGrainSize, func(start, end int) {
		for t := start; t < end; t++ {
			gradInputFrame(
				gradInput[t*inFrame:(t+1)*inFrame],
				gradColumns[t*colFrame:(t+1)*colFrame],
				gradOutput[t*outFrame:(t+1)*outFrame],
				weight2d, outChannels, g)
		}
	})
}

// gradInputFrame runs the unfold/fold round trip for one batch item.
// Every input-gradient element receives the sum of contributions from
// each receptive-field column that covered it during the forward unfold.
func gradInputFrame[T tensor.Float](gradInput, gradColumns, gradOut2d, weight2d []T,
	outChannels int, g geometry) {
	k := g.columnRows()
	n := g.columnCols()

	gemm(blas.Trans, blas.NoTrans, T(1), weight2d, outChannels, k, gradOut2d, outChannels, n, T(0), gradColumns, k, n)

	clear(gradInput)
	unfold3dAcc(gradInput, gradColumns, g)
}

// backwardGradParams accumulates the weight and bias gradients. Both
// destinations are shared across all batch items, so each scheduler
// chunk accumulates into private buffers which are reduced sequentially,
// in chunk order, after the parallel region.
func backwardGradParams(gradWeight, gradBias *tensor.RawTensor,
	gradOutput, input, weight *tensor.RawTensor,
	kernelSize, stride, padding [3]int, saved *Saved) error {
	// The weight shape is only needed for the weight gradient; the
	// bias-gradient length comes from gradOutput itself.
	weightForCheck := weight
	if gradWeight == nil {
		weightForCheck = nil
	} else if weight == nil {
		return fmt.Errorf("%w: weight tensor is undefined", ErrInvalidArgument)
	}
	if err := checkShapes(input, gradOutput, weightForCheck, nil,
		kernelSize, stride, padding, gradWeight == nil); err != nil {
		return err
	}

	g := newGeometry(input.Shape(), kernelSize, stride, padding)
	batch := input.Shape()[dimBatch]
	outChannels := gradOutput.Shape()[dimPlanes]

	if gradWeight != nil {
		expect := tensor.Shape{batch, g.columnRows(), g.columnCols()}
		if !saved.Columns.Shape().Equal(expect) {
			return fmt.Errorf("%w: saved columns shape %v does not match %v; pass the Saved value returned by Forward",
				ErrInvalidArgument, saved.Columns.Shape(), expect)
		}
	}

	if gradWeight != nil {
		if err := gradWeight.Resize(weight.Shape()); err != nil {
			return err
		}
		gradWeight.Zero()
	}
	if gradBias != nil {
		if err := gradBias.Resize(tensor.Shape{outChannels}); err != nil {
			return err
		}
		gradBias.Zero()
	}

	switch gradOutput.DType() {
	case tensor.Float32:
		var gradWeight2d []float32
		if gradWeight != nil {
			gradWeight2d = viewWeight2d(gradWeight).AsFloat32()
		}
		gradParamsBatch(gradWeight2d, float32Data(gradBias),
			gradOutput.AsFloat32(), float32Data(saved.Columns), outChannels, batch, g)
	case tensor.Float64:
		var gradWeight2d []float64
		if gradWeight != nil {
			gradWeight2d = viewWeight2d(gradWeight).AsFloat64()
		}
		gradParamsBatch(gradWeight2d, float64Data(gradBias),
			gradOutput.AsFloat64(), float64Data(saved.Columns), outChannels, batch, g)
	}
	return nil
}

func gradParamsBatch[T tensor.Float](gradWeight2d, gradBias, gradOutput, columns []T,
	outChannels, batch int, g geometry) {
	spans := parallel.Partition(0, batch, batchGrainSize)
	if len(spans) == 0 {
		return
	}

	k := g.columnRows()
	n := g.columnCols()
	outFrame := outChannels * n
	colFrame := k * n

	partialWeight := make([][]T, len(spans))
	partialBias := make([][]T, len(spans))

	parallel.For(0, len(spans), 1, func(start, end int) {
		for ci := start; ci < end; ci++ {
			var pw, pb []T
			if gradWeight2d != nil {
				pw = make([]T, outChannels*k)
			}
			if gradBias != nil {
				pb = make([]T, outChannels)
			}
			for t := spans[ci].Begin; t < spans[ci].End; t++ {
				gradOut2d := gradOutput[t*outFrame : (t+1)*outFrame]
				if pw != nil {
					frameColumns := columns[t*colFrame : (t+1)*colFrame]
					gemm(blas.NoTrans, blas.Trans, T(1), gradOut2d, outChannels, n, frameColumns, k, n, T(1), pw, outChannels, k)
				}
				if pb != nil {
					accumulateBiasGrad(pb, gradOut2d, outChannels, n)
				}
			}
			partialWeight[ci] = pw
			partialBias[ci] = pb
		}
	})

	// Sequential reduction in chunk order keeps the result independent
	// of scheduling.
	for ci := range spans {
		if pw := partialWeight[ci]; pw != nil {
			for i, v := range pw {
				gradWeight2d[i] += v
			}
		}
		if pb := partialBias[ci]; pb != nil {
			for i, v := range pb {
				gradBias[i] += v
			}
		}
	}
}

// accumulateBiasGrad adds the spatial sum of each output-channel row of
// one output-gradient frame to the bias gradient.
func accumulateBiasGrad[T tensor.Float](gradBias, gradOut2d []T, outChannels, n int) {
	for c := 0; c < outChannels; c++ {
		row := gradOut2d[c*n : (c+1)*n]
		var sum T
		for _, v := range row {
			sum += v
		}
		gradBias[c] += sum
	}
}
