package conv3d

import (
	"errors"
	"fmt"

	"github.com/voxel-ml/voxel/internal/tensor"
)

// ErrInvalidArgument is wrapped by every shape or parameter validation
// failure. All such failures are reported synchronously, before any
// buffer is resized and before any parallel work is dispatched.
var ErrInvalidArgument = errors.New("invalid argument")

// Dimension roles of a 5-D volume tensor.
const (
	dimBatch  = 0
	dimPlanes = 1
	dimDepth  = 2
	dimHeight = 3
	dimWidth  = 4
)

// outputSize computes the output extent for one spatial axis.
// The caller has already established input+2*pad >= kernel, so the
// numerator is never negative.
func outputSize(input, kernel, stride, pad int) int {
	return (input+2*pad-kernel)/stride + 1
}

// checkShapes validates every shape and parameter invariant of a
// convolution call. gradOutput, weight and bias may be nil (undefined);
// weight may be nil only when weightOptional is set, which is the case
// for the parameter-gradient pass when solely the bias gradient is
// requested.
//
// Check order matters: positivity first, then rank/emptiness, then size
// feasibility, then cross-tensor agreement. Each check assumes the prior
// ones held.
func checkShapes(input, gradOutput, weight, bias *tensor.RawTensor,
	kernelSize, stride, padding [3]int, weightOptional bool) error {
	kd, kh, kw := kernelSize[0], kernelSize[1], kernelSize[2]
	sd, sh, sw := stride[0], stride[1], stride[2]
	pd, ph, pw := padding[0], padding[1], padding[2]

	if kd <= 0 || kh <= 0 || kw <= 0 {
		return fmt.Errorf("%w: kernel size should be greater than zero, got %d x %d x %d (DxHxW)",
			ErrInvalidArgument, kd, kh, kw)
	}
	if sd <= 0 || sh <= 0 || sw <= 0 {
		return fmt.Errorf("%w: stride should be greater than zero, got %d x %d x %d (DxHxW)",
			ErrInvalidArgument, sd, sh, sw)
	}

	if weight != nil {
		if weight.NumElements() == 0 || (weight.Dim() != 2 && weight.Dim() != 5) {
			return fmt.Errorf("%w: non-empty 2D or 5D weight tensor expected, got shape %v",
				ErrInvalidArgument, weight.Shape())
		}
		if bias != nil {
			if bias.Dim() != 1 || bias.Shape()[0] != weight.Shape()[0] {
				return fmt.Errorf("%w: bias shape %v does not match weight output channels %d",
					ErrInvalidArgument, bias.Shape(), weight.Shape()[0])
			}
		}
	} else if !weightOptional {
		return fmt.Errorf("%w: weight tensor is undefined", ErrInvalidArgument)
	}

	// A zero batch is allowed; any other zero dimension is not.
	validEmpty := input.Dim() == 5 && input.Shape()[dimBatch] == 0 &&
		input.Shape()[dimPlanes] != 0 && input.Shape()[dimDepth] != 0 &&
		input.Shape()[dimHeight] != 0 && input.Shape()[dimWidth] != 0
	if input.Dim() != 5 || (input.NumElements() == 0 && !validEmpty) {
		return fmt.Errorf("%w: non-empty 5D input tensor expected, got shape %v",
			ErrInvalidArgument, input.Shape())
	}

	inDepth := input.Shape()[dimDepth]
	inHeight := input.Shape()[dimHeight]
	inWidth := input.Shape()[dimWidth]

	paddedDepth := inDepth + 2*pd
	paddedHeight := inHeight + 2*ph
	paddedWidth := inWidth + 2*pw
	if paddedDepth < kd || paddedHeight < kh || paddedWidth < kw {
		return fmt.Errorf("%w: kernel size (%d x %d x %d) exceeds padded input size per channel (%d x %d x %d)",
			ErrInvalidArgument, kd, kh, kw, paddedDepth, paddedHeight, paddedWidth)
	}

	outDepth := outputSize(inDepth, kd, sd, pd)
	outHeight := outputSize(inHeight, kh, sh, ph)
	outWidth := outputSize(inWidth, kw, sw, pw)
	if outDepth < 1 || outHeight < 1 || outWidth < 1 {
		return fmt.Errorf("%w: calculated output size per channel is too small: %d x %d x %d for input %d x %d x %d",
			ErrInvalidArgument, outDepth, outHeight, outWidth, inDepth, inHeight, inWidth)
	}

	if weight != nil {
		inPlanes := weight.Shape()[1]
		if weight.Dim() == 2 {
			inPlanes /= kd * kh * kw
		}
		if input.Shape()[dimPlanes] != inPlanes {
			return fmt.Errorf("%w: input channels %d do not match weight input channels %d",
				ErrInvalidArgument, input.Shape()[dimPlanes], inPlanes)
		}
	}

	if gradOutput != nil {
		if gradOutput.Dim() != 5 {
			return fmt.Errorf("%w: 5D gradOutput tensor expected, got shape %v",
				ErrInvalidArgument, gradOutput.Shape())
		}
		switch {
		case weight != nil:
			if gradOutput.Shape()[dimPlanes] != weight.Shape()[0] {
				return fmt.Errorf("%w: gradOutput channels %d do not match weight output channels %d",
					ErrInvalidArgument, gradOutput.Shape()[dimPlanes], weight.Shape()[0])
			}
		case bias != nil:
			if bias.NumElements() == 0 {
				return fmt.Errorf("%w: non-empty bias tensor expected", ErrInvalidArgument)
			}
			if gradOutput.Shape()[dimPlanes] != bias.Shape()[0] {
				return fmt.Errorf("%w: gradOutput channels %d do not match bias length %d",
					ErrInvalidArgument, gradOutput.Shape()[dimPlanes], bias.Shape()[0])
			}
		}
		if gradOutput.Shape()[dimDepth] != outDepth ||
			gradOutput.Shape()[dimHeight] != outHeight ||
			gradOutput.Shape()[dimWidth] != outWidth {
			return fmt.Errorf("%w: gradOutput spatial size %d x %d x %d does not match calculated output size %d x %d x %d",
				ErrInvalidArgument,
				gradOutput.Shape()[dimDepth], gradOutput.Shape()[dimHeight], gradOutput.Shape()[dimWidth],
				outDepth, outHeight, outWidth)
		}
	}

	return nil
}

// checkDType verifies that every defined tensor shares one supported
// floating element type.
func checkDType(input *tensor.RawTensor, others ...*tensor.RawTensor) error {
	dt := input.DType()
	if dt != tensor.Float32 && dt != tensor.Float64 {
		return fmt.Errorf("%w: unsupported dtype %s", ErrInvalidArgument, dt)
	}
	for _, t := range others {
		if t != nil && t.DType() != dt {
			return fmt.Errorf("%w: mixed dtypes %s and %s", ErrInvalidArgument, dt, t.DType())
		}
	}
	return nil
}
