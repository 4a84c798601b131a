package conv3d

import "github.com/voxel-ml/voxel/internal/tensor"

// viewWeight2d reinterprets a rank-5 weight (outC, inC, kd, kh, kw) as a
// rank-2 matrix (outC, inC*kd*kh*kw) without copying. A rank-2 weight is
// returned unchanged. No validation happens here; callers have already
// run checkShapes, and RawTensor layout is always canonical so the view
// is always legal.
func viewWeight2d(weight *tensor.RawTensor) *tensor.RawTensor {
	if weight.Dim() != 5 {
		return weight
	}
	s := weight.Shape()
	w2d, err := weight.View(tensor.Shape{s[0], s[1] * s[2] * s[3] * s[4]})
	if err != nil {
		panic("conv3d: 5D weight not viewable as 2D: " + err.Error())
	}
	return w2d
}
