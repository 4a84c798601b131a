package conv3d

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/voxel-ml/voxel/internal/tensor"
)

// gemm computes c = alpha*op(a)*op(b) + beta*c over dense row-major
// slices, dispatching to the gonum BLAS implementation matching the
// element type. Row/column arguments are storage dimensions; transposes
// apply logically via tA and tB.
func gemm[T tensor.Float](tA, tB blas.Transpose, alpha T,
	a []T, aRows, aCols int,
	b []T, bRows, bCols int,
	beta T,
	c []T, cRows, cCols int) {
	switch av := any(a).(type) {
	case []float32:
		blas32.Gemm(tA, tB, float32(alpha),
			blas32.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: av},
			blas32.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: any(b).([]float32)},
			float32(beta),
			blas32.General{Rows: cRows, Cols: cCols, Stride: cCols, Data: any(c).([]float32)})
	case []float64:
		blas64.Gemm(tA, tB, float64(alpha),
			blas64.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: av},
			blas64.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: any(b).([]float64)},
			float64(beta),
			blas64.General{Rows: cRows, Cols: cCols, Stride: cCols, Data: any(c).([]float64)})
	}
}
