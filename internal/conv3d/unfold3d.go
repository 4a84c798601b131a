package conv3d

import "github.com/voxel-ml/voxel/internal/tensor"

// geometry collects the per-frame dimensions of one convolution call.
// All values are element counts for a single batch item.
type geometry struct {
	channels                               int
	inDepth, inHeight, inWidth             int
	kernelDepth, kernelHeight, kernelWidth int
	strideDepth, strideHeight, strideWidth int
	padDepth, padHeight, padWidth          int
	outDepth, outHeight, outWidth          int
}

func newGeometry(inputShape tensor.Shape, kernelSize, stride, padding [3]int) geometry {
	g := geometry{
		channels:     inputShape[dimPlanes],
		inDepth:      inputShape[dimDepth],
		inHeight:     inputShape[dimHeight],
		inWidth:      inputShape[dimWidth],
		kernelDepth:  kernelSize[0],
		kernelHeight: kernelSize[1],
		kernelWidth:  kernelSize[2],
		strideDepth:  stride[0],
		strideHeight: stride[1],
		strideWidth:  stride[2],
		padDepth:     padding[0],
		padHeight:    padding[1],
		padWidth:     padding[2],
	}
	g.outDepth = outputSize(g.inDepth, g.kernelDepth, g.strideDepth, g.padDepth)
	g.outHeight = outputSize(g.inHeight, g.kernelHeight, g.strideHeight, g.padHeight)
	g.outWidth = outputSize(g.inWidth, g.kernelWidth, g.strideWidth, g.padWidth)
	return g
}

// inputFrameSize is the element count of one batch item of the input.
func (g geometry) inputFrameSize() int {
	return g.channels * g.inDepth * g.inHeight * g.inWidth
}

// columnRows is the unfolded receptive-field length C*kd*kh*kw.
func (g geometry) columnRows() int {
	return g.channels * g.kernelDepth * g.kernelHeight * g.kernelWidth
}

// columnCols is the number of output positions od*oh*ow.
func (g geometry) columnCols() int {
	return g.outDepth * g.outHeight * g.outWidth
}

// unfold3dCopy fills a (C*kd*kh*kw) x (od*oh*ow) column matrix from one
// input frame: column j holds the flattened receptive field that
// produces output position j. Positions falling into the zero padding
// write zeros, so the destination needs no prior clearing.
func unfold3dCopy[T tensor.Float](columns, input []T, g geometry) {
	cols := g.columnCols()
	row := 0
	for c := 0; c < g.channels; c++ {
		channel := input[c*g.inDepth*g.inHeight*g.inWidth : (c+1)*g.inDepth*g.inHeight*g.inWidth]
		for kd := 0; kd < g.kernelDepth; kd++ {
			for kh := 0; kh < g.kernelHeight; kh++ {
				for kw := 0; kw < g.kernelWidth; kw++ {
					dst := columns[row*cols : (row+1)*cols]
					j := 0
					for od := 0; od < g.outDepth; od++ {
						d := od*g.strideDepth - g.padDepth + kd
						for oh := 0; oh < g.outHeight; oh++ {
							h := oh*g.strideHeight - g.padHeight + kh
							for ow := 0; ow < g.outWidth; ow++ {
								w := ow*g.strideWidth - g.padWidth + kw
								if d >= 0 && d < g.inDepth && h >= 0 && h < g.inHeight && w >= 0 && w < g.inWidth {
									dst[j] = channel[(d*g.inHeight+h)*g.inWidth+w]
								} else {
									dst[j] = 0
								}
								j++
							}
						}
					}
					row++
				}
			}
		}
	}
}

// unfold3dAcc is the inverse of unfold3dCopy: it sums every column entry
// of the gradient matrix back into the receptive-field positions it was
// read from, accumulating where windows overlap. The caller zeroes the
// destination frame first.
func unfold3dAcc[T tensor.Float](gradInput, columns []T, g geometry) {
	cols := g.columnCols()
	row := 0
	for c := 0; c < g.channels; c++ {
		channel := gradInput[c*g.inDepth*g.inHeight*g.inWidth : (c+1)*g.inDepth*g.inHeight*g.inWidth]
		for kd := 0; kd < g.kernelDepth; kd++ {
			for kh := 0; kh < g.kernelHeight; kh++ {
				for kw := 0; kw < g.kernelWidth; kw++ {
					src := columns[row*cols : (row+1)*cols]
					j := 0
					for od := 0; od < g.outDepth; od++ {
						d := od*g.strideDepth - g.padDepth + kd
						for oh := 0; oh < g.outHeight; oh++ {
							h := oh*g.strideHeight - g.padHeight + kh
							for ow := 0; ow < g.outWidth; ow++ {
								w := ow*g.strideWidth - g.padWidth + kw
								if d >= 0 && d < g.inDepth && h >= 0 && h < g.inHeight && w >= 0 && w < g.inWidth {
									channel[(d*g.inHeight+h)*g.inWidth+w] += src[j]
								}
								j++
							}
						}
					}
					row++
				}
			}
		}
	}
}
