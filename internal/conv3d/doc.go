// Package conv3d implements the forward and backward passes of a direct
// volumetric convolution over 5-D tensors (batch, channels, depth,
// height, width).
//
// The convolution is realized as unfold -> GEMM -> fold: every sliding
// receptive-field window of an input frame is laid out as one column of
// a matrix (vol2col), the dense product with the flattened weight matrix
// produces the output frame, and the inverse accumulation (col2vol)
// recovers the input gradient. Batch items are independent and are
// processed by a synchronous parallel loop; the weight and bias
// gradients, which are shared across batch items, are accumulated into
// per-chunk private buffers and reduced sequentially after the parallel
// region.
package conv3d
