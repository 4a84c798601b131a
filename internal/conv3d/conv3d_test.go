package conv3d

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/voxel-ml/voxel/internal/tensor"
)

// naiveConv3d is a direct seven-loop convolution used to pin the
// unfold+GEMM pipeline.
func naiveConv3d(input []float64, inShape tensor.Shape, weight, bias []float64,
	outChannels int, kernel, stride, padding [3]int) []float64 {
	batch, channels := inShape[0], inShape[1]
	inD, inH, inW := inShape[2], inShape[3], inShape[4]
	kd, kh, kw := kernel[0], kernel[1], kernel[2]
	outD := outputSize(inD, kd, stride[0], padding[0])
	outH := outputSize(inH, kh, stride[1], padding[1])
	outW := outputSize(inW, kw, stride[2], padding[2])

	out := make([]float64, batch*outChannels*outD*outH*outW)
	idx := 0
	for n := 0; n < batch; n++ {
		for oc := 0; oc < outChannels; oc++ {
			for od := 0; od < outD; od++ {
				for oh := 0; oh < outH; oh++ {
					for ow := 0; ow < outW; ow++ {
						sum := 0.0
						if bias != nil {
							sum = bias[oc]
						}
						for c := 0; c < channels; c++ {
							for z := 0; z < kd; z++ {
								for y := 0; y < kh; y++ {
									for x := 0; x < kw; x++ {
										d := od*stride[0] - padding[0] + z
										h := oh*stride[1] - padding[1] + y
										w := ow*stride[2] - padding[2] + x
										if d < 0 || d >= inD || h < 0 || h >= inH || w < 0 || w >= inW {
											continue
										}
										in := input[(((n*channels+c)*inD+d)*inH+h)*inW+w]
										wt := weight[(((oc*channels+c)*kd+z)*kh+y)*kw+x]
										sum += in * wt
									}
								}
							}
						}
						out[idx] = sum
						idx++
					}
				}
			}
		}
	}
	return out
}

func randomFloat64(n int, rng *rand.Rand) []float64 {
	data := make([]float64, n)
	for i := range data {
		data[i] = rng.Float64()*2 - 1
	}
	return data
}

func fromF64(t *testing.T, data []float64, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromSlice(data, shape)
	if err != nil {
		t.Fatalf("FromSlice(%v): %v", shape, err)
	}
	return r
}

// TestForward_DotProductScenario pins the single-channel case: input
// (1,1,4,4,4), weight (1,1,2,2,2), bias [0], stride 1, padding 0 yields
// a (1,1,3,3,3) output where each voxel is the dot product of its 2x2x2
// input window with the kernel.
func TestForward_DotProductScenario(t *testing.T) {
	inputData := make([]float64, 64)
	for i := range inputData {
		inputData[i] = float64(i)
	}
	weightData := []float64{1, 2, 3, 4, 5, 6, 7, 8}

	input := fromF64(t, inputData, tensor.Shape{1, 1, 4, 4, 4})
	weight := fromF64(t, weightData, tensor.Shape{1, 1, 2, 2, 2})
	bias := fromF64(t, []float64{0}, tensor.Shape{1})

	output, saved, err := Forward(input, weight, bias, [3]int{2, 2, 2}, [3]int{1, 1, 1}, [3]int{0, 0, 0})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	if !output.Shape().Equal(tensor.Shape{1, 1, 3, 3, 3}) {
		t.Fatalf("output shape = %v, want [1 1 3 3 3]", output.Shape())
	}
	if !saved.Columns.Shape().Equal(tensor.Shape{1, 8, 27}) {
		t.Fatalf("columns shape = %v, want [1 8 27]", saved.Columns.Shape())
	}

	got := output.AsFloat64()
	idx := 0
	for od := 0; od < 3; od++ {
		for oh := 0; oh < 3; oh++ {
			for ow := 0; ow < 3; ow++ {
				want := 0.0
				for z := 0; z < 2; z++ {
					for y := 0; y < 2; y++ {
						for x := 0; x < 2; x++ {
							want += inputData[((od+z)*4+(oh+y))*4+(ow+x)] * weightData[(z*2+y)*2+x]
						}
					}
				}
				if math.Abs(got[idx]-want) > 1e-9 {
					t.Fatalf("output[%d,%d,%d] = %v, want %v", od, oh, ow, got[idx], want)
				}
				idx++
			}
		}
	}
}

func TestForward_MatchesNaiveReference(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	cases := []struct {
		name    string
		stride  [3]int
		padding [3]int
	}{
		{"stride 1 no padding", [3]int{1, 1, 1}, [3]int{0, 0, 0}},
		{"stride 2", [3]int{2, 2, 2}, [3]int{0, 0, 0}},
		{"padding 1", [3]int{1, 1, 1}, [3]int{1, 1, 1}},
		{"mixed", [3]int{2, 1, 2}, [3]int{1, 0, 1}},
	}

	inShape := tensor.Shape{2, 3, 5, 6, 4}
	kernel := [3]int{3, 2, 2}
	const outChannels = 4

	inputData := randomFloat64(inShape.NumElements(), rng)
	weightData := randomFloat64(outChannels*3*kernel[0]*kernel[1]*kernel[2], rng)
	biasData := randomFloat64(outChannels, rng)

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			input := fromF64(t, inputData, inShape)
			weight := fromF64(t, weightData, tensor.Shape{outChannels, 3, kernel[0], kernel[1], kernel[2]})
			bias := fromF64(t, biasData, tensor.Shape{outChannels})

			output, _, err := Forward(input, weight, bias, kernel, c.stride, c.padding)
			if err != nil {
				t.Fatalf("Forward: %v", err)
			}

			want := naiveConv3d(inputData, inShape, weightData, biasData, outChannels, kernel, c.stride, c.padding)
			got := output.AsFloat64()
			if len(got) != len(want) {
				t.Fatalf("output has %d elements, want %d", len(got), len(want))
			}
			for i := range want {
				if math.Abs(got[i]-want[i]) > 1e-9 {
					t.Fatalf("output[%d] = %v, want %v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestForward_BiasIsAdditiveShift(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	inShape := tensor.Shape{1, 2, 4, 4, 4}
	kernel := [3]int{2, 2, 2}

	inputData := randomFloat64(inShape.NumElements(), rng)
	weightData := randomFloat64(3*2*8, rng)
	biasData := []float64{0.5, -1.25, 2}

	input := fromF64(t, inputData, inShape)
	weight := fromF64(t, weightData, tensor.Shape{3, 2, 2, 2, 2})
	bias := fromF64(t, biasData, tensor.Shape{3})

	withBias, _, err := Forward(input, weight, bias, kernel, [3]int{1, 1, 1}, [3]int{0, 0, 0})
	if err != nil {
		t.Fatalf("Forward with bias: %v", err)
	}
	withoutBias, _, err := Forward(input, weight, nil, kernel, [3]int{1, 1, 1}, [3]int{0, 0, 0})
	if err != nil {
		t.Fatalf("Forward without bias: %v", err)
	}

	spatial := withBias.Shape()[2] * withBias.Shape()[3] * withBias.Shape()[4]
	a, b := withBias.AsFloat64(), withoutBias.AsFloat64()
	for c := 0; c < 3; c++ {
		for j := 0; j < spatial; j++ {
			i := c*spatial + j
			if math.Abs(a[i]-(b[i]+biasData[c])) > 1e-9 {
				t.Fatalf("channel %d: with bias %v, without %v, bias %v", c, a[i], b[i], biasData[c])
			}
		}
	}
}

func TestForward_LinearInWeight(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	inShape := tensor.Shape{1, 2, 4, 4, 4}
	wShape := tensor.Shape{2, 2, 2, 2, 2}
	kernel := [3]int{2, 2, 2}
	stride := [3]int{1, 1, 1}
	padding := [3]int{0, 0, 0}

	inputData := randomFloat64(inShape.NumElements(), rng)
	w1 := randomFloat64(wShape.NumElements(), rng)
	w2 := randomFloat64(wShape.NumElements(), rng)
	wSum := make([]float64, len(w1))
	for i := range wSum {
		wSum[i] = w1[i] + w2[i]
	}

	input := fromF64(t, inputData, inShape)
	out1, _, err := Forward(input, fromF64(t, w1, wShape), nil, kernel, stride, padding)
	if err != nil {
		t.Fatalf("Forward(w1): %v", err)
	}
	out2, _, err := Forward(input, fromF64(t, w2, wShape), nil, kernel, stride, padding)
	if err != nil {
		t.Fatalf("Forward(w2): %v", err)
	}
	outSum, _, err := Forward(input, fromF64(t, wSum, wShape), nil, kernel, stride, padding)
	if err != nil {
		t.Fatalf("Forward(w1+w2): %v", err)
	}

	a, b, s := out1.AsFloat64(), out2.AsFloat64(), outSum.AsFloat64()
	for i := range s {
		if math.Abs(s[i]-(a[i]+b[i])) > 1e-9 {
			t.Fatalf("output[%d]: f(w1+w2)=%v, f(w1)+f(w2)=%v", i, s[i], a[i]+b[i])
		}
	}
}

func TestForward_Weight2DEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	inShape := tensor.Shape{2, 3, 4, 4, 4}
	kernel := [3]int{2, 2, 2}

	inputData := randomFloat64(inShape.NumElements(), rng)
	weightData := randomFloat64(4*3*8, rng)

	input := fromF64(t, inputData, inShape)
	weight5d := fromF64(t, weightData, tensor.Shape{4, 3, 2, 2, 2})
	weight2d := fromF64(t, weightData, tensor.Shape{4, 3 * 8})

	out5d, _, err := Forward(input, weight5d, nil, kernel, [3]int{1, 1, 1}, [3]int{0, 0, 0})
	if err != nil {
		t.Fatalf("Forward(5D weight): %v", err)
	}
	out2d, _, err := Forward(input, weight2d, nil, kernel, [3]int{1, 1, 1}, [3]int{0, 0, 0})
	if err != nil {
		t.Fatalf("Forward(2D weight): %v", err)
	}

	a, b := out5d.AsFloat64(), out2d.AsFloat64()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("output[%d]: 5D weight %v, 2D weight %v", i, a[i], b[i])
		}
	}
}

func TestForward_BatchIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	const batch = 3
	frameShape := tensor.Shape{1, 2, 4, 5, 4}
	inShape := tensor.Shape{batch, 2, 4, 5, 4}
	kernel := [3]int{2, 2, 2}
	stride := [3]int{1, 1, 1}
	padding := [3]int{1, 1, 1}

	inputData := randomFloat64(inShape.NumElements(), rng)
	weightData := randomFloat64(3*2*8, rng)
	biasData := randomFloat64(3, rng)
	weightShape := tensor.Shape{3, 2, 2, 2, 2}

	batched, _, err := Forward(fromF64(t, inputData, inShape),
		fromF64(t, weightData, weightShape), fromF64(t, biasData, tensor.Shape{3}),
		kernel, stride, padding)
	if err != nil {
		t.Fatalf("Forward(batch): %v", err)
	}

	frameIn := frameShape.NumElements()
	frameOut := batched.NumElements() / batch
	got := batched.AsFloat64()
	for n := 0; n < batch; n++ {
		single, _, err := Forward(fromF64(t, inputData[n*frameIn:(n+1)*frameIn], frameShape),
			fromF64(t, weightData, weightShape), fromF64(t, biasData, tensor.Shape{3}),
			kernel, stride, padding)
		if err != nil {
			t.Fatalf("Forward(item %d): %v", n, err)
		}
		want := single.AsFloat64()
		for i := range want {
			if got[n*frameOut+i] != want[i] {
				t.Fatalf("item %d element %d: batched %v, single %v", n, i, got[n*frameOut+i], want[i])
			}
		}
	}
}

func TestForward_EmptyBatch(t *testing.T) {
	input := mustRaw(t, tensor.Shape{0, 2, 4, 4, 4})
	weight := mustRaw(t, tensor.Shape{3, 2, 2, 2, 2})

	output, saved, err := Forward(input, weight, nil, [3]int{2, 2, 2}, [3]int{1, 1, 1}, [3]int{0, 0, 0})
	if err != nil {
		t.Fatalf("Forward on empty batch: %v", err)
	}
	if !output.Shape().Equal(tensor.Shape{0, 3, 3, 3, 3}) {
		t.Errorf("output shape = %v, want [0 3 3 3 3]", output.Shape())
	}
	if !saved.Columns.Shape().Equal(tensor.Shape{0, 16, 27}) {
		t.Errorf("columns shape = %v, want [0 16 27]", saved.Columns.Shape())
	}
}

func TestForward_Float32(t *testing.T) {
	inputData := make([]float32, 2*1*3*3*3)
	for i := range inputData {
		inputData[i] = float32(i%5) - 2
	}
	weightData := []float32{0.5, -1, 2, 0, 1, 1, -0.5, 0.25}

	input, err := tensor.FromSlice(inputData, tensor.Shape{2, 1, 3, 3, 3})
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	weight, err := tensor.FromSlice(weightData, tensor.Shape{1, 1, 2, 2, 2})
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}

	output, _, err := Forward(input, weight, nil, [3]int{2, 2, 2}, [3]int{1, 1, 1}, [3]int{0, 0, 0})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	in64 := make([]float64, len(inputData))
	for i, v := range inputData {
		in64[i] = float64(v)
	}
	w64 := make([]float64, len(weightData))
	for i, v := range weightData {
		w64[i] = float64(v)
	}
	want := naiveConv3d(in64, tensor.Shape{2, 1, 3, 3, 3}, w64, nil, 1,
		[3]int{2, 2, 2}, [3]int{1, 1, 1}, [3]int{0, 0, 0})

	got := output.AsFloat32()
	for i := range want {
		if math.Abs(float64(got[i])-want[i]) > 1e-4 {
			t.Fatalf("output[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestForwardOut_ReusesBuffers(t *testing.T) {
	input := mustRaw(t, tensor.Shape{1, 1, 4, 4, 4})
	weight := mustRaw(t, tensor.Shape{1, 1, 2, 2, 2})

	output, err := tensor.NewRaw(tensor.Shape{0}, tensor.Float32)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	saved, err := NewSaved(tensor.Float32)
	if err != nil {
		t.Fatalf("NewSaved: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := ForwardOut(output, saved, input, weight, [3]int{2, 2, 2}, nil,
			[3]int{1, 1, 1}, [3]int{0, 0, 0}); err != nil {
			t.Fatalf("ForwardOut pass %d: %v", i, err)
		}
	}
	if !output.Shape().Equal(tensor.Shape{1, 1, 3, 3, 3}) {
		t.Errorf("output shape = %v, want [1 1 3 3 3]", output.Shape())
	}
}

func TestForward_ValidationPrecedesResize(t *testing.T) {
	input := mustRaw(t, tensor.Shape{1, 1, 3, 3, 3})
	weight := mustRaw(t, tensor.Shape{1, 1, 5, 5, 5})

	output, _ := tensor.NewRaw(tensor.Shape{0}, tensor.Float32)
	saved, _ := NewSaved(tensor.Float32)

	err := ForwardOut(output, saved, input, weight, [3]int{5, 5, 5}, nil,
		[3]int{1, 1, 1}, [3]int{0, 0, 0})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	// No partial output on the error path.
	if !output.Shape().Equal(tensor.Shape{0}) || !saved.Columns.Shape().Equal(tensor.Shape{0}) {
		t.Errorf("buffers resized despite validation failure: output %v, columns %v",
			output.Shape(), saved.Columns.Shape())
	}
}
