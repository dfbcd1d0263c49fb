package dagsearch

// Int32View and Float32View are the decoded form of the strided byte views
// the external interface (§6) describes: a base buffer plus per-dimension
// strides and extents, with indexing at base + sum(idx[d]*stride[d]). The
// actual host-language binding that reinterprets a tensor's raw memory as
// one of these — decoding a torch/numpy buffer's dtype and byte strides
// into typed Go slices — is explicitly out of scope (§1); callers hand
// this package already-typed, already-strided views.
//
// Strides are in elements, not bytes: Go slices are already typed, so
// there is no dtype-reinterpretation step left to do once the caller has
// produced a []int32 or []float32 backing buffer.
type Int32View struct {
	Data    []int32
	Strides []int
	Extents []int
}

// At indexes the view at idx, one value per dimension. No bounds checking
// is performed, matching the reference tensor contract.
func (v Int32View) At(idx ...int) int32 {
	return v.Data[offset(v.Strides, idx)]
}

// Float32View is the float32 counterpart of Int32View, used for dagscores.
type Float32View struct {
	Data    []float32
	Strides []int
	Extents []int
}

// At indexes the view at idx, one value per dimension.
func (v Float32View) At(idx ...int) float32 {
	return v.Data[offset(v.Strides, idx)]
}

func offset(strides []int, idx []int) int {
	off := 0
	for d, i := range idx {
		off += i * strides[d]
	}
	return off
}

// NewInt32View3 builds a densely strided 3-D view (row-major: dims
// extents[0] x extents[1] x extents[2]) over data, for the common case of
// candidate tensors shaped [batch, step, topk] that are handed in already
// packed contiguously.
func NewInt32View3(data []int32, e0, e1, e2 int) Int32View {
	return Int32View{
		Data:    data,
		Strides: []int{e1 * e2, e2, 1},
		Extents: []int{e0, e1, e2},
	}
}

// NewFloat32View3 is the float32 counterpart of NewInt32View3.
func NewFloat32View3(data []float32, e0, e1, e2 int) Float32View {
	return Float32View{
		Data:    data,
		Strides: []int{e1 * e2, e2, 1},
		Extents: []int{e0, e1, e2},
	}
}

// NewInt32View1 wraps a flat buffer as a 1-D view, used for
// output_length[b] and lm_vocab[word].
func NewInt32View1(data []int32) Int32View {
	return Int32View{Data: data, Strides: []int{1}, Extents: []int{len(data)}}
}
