package alignment

import (
	"errors"
	"math/rand"
	"testing"

	"proofread/internal/models"
	"proofread/pkg/canonical"
)

// randomMask returns a uint8 raw mask with labels in {0, 1, 2}
func randomMask(rng *rand.Rand, shape models.Shape) *models.RawArray {
	a := models.NewArray(shape)
	for i := range a.Data {
		a.Data[i] = uint8(rng.Intn(3))
	}
	return canonical.FromArray(a)
}

func TestAbsentMask(t *testing.T) {
	target := models.Shape{4, 6, 8}
	out, res := Align(nil, target)
	if !out.Shape.Equal(target) {
		t.Fatalf("Expected shape %v, got %v", target, out.Shape)
	}
	if out.CountNonzero() != 0 {
		t.Errorf("Absent mask should be all zeros")
	}
	if res.Method != Empty {
		t.Errorf("Expected method %q, got %q", Empty, res.Method)
	}
}

func TestExactMatchBinarizes(t *testing.T) {
	raw := &models.RawArray{
		Shape:   models.Shape{2, 2},
		DType:   models.Uint8,
		Samples: []float64{0, 255, 3, 0},
	}
	out, res := Align(raw, models.Shape{2, 2})
	if res.Method != Exact {
		t.Errorf("Expected exact match, got %q", res.Method)
	}
	expected := []uint8{0, 1, 1, 0}
	for i, v := range expected {
		if out.Data[i] != v {
			t.Errorf("Index %d: expected %d, got %d", i, v, out.Data[i])
		}
	}
}

func TestExactMatchNonUint8Mask(t *testing.T) {
	// A uint16 0/1 label image is stretched to 0/255 and then binarized.
	raw := &models.RawArray{
		Shape:   models.Shape{1, 3},
		DType:   models.Uint16,
		Samples: []float64{0, 1, 1},
	}
	out, _ := Align(raw, models.Shape{1, 3})
	if out.Data[0] != 0 || out.Data[1] != 1 || out.Data[2] != 1 {
		t.Errorf("Unexpected mask %v", out.Data)
	}
}

func TestPermutationCorrectness(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	target := models.Shape{3, 5, 7}

	for _, perm := range Candidates {
		// Build a mask whose shape is target stored in another axis order:
		// mask.Permute(perm) == target.
		inverse := make([]int, 3)
		for i, p := range perm {
			inverse[p] = i
		}
		maskShape := target.Permute(inverse)
		raw := randomMask(rng, maskShape)

		out, res := Align(raw, target)
		if !out.Shape.Equal(target) {
			t.Fatalf("perm %v: expected shape %v, got %v", perm, target, out.Shape)
		}
		if res.Method == Resampled {
			t.Fatalf("perm %v: permutation should be found, fallback ran", perm)
		}

		// The result must equal transpose(mask, p) thresholded, where p is the
		// permutation Align reports.
		m := canonical.ToUint8(raw)
		p := res.Perm
		if res.Method == Exact {
			p = []int{0, 1, 2}
		}
		want, err := m.Transpose(p)
		if err != nil {
			t.Fatalf("Transpose failed: %v", err)
		}
		want.Binarize()
		for i := range want.Data {
			if out.Data[i] != want.Data[i] {
				t.Fatalf("perm %v: mismatch at %d", perm, i)
			}
		}
	}
}

func TestPermutationPriority(t *testing.T) {
	// (4, 4, 9) -> (4, 9, 4): only candidates (0,2,1) and (1,2,0) fit; (1,2,0)
	// comes first in the list.
	raw := randomMask(rand.New(rand.NewSource(1)), models.Shape{4, 4, 9})
	_, res := Align(raw, models.Shape{4, 9, 4})
	if res.Method != Permuted {
		t.Fatalf("Expected permuted, got %q", res.Method)
	}
	if len(res.Perm) != 3 || res.Perm[0] != 1 || res.Perm[1] != 2 || res.Perm[2] != 0 {
		t.Errorf("Expected first matching candidate [1 2 0], got %v", res.Perm)
	}

	// All-equal extents match the identity before anything else.
	if perm := FindPermutation(models.Shape{5, 5, 5}, models.Shape{5, 5, 5}); perm[0] != 0 || perm[1] != 1 {
		t.Errorf("Expected identity for cubic shape, got %v", perm)
	}
}

func TestSwapFirstTwo(t *testing.T) {
	perm := FindPermutation(models.Shape{100, 10, 80}, models.Shape{10, 100, 80})
	if len(perm) != 3 || perm[0] != 1 || perm[1] != 0 || perm[2] != 2 {
		t.Errorf("Expected [1 0 2], got %v", perm)
	}
}

func TestFallbackShapeGuarantee(t *testing.T) {
	raw := randomMask(rand.New(rand.NewSource(3)), models.Shape{5, 50, 60})
	target := models.Shape{10, 100, 100}

	out, res := Align(raw, target)
	if !out.Shape.Equal(target) {
		t.Fatalf("Expected shape %v, got %v", target, out.Shape)
	}
	if res.Method != Resampled || !res.Lossy {
		t.Errorf("Expected lossy resampling, got %+v", res)
	}
	if !errors.Is(res.Cause, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch cause, got %v", res.Cause)
	}
	if !out.IsBinary() {
		t.Errorf("Fallback result must be binary")
	}
}

func TestFallbackReplicatesFirstSlice(t *testing.T) {
	mask := models.NewArray(models.Shape{2, 2, 2})
	mask.SetPlane(0, []uint8{1, 0, 0, 1})
	mask.SetPlane(1, []uint8{1, 1, 1, 1})

	out, _ := Align(canonical.FromArray(mask), models.Shape{3, 4, 4})
	expected := []uint8{
		1, 1, 0, 0,
		1, 1, 0, 0,
		0, 0, 1, 1,
		0, 0, 1, 1,
	}
	for z := 0; z < 3; z++ {
		plane := out.Plane(z)
		for i, v := range expected {
			if plane[i] != v {
				t.Fatalf("Slice %d index %d: expected %d, got %d", z, i, v, plane[i])
			}
		}
	}
}

func TestFallback2DMaskTo3D(t *testing.T) {
	mask := models.NewArray(models.Shape{2, 2})
	mask.Data[3] = 255
	out, res := Align(canonical.FromArray(mask), models.Shape{4, 6, 6})
	if !out.Shape.Equal(models.Shape{4, 6, 6}) {
		t.Fatalf("Unexpected shape %v", out.Shape)
	}
	if res.Method != Resampled {
		t.Errorf("Expected resampling, got %q", res.Method)
	}
	for z := 0; z < 4; z++ {
		if out.Plane(z)[35] != 1 || out.Plane(z)[0] != 0 {
			t.Errorf("Slice %d not replicated from the 2D mask", z)
		}
	}
}

func TestFallback3DMaskTo2D(t *testing.T) {
	mask := models.NewArray(models.Shape{3, 4, 4})
	for i := range mask.Plane(0) {
		mask.Plane(0)[i] = 1
	}
	out, _ := Align(canonical.FromArray(mask), models.Shape{8, 8})
	if !out.Shape.Equal(models.Shape{8, 8}) {
		t.Fatalf("Unexpected shape %v", out.Shape)
	}
	if out.CountNonzero() != 64 {
		t.Errorf("Expected the first slice to fill the 2D target, got %d", out.CountNonzero())
	}
}

func TestTranspose2DMask(t *testing.T) {
	mask := models.NewArray(models.Shape{2, 3})
	mask.Data[2] = 1 // (0, 2)
	out, res := Align(canonical.FromArray(mask), models.Shape{3, 2})
	if res.Method != Permuted {
		t.Fatalf("Expected 2D transpose, got %q", res.Method)
	}
	if out.Data[4] != 1 { // (2, 0)
		t.Errorf("Expected foreground at (2, 0), got %v", out.Data)
	}
}

func TestAlignmentPostcondition(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	shapes := []models.Shape{
		{1, 1, 1}, {3, 8, 8}, {8, 3, 8}, {2, 9, 5}, {7, 7}, {12, 4}, {0, 4, 4},
	}
	for _, target := range shapes {
		if _, res := Align(nil, target); !res.To.Equal(target) {
			t.Errorf("nil mask: result target %v != %v", res.To, target)
		}
		for _, maskShape := range shapes {
			raw := randomMask(rng, maskShape)
			out, _ := Align(raw, target)
			if !out.Shape.Equal(target) {
				t.Errorf("mask %v -> target %v: got %v", maskShape, target, out.Shape)
			}
			if len(out.Data) != target.Size() {
				t.Errorf("mask %v -> target %v: data length %d", maskShape, target, len(out.Data))
			}
			if !out.IsBinary() {
				t.Errorf("mask %v -> target %v: result not binary", maskShape, target)
			}
		}
	}
}

func TestSingletonStackReshape(t *testing.T) {
	mask := models.NewArray(models.Shape{3, 4})
	mask.Data[5] = 1
	out, res := Align(canonical.FromArray(mask), models.Shape{1, 3, 4})
	if res.Method != Reshaped {
		t.Fatalf("Expected %q, got %q", Reshaped, res.Method)
	}
	if res.Lossy {
		t.Errorf("Reshape should not be lossy")
	}
	if !out.Shape.Equal(models.Shape{1, 3, 4}) || out.Data[5] != 1 || out.CountNonzero() != 1 {
		t.Errorf("Unexpected reshape result %v %v", out.Shape, out.Data)
	}

	back, res := Align(canonical.FromArray(out), models.Shape{3, 4})
	if res.Method != Reshaped || !back.Shape.Equal(models.Shape{3, 4}) {
		t.Errorf("Expected (3, 4) reshape, got %q %v", res.Method, back.Shape)
	}
}
