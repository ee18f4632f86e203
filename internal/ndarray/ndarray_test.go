package ndarray

import "testing"

func TestArray3RowMajorLayout(t *testing.T) {
	a := NewArray3(2, 3, 4)
	a.Set(1, 2, 3, 7)
	if a.Index(1, 2, 3) != len(a.Data)-1 || a.At(1, 2, 3) != 7 {
		t.Fatalf("unexpected layout: index=%d", a.Index(1, 2, 3))
	}
	clone := a.Clone()
	clone.Set(0, 0, 0, 1)
	if a.At(0, 0, 0) != 0 {
		t.Fatal("clone shares data")
	}
	if err := (&Array3{Shape: [3]int{2, 2, 2}, Data: make([]float64, 3)}).Validate(); err == nil {
		t.Fatal("expected length mismatch")
	}
}

func TestReshape3InfersLeadingDim(t *testing.T) {
	flat := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	a, err := Reshape3(flat, -1, 2, 3)
	if err != nil {
		t.Fatalf("reshape: %v", err)
	}
	if a.Shape != [3]int{2, 2, 3} || a.At(1, 0, 2) != 8 {
		t.Fatalf("unexpected reshape: %v %v", a.Shape, a.At(1, 0, 2))
	}
	flat[0] = 99
	if a.Data[0] != 0 {
		t.Fatal("reshape should copy")
	}
	if _, err := Reshape3(flat, -1, 5, 1); err == nil {
		t.Fatal("expected indivisible reshape error")
	}
	if _, err := Reshape3(flat, 3, 2, 3); err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestArray4TakeCopiesSamples(t *testing.T) {
	a := NewArray4(3, 1, 2, 2)
	for i := 0; i < 3; i++ {
		a.Set(i, 0, 1, 1, float64(i+1))
	}
	b := a.Take([]int{2, 0})
	if b.Shape != [4]int{2, 1, 2, 2} || b.At(0, 0, 1, 1) != 3 || b.At(1, 0, 1, 1) != 1 {
		t.Fatalf("unexpected take: %v %v", b.Shape, b.Data)
	}
	b.Set(0, 0, 1, 1, 0)
	if a.At(2, 0, 1, 1) != 3 {
		t.Fatal("take shares data")
	}
	if len(a.Sample(1)) != a.SampleSize() || a.Len() != 12 {
		t.Fatalf("unexpected sample size %d", a.SampleSize())
	}
}
