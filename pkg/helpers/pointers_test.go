package helpers

import "testing"

func TestPtrOf(t *testing.T) {
	p := PtrOf(3)
	if *p != 3 {
		t.Errorf("*PtrOf(3) = %d, want 3", *p)
	}
	*p = 4
	if q := PtrOf(3); *q != 3 {
		t.Error("PtrOf should return a fresh pointer")
	}
}

func TestValueOr(t *testing.T) {
	if got := ValueOr[int](nil, 9); got != 9 {
		t.Errorf("ValueOr(nil) = %d, want 9", got)
	}
	if got := ValueOr(PtrOf(0.5), 0.9); got != 0.5 {
		t.Errorf("ValueOr(0.5) = %v, want 0.5", got)
	}
}
