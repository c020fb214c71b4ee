package sequence

import "testing"

func TestGreaterBasic(t *testing.T) {
	cases := []struct {
		a, b uint16
		want bool
	}{
		{1, 0, true},
		{0, 1, false},
		{100, 50, true},
		{50, 100, false},
	}
	for _, c := range cases {
		if got := Greater(c.a, c.b); got != c.want {
			t.Errorf("Greater(%d,%d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestGreaterWraparound(t *testing.T) {
	if !Greater(0, 65535) {
		t.Error("0 should be newer than 65535")
	}
	if Greater(65535, 0) {
		t.Error("65535 should not be newer than 0")
	}
	if !Greater(1, 65534) {
		t.Error("1 should be newer than 65534")
	}
}

func TestGreaterAntisymmetric(t *testing.T) {
	for a := uint16(0); a < 2000; a += 7 {
		for b := uint16(0); b < 2000; b += 11 {
			if Diff(a, b) == 0 || int32(a)-int32(b) > HalfRange || int32(b)-int32(a) > HalfRange {
				continue
			}
			if Greater(a, b) == Greater(b, a) && a != b {
				t.Fatalf("antisymmetry violated for a=%d b=%d", a, b)
			}
		}
	}
}

func TestDiffBasic(t *testing.T) {
	if got := Diff(5, 3); got != 2 {
		t.Errorf("Diff(5,3) = %d, want 2", got)
	}
	if got := Diff(3, 5); got != -2 {
		t.Errorf("Diff(3,5) = %d, want -2", got)
	}
	if got := Diff(100, 100); got != 0 {
		t.Errorf("Diff(100,100) = %d, want 0", got)
	}
}

func TestDiffWraparound(t *testing.T) {
	if got := Diff(0, 65535); got != 1 {
		t.Errorf("Diff(0,65535) = %d, want 1", got)
	}
	if got := Diff(65535, 0); got != -1 {
		t.Errorf("Diff(65535,0) = %d, want -1", got)
	}
}

func TestInWindow(t *testing.T) {
	if !InWindow(5, 0, 64) {
		t.Error("5 should be within [0,64)")
	}
	if InWindow(64, 0, 64) {
		t.Error("64 should not be within [0,64)")
	}
	if InWindow(65535, 0, 64) {
		t.Error("65535 (i.e. -1) should not be within [0,64)")
	}
}
