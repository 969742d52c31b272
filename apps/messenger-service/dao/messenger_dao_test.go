package dao

import "testing"

func TestNormalizePair(t *testing.T) {
	cases := []struct {
		inA, inB     int64
		wantA, wantB int64
	}{
		{1, 2, 1, 2},
		{2, 1, 1, 2},
		{5, 5, 5, 5},
		{100, 3, 3, 100},
	}

	for _, c := range cases {
		a, b := normalizePair(c.inA, c.inB)
		if a != c.wantA || b != c.wantB {
			t.Fatalf("normalizePair(%d, %d) = (%d, %d), 期望 (%d, %d)",
				c.inA, c.inB, a, b, c.wantA, c.wantB)
		}
	}

	// 两个方向规范化到同一条会话记录
	a1, b1 := normalizePair(8, 9)
	a2, b2 := normalizePair(9, 8)
	if a1 != a2 || b1 != b2 {
		t.Fatalf("双向应规范化为同一对: (%d,%d) vs (%d,%d)", a1, b1, a2, b2)
	}
}
