package pipeline

import "testing"

func TestPlanDimensions(t *testing.T) {
	tests := []struct {
		w, h         int
		wantW, wantH int
	}{
		{w: 1920, h: 1795, wantW: 1920, wantH: 1795},
		{w: 1087, h: 1700, wantW: 1087, wantH: 1700},
		{w: 1000, h: 1000, wantW: 1000, wantH: 1000},
		{w: 2048, h: 1024, wantW: 2048, wantH: 1024},
		{w: 3000, h: 3000, wantW: 2048, wantH: 2048},
		{w: 3033, h: 3129, wantW: 1985, wantH: 2048},
		{w: 7360, h: 4912, wantW: 2048, wantH: 1366},
		{w: 4000, h: 1, wantW: 2048, wantH: 0},
	}

	for _, tc := range tests {
		gotW, gotH := PlanDimensions(tc.w, tc.h, 2048)
		if int(gotW) != tc.wantW || int(gotH) != tc.wantH {
			t.Fatalf("PlanDimensions(%d, %d) = %dx%d, want %dx%d", tc.w, tc.h, int(gotW), int(gotH), tc.wantW, tc.wantH)
		}
	}
}

func TestPlanDimensionsNeverUpscales(t *testing.T) {
	for _, dims := range [][2]int{{1, 1}, {640, 480}, {2047, 2048}} {
		w, h := PlanDimensions(dims[0], dims[1], 2048)
		if w > float64(dims[0]) || h > float64(dims[1]) {
			t.Fatalf("PlanDimensions(%d, %d) upscaled to %.2fx%.2f", dims[0], dims[1], w, h)
		}
	}
}

func TestPlanDimensionsIsRealValued(t *testing.T) {
	_, h := PlanDimensions(3000, 2000, 1000)
	if h <= 666 || h >= 667 {
		t.Fatalf("expected fractional height near 666.67, got %f", h)
	}
}
