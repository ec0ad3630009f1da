package signal

import "testing"

func TestScoreMomentum(t *testing.T) {
	testCases := []struct {
		name           string
		closes         []float64
		wantCandidate  bool
		wantConfidence float64
	}{
		{
			name:           "three rising closes",
			closes:         []float64{100, 99, 100, 101, 102},
			wantCandidate:  true,
			wantConfidence: 85,
		},
		{
			name:          "newest candle down",
			closes:        []float64{100, 101, 102, 101},
			wantCandidate: false,
		},
		{
			name:          "flat tape",
			closes:        []float64{100, 100, 100},
			wantCandidate: false,
		},
		{
			name:           "long streak caps at max confidence",
			closes:         []float64{100, 101, 102, 103, 104, 105},
			wantCandidate:  true,
			wantConfidence: 95,
		},
		{
			name:          "too few candles",
			closes:        []float64{100},
			wantCandidate: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			confidence, ok := ScoreMomentum(tc.closes)
			if ok != tc.wantCandidate {
				t.Fatalf("ScoreMomentum() candidate = %v, want %v", ok, tc.wantCandidate)
			}
			if ok && confidence != tc.wantConfidence {
				t.Errorf("confidence = %v, want %v", confidence, tc.wantConfidence)
			}
		})
	}
}
