package backoff

import (
	"testing"
	"time"
)

// withinJitter は期待値の±20%以内に収まっているかを検証する。
func withinJitter(t *testing.T, got, want time.Duration) {
	t.Helper()
	lo := time.Duration(float64(want) * (1 - jitterFactor))
	hi := time.Duration(float64(want) * (1 + jitterFactor))
	if got < lo || got > hi {
		t.Errorf("delay = %v, want within [%v, %v]", got, lo, hi)
	}
}

func TestCalculate_FirstAttemptUsesBase(t *testing.T) {
	got := Calculate(0, 1*time.Second, 60*time.Second)
	withinJitter(t, got, 1*time.Second)
}

func TestCalculate_DoublesPerAttempt(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}

	for _, tt := range tests {
		got := Calculate(tt.attempt, 1*time.Second, 60*time.Second)
		withinJitter(t, got, tt.want)
	}
}

func TestCalculate_CappedAtLimit(t *testing.T) {
	// 2^10秒 = 1024秒 >> 60秒なので上限に張り付く
	got := Calculate(10, 1*time.Second, 60*time.Second)
	withinJitter(t, got, 60*time.Second)
}

func TestCalculate_ZeroBaseFallsBackToDefault(t *testing.T) {
	got := Calculate(0, 0, 60*time.Second)
	withinJitter(t, got, DefaultBase)
}

func TestCalculate_LimitBelowBaseFallsBackToDefaultCap(t *testing.T) {
	got := Calculate(20, 1*time.Second, 500*time.Millisecond)
	withinJitter(t, got, DefaultCap)
}

func TestCalculate_JitterVaries(t *testing.T) {
	// ジッターにより常に同一値にはならないはず（同値が続く確率は無視できる）
	first := Calculate(3, 1*time.Second, 60*time.Second)
	varied := false
	for i := 0; i < 20; i++ {
		if Calculate(3, 1*time.Second, 60*time.Second) != first {
			varied = true
			break
		}
	}
	if !varied {
		t.Error("expected jitter to vary the delay across calls")
	}
}
