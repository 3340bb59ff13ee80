package rtps

import (
	"testing"
)

func TestHistoryDepthClamping(t *testing.T) {
	cases := []struct {
		history HistoryQoS
		want    int
	}{
		{HistoryQoS{Kind: KeepLast, Depth: 8}, 8},
		// over-capacity and zero depths clamp to HistoryCapacity, and
		// KeepAll degrades to KeepLast at full capacity
		{HistoryQoS{Kind: KeepLast, Depth: 64}, 32},
		{HistoryQoS{Kind: KeepLast, Depth: 0}, 32},
		{HistoryQoS{Kind: KeepAll, Depth: 4}, 32},
	}

	for i, c := range cases {
		cfg := DefaultConfig()
		cfg.History = c.history
		if got := cfg.HistoryDepth(); got != c.want {
			t.Errorf("[%d] HistoryDepth mismatch, got %d want %d", i, got, c.want)
		}
	}
}

func TestIsReliable(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.IsReliable() {
		t.Errorf("default config should be reliable")
	}
	cfg.Reliability.Kind = BestEffort
	if cfg.IsReliable() {
		t.Errorf("best-effort config should not report reliable")
	}
}
