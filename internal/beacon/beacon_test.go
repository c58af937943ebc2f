package beacon

import (
	"testing"
	"time"
)

func TestObserveRegularCadenceTriggersBeaconing(t *testing.T) {
	tr := New()
	base := time.Now()

	var beaconing bool
	for i := 0; i < 6; i++ {
		beaconing, _ = tr.Observe(100, "1.2.3.4:443", base.Add(time.Duration(i)*10*time.Second))
	}
	if !beaconing {
		t.Fatal("expected regular 10s cadence to be flagged as beaconing")
	}
}

func TestObserveIrregularCadenceDoesNotTrigger(t *testing.T) {
	tr := New()
	base := time.Now()
	gaps := []time.Duration{0, 3 * time.Second, 25 * time.Second, 4 * time.Second, 40 * time.Second}

	var beaconing bool
	t_ := base
	for _, g := range gaps {
		t_ = t_.Add(g)
		beaconing, _ = tr.Observe(200, "5.6.7.8:443", t_)
	}
	if beaconing {
		t.Fatal("expected irregular cadence to not be flagged as beaconing")
	}
}

func TestObserveBelowMinHitsDoesNotTrigger(t *testing.T) {
	tr := New()
	base := time.Now()
	var beaconing bool
	for i := 0; i < 3; i++ {
		beaconing, _ = tr.Observe(300, "9.9.9.9:443", base.Add(time.Duration(i)*10*time.Second))
	}
	if beaconing {
		t.Fatal("expected fewer than minHitsInWindow hits to not trigger")
	}
}

func TestCountUniqueDestinations(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.Observe(400, "1.1.1.1:443", now)
	_, n := tr.Observe(400, "2.2.2.2:443", now)
	if n != 2 {
		t.Fatalf("expected 2 unique destinations, got %d", n)
	}
}

func TestPruneRemovesStaleKeys(t *testing.T) {
	tr := New()
	old := time.Now().Add(-2 * window)
	tr.Observe(500, "3.3.3.3:443", old)
	tr.Prune(time.Now())

	if _, ok := tr.history[key{pid: 500, dest: "3.3.3.3:443"}]; ok {
		t.Fatal("expected stale key to be pruned")
	}
}

func TestStdDevEmpty(t *testing.T) {
	if v := stdDev(nil); v <= 0 {
		t.Fatalf("expected +Inf-like large value for empty input, got %v", v)
	}
}
