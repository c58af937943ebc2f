package resource

import "testing"

func TestClassifyRansomwareHeuristic(t *testing.T) {
	score, reasons := classify(60*1024*1024, 50)
	if score != 5 {
		t.Fatalf("expected score 5, got %d", score)
	}
	if len(reasons) != 1 || reasons[0] != "RANSOMWARE" {
		t.Fatalf("expected RANSOMWARE reason, got %v", reasons)
	}
}

func TestClassifyElevatedHeuristic(t *testing.T) {
	score, reasons := classify(25*1024*1024, 35)
	if score != 2 {
		t.Fatalf("expected score 2, got %d", score)
	}
	if len(reasons) != 1 || reasons[0] != "Elevated Write+CPU" {
		t.Fatalf("expected Elevated Write+CPU reason, got %v", reasons)
	}
}

func TestClassifyBelowThresholdsIsZero(t *testing.T) {
	score, reasons := classify(1024, 5)
	if score != 0 || reasons != nil {
		t.Fatalf("expected zero score/no reasons, got %d %v", score, reasons)
	}
}

func TestClassifyHighWriteLowCPUIsNotRansomware(t *testing.T) {
	score, _ := classify(100*1024*1024, 5)
	if score != 0 {
		t.Fatalf("expected 0 when only write is high, got %d", score)
	}
}

func TestForgetRemovesTrackingState(t *testing.T) {
	s := New(-1)
	s.lastIO[123] = ioSample{bytes: 100}
	s.Forget(123)
	if _, ok := s.lastIO[123]; ok {
		t.Fatal("expected pid to be forgotten")
	}
}
