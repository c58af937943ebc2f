package dnsanalyze

import "testing"

func TestAnalyzeWhitelistedIsSafe(t *testing.T) {
	cfg := DefaultConfig()
	risk := Analyze(cfg, "www.apple.com")
	if risk.Risk != "safe" || risk.Score != 0 {
		t.Fatalf("expected whitelisted safe/0, got %+v", risk)
	}
	if len(risk.Reasons) != 1 || risk.Reasons[0] != "Whitelisted" {
		t.Fatalf("expected Whitelisted reason, got %v", risk.Reasons)
	}
}

func TestAnalyzeHighEntropySubdomain(t *testing.T) {
	cfg := DefaultConfig()
	// Entropy is computed over the label before the first dot only; 32
	// distinct characters gives that label max (uniform) entropy log2(32)=5.0.
	risk := Analyze(cfg, "abcdefghijklmnopqrstuvwxy0123456.example-c2.net")
	if risk.Score < 50 {
		t.Fatalf("expected high-entropy label to score >=50, got %d (%v)", risk.Score, risk.Reasons)
	}
}

func TestAnalyzeEntropyIgnoresLabelsPastFirstDot(t *testing.T) {
	cfg := DefaultConfig()
	// The low-entropy first label ("a") must dominate, not the
	// high-entropy text stuffed into a later label.
	risk := Analyze(cfg, "a.abcdefghijklmnopqrstuvwxy0123456.com")
	if risk.Entropy > 1.0 {
		t.Fatalf("expected low entropy from first label only, got %v", risk.Entropy)
	}
}

func TestAnalyzeRiskyTLD(t *testing.T) {
	cfg := DefaultConfig()
	risk := Analyze(cfg, "something.tk")
	found := false
	for _, r := range risk.Reasons {
		if r == "Risky TLD" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Risky TLD reason, got %v", risk.Reasons)
	}
}

func TestAnalyzeRiskyKeyword(t *testing.T) {
	cfg := DefaultConfig()
	risk := Analyze(cfg, "secure-login-update.example.com")
	found := false
	for _, r := range risk.Reasons {
		if r == "Suspicious Keyword" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Suspicious Keyword reason, got %v", risk.Reasons)
	}
}

func TestAnalyzeIPInName(t *testing.T) {
	cfg := DefaultConfig()
	risk := Analyze(cfg, "192-168-1-1.suspicious-host.com")
	found := false
	for _, r := range risk.Reasons {
		if r == "IP Address in Name" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected IP Address in Name reason, got %v", risk.Reasons)
	}
}

func TestAnalyzeExcessiveLength(t *testing.T) {
	cfg := DefaultConfig()
	longName := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.com"
	risk := Analyze(cfg, longName)
	found := false
	for _, r := range risk.Reasons {
		if r == "Excessive Length" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Excessive Length reason for %d-char name, got %v", len(longName), risk.Reasons)
	}
}

func TestBandBoundaries(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{0, "safe"},
		{1, "low"},
		{29, "low"},
		{30, "suspicious"},
		{59, "suspicious"},
		{60, "critical"},
		{100, "critical"},
	}
	for _, c := range cases {
		if got := band(c.score); got != c.want {
			t.Errorf("band(%d) = %q, want %q", c.score, got, c.want)
		}
	}
}

func TestCalculateEntropyEmpty(t *testing.T) {
	if got := calculateEntropy(""); got != 0 {
		t.Fatalf("expected 0 entropy for empty string, got %v", got)
	}
}
