package alerts

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/serome111/portwatch/internal/model"
	"github.com/serome111/portwatch/internal/rules"
)

type fakeNotifier struct {
	calls int
}

func (f *fakeNotifier) Notify(title, message string) error {
	f.calls++
	return nil
}

func newTestEngine(t *testing.T, settings model.Settings, notifier Notifier) (*Engine, *rules.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := rules.Open(filepath.Join(dir, "rules.db"))
	if err != nil {
		t.Fatalf("rules.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, settings, notifier, zerolog.Nop()), store
}

func TestProcessDisabledEngineAlwaysAllows(t *testing.T) {
	settings := model.DefaultSettings()
	settings.Enabled = false
	e, _ := newTestEngine(t, settings, nil)

	dec, err := e.Process(model.ConnectionRow{ProcessName: "curl", Level: model.LevelHigh})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if dec.Action != model.ActionAllow {
		t.Fatalf("expected allow when engine disabled, got %v", dec.Action)
	}
}

func TestProcessBelowThresholdAllows(t *testing.T) {
	settings := model.DefaultSettings()
	settings.Enabled = true
	settings.AlertLevel = model.ThresholdHigh
	e, _ := newTestEngine(t, settings, nil)

	dec, err := e.Process(model.ConnectionRow{ProcessName: "curl", Level: model.LevelLow})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if dec.Action != model.ActionAllow {
		t.Fatalf("expected allow below threshold, got %v", dec.Action)
	}
}

func TestProcessHighRiskAsksAndCreatesPendingAlert(t *testing.T) {
	settings := model.DefaultSettings()
	settings.Enabled = true
	settings.AlertLevel = model.ThresholdHigh
	n := &fakeNotifier{}
	e, _ := newTestEngine(t, settings, n)

	row := model.ConnectionRow{ProcessName: "sketchy", Remote: model.Endpoint{Addr: "1.2.3.4", Port: 4444}, Level: model.LevelHigh}
	dec, err := e.Process(row)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if dec.Action != model.ActionAsk {
		t.Fatalf("expected ask, got %v", dec.Action)
	}
	if dec.Alert == nil {
		t.Fatal("expected a pending alert to be attached")
	}
	if n.calls != 1 {
		t.Fatalf("expected 1 notification dispatched, got %d", n.calls)
	}
}

func TestProcessIgnoredAppAllows(t *testing.T) {
	settings := model.DefaultSettings()
	settings.Enabled = true
	settings.AlertLevel = model.ThresholdHigh
	settings.IgnoredApps = []string{"trusted"}
	e, _ := newTestEngine(t, settings, nil)

	dec, err := e.Process(model.ConnectionRow{ProcessName: "trusted", Level: model.LevelHigh})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if dec.Action != model.ActionAllow {
		t.Fatalf("expected allow for ignored app, got %v", dec.Action)
	}
}

func TestProcessAutoAllowsSignedApple(t *testing.T) {
	settings := model.DefaultSettings()
	settings.Enabled = true
	settings.AutoAllowSignedApple = true
	settings.AlertLevel = model.ThresholdHigh
	e, _ := newTestEngine(t, settings, nil)

	row := model.ConnectionRow{
		ProcessName: "Safari",
		Signing:     model.SigningVerdict{Signed: true, Apple: true},
		Level:       model.LevelHigh,
	}
	dec, err := e.Process(row)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if dec.Action != model.ActionAllow {
		t.Fatalf("expected auto-allow for signed apple binary, got %v", dec.Action)
	}
}

func TestDecideAlwaysScopeCreatesRule(t *testing.T) {
	settings := model.DefaultSettings()
	settings.Enabled = true
	settings.AlertLevel = model.ThresholdHigh
	e, store := newTestEngine(t, settings, nil)

	row := model.ConnectionRow{ProcessName: "app", Remote: model.Endpoint{Addr: "5.5.5.5", Port: 443}, Level: model.LevelHigh}
	dec, err := e.Process(row)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if err := e.Decide(dec.Alert.ID, model.ActionAllow, model.ScopeAlways, "trusted by operator"); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 rule created from decision, got %d", len(list))
	}
}

func TestSecondProcessAfterResolvedAlertUsesDecision(t *testing.T) {
	settings := model.DefaultSettings()
	settings.Enabled = true
	settings.AlertLevel = model.ThresholdHigh
	e, _ := newTestEngine(t, settings, nil)

	row := model.ConnectionRow{ProcessName: "app", Remote: model.Endpoint{Addr: "6.6.6.6", Port: 80}, Level: model.LevelHigh}
	dec, _ := e.Process(row)
	_ = e.Decide(dec.Alert.ID, model.ActionDeny, model.ScopeOnce, "")

	second, err := e.Process(row)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if second.Action != model.ActionDeny {
		t.Fatalf("expected resolved decision to be reused, got %v", second.Action)
	}
}

func TestUpdateSettingsClearsStateOnLevelChange(t *testing.T) {
	settings := model.DefaultSettings()
	settings.Enabled = true
	settings.AlertLevel = model.ThresholdHigh
	e, _ := newTestEngine(t, settings, nil)

	row := model.ConnectionRow{ProcessName: "app", Remote: model.Endpoint{Addr: "7.7.7.7", Port: 80}, Level: model.LevelHigh}
	e.Process(row)
	if len(e.PendingAlerts()) != 1 {
		t.Fatal("expected one pending alert before settings change")
	}

	newSettings := settings
	newSettings.AlertLevel = model.ThresholdMedium
	e.UpdateSettings(newSettings)

	if len(e.PendingAlerts()) != 0 {
		t.Fatal("expected pending alerts cleared after alert-level change")
	}
}

func TestCleanupOldRemovesStaleResolvedAlerts(t *testing.T) {
	settings := model.DefaultSettings()
	settings.Enabled = true
	settings.AlertLevel = model.ThresholdHigh
	e, _ := newTestEngine(t, settings, nil)

	row := model.ConnectionRow{ProcessName: "app", Remote: model.Endpoint{Addr: "8.8.8.8", Port: 80}, Level: model.LevelHigh}
	dec, _ := e.Process(row)
	_ = e.Decide(dec.Alert.ID, model.ActionAllow, model.ScopeOnce, "")

	e.mu.Lock()
	old := time.Now().Add(-48 * time.Hour)
	e.pending[dec.Alert.ID].ResolvedAt = &old
	e.mu.Unlock()

	e.CleanupOld(24 * time.Hour)

	e.mu.Lock()
	_, exists := e.pending[dec.Alert.ID]
	e.mu.Unlock()
	if exists {
		t.Fatal("expected stale resolved alert to be reaped")
	}
}
