// Package alerts is the Alert Engine (spec.md §4.10): it decides
// allow/deny/ask for each enriched connection by consulting the Rule
// Store first, tracks pending/resolved alert state per connection
// fingerprint, and gates notification dispatch with a cooldown.
// Reproduced from original_source/backend/core/alert_engine.py's
// AlertEngine class almost line-for-line for state semantics.
package alerts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/serome111/portwatch/internal/model"
	"github.com/serome111/portwatch/internal/rules"
)

// Engine is the Alert Engine.
type Engine struct {
	mu       sync.Mutex
	settings model.Settings
	pending  map[string]*model.PendingAlert // fingerprint -> alert
	store    *rules.Store
	notifier Notifier
	log      zerolog.Logger
}

// Notifier dispatches an OS-level notification for an ask-level alert.
// Implemented by notifier_darwin.go (osascript) and notifier_other.go
// (stub), the same "external tool via os/exec with a timeout" shape
// the teacher uses for its platform probes.
type Notifier interface {
	Notify(title, message string) error
}

// New constructs an Engine against store, using settings as the
// initial configuration.
func New(store *rules.Store, settings model.Settings, notifier Notifier, log zerolog.Logger) *Engine {
	return &Engine{
		settings: settings,
		pending:  make(map[string]*model.PendingAlert),
		store:    store,
		notifier: notifier,
		log:      log,
	}
}

// fingerprint is the stable alert-correlation key for a connection:
// the first 16 hex characters of sha256("process|host|port"). The
// original uses hashlib.md5 for the same purpose; sha256 is substituted
// here since there is no interoperability requirement with the Python
// original's stored alert IDs.
func fingerprint(processName, destination string, port int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", processName, destination, port)))
	return hex.EncodeToString(sum[:])[:16]
}

// Decision is the outcome of processing one connection.
type Decision struct {
	Action model.Action
	Alert  *model.PendingAlert // non-nil when an ask is pending/active
}

// Process evaluates row against the Rule Store and current settings,
// returning the decision and updating pending-alert state (spec.md
// §4.10 process_connection/decide_alert).
func (e *Engine) Process(row model.ConnectionRow) (Decision, error) {
	match, err := e.store.FindMatching(rules.Match{
		Process:     row.ProcessName,
		ExePath:     row.ExePath,
		ExeHash:     row.ExeHash,
		Destination: row.Remote.Addr,
		Port:        row.Remote.Port,
	})
	if err != nil {
		return Decision{}, err
	}
	if match != nil {
		return Decision{Action: match.Action}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.settings.Enabled {
		return Decision{Action: model.ActionAllow}, nil
	}
	for _, ignored := range e.settings.IgnoredApps {
		if ignored == row.ProcessName {
			return Decision{Action: model.ActionAllow}, nil
		}
	}
	if e.settings.AutoAllowSignedApple && row.Signing.Apple && row.Signing.Signed {
		return Decision{Action: model.ActionAllow}, nil
	}
	if !e.shouldAlertLocked(row.Level) {
		return Decision{Action: model.ActionAllow}, nil
	}

	fp := fingerprint(row.ProcessName, row.Remote.Addr, row.Remote.Port)
	pa, exists := e.pending[fp]
	if !exists {
		pa = &model.PendingAlert{
			ID:          fp,
			Fingerprint: fp,
			Connection:  row,
			CreatedAt:   time.Now(),
			Status:      "pending",
			Count:       0,
		}
		e.pending[fp] = pa
	}
	pa.Count++
	pa.Connection = row

	if pa.Status == "resolved" {
		return Decision{Action: valueOrAsk(pa.Decision), Alert: pa}, nil
	}

	if e.shouldNotifyLocked(pa, row.Level) {
		title := fmt.Sprintf("PortWatch: %s", row.ProcessName)
		msg := fmt.Sprintf("%s is contacting %s:%d", row.ProcessName, row.Remote.Addr, row.Remote.Port)
		if e.notifier != nil {
			if err := e.notifier.Notify(title, msg); err != nil {
				e.log.Warn().Err(err).Msg("alerts: notification dispatch failed")
			} else {
				pa.MarkNotified(time.Now())
			}
		}
	}

	return Decision{Action: model.ActionAsk, Alert: pa}, nil
}

func valueOrAsk(a *model.Action) model.Action {
	if a == nil {
		return model.ActionAsk
	}
	return *a
}

// shouldAlertLocked reports whether level meets the configured alert
// threshold. Must be called with e.mu held.
func (e *Engine) shouldAlertLocked(level model.Level) bool {
	switch e.settings.AlertLevel {
	case model.ThresholdAll:
		return true
	case model.ThresholdMedium:
		return level == model.LevelMedium || level == model.LevelHigh
	case model.ThresholdHigh:
		return level == model.LevelHigh
	default:
		return level == model.LevelHigh
	}
}

// shouldNotifyLocked decides whether to fire an OS notification for
// pa, gated by the cooldown and, for medium-level rows, by
// Settings.NotifyIntrusive (spec.md §9 open question). Must be called
// with e.mu held.
func (e *Engine) shouldNotifyLocked(pa *model.PendingAlert, level model.Level) bool {
	if level == model.LevelMedium && !e.settings.NotifyIntrusive {
		return false
	}
	cooldown := time.Duration(e.settings.NotificationCooldownSeconds) * time.Second
	return time.Since(pa.LastNotified()) >= cooldown
}

// Decide records an operator's decision for a pending alert, marking
// it resolved, and creates a persistent Rule for always/temporary
// scopes (spec.md §4.10 decide_alert).
func (e *Engine) Decide(alertID string, action model.Action, scope model.Scope, comment string) error {
	e.mu.Lock()
	pa, ok := e.pending[alertID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("alerts: unknown alert id %q", alertID)
	}
	now := time.Now()
	pa.Status = "resolved"
	pa.Decision = &action
	pa.ResolvedAt = &now
	row := pa.Connection
	e.mu.Unlock()

	if scope == model.ScopeAlways || scope == model.ScopeTemporary {
		r := model.Rule{
			Process:     row.ProcessName,
			ExePath:     row.ExePath,
			Destination: row.Remote.Addr,
			Port:        &row.Remote.Port,
			Protocol:    row.Protocol,
			Action:      action,
			Scope:       scope,
			UserComment: comment,
		}
		if scope == model.ScopeTemporary {
			expires := now.Add(24 * time.Hour)
			r.ExpiresAt = &expires
		}
		if _, err := e.store.Create(r); err != nil {
			return fmt.Errorf("alerts: creating rule for decision: %w", err)
		}
	}
	return nil
}

// GetForConnection returns the alert info attached to a row's
// fingerprint, if one exists.
func (e *Engine) GetForConnection(processName, destination string, port int) *model.PendingAlert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending[fingerprint(processName, destination, port)]
}

// PendingAlerts returns every alert still awaiting a decision.
func (e *Engine) PendingAlerts() []model.PendingAlert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []model.PendingAlert
	for _, pa := range e.pending {
		if pa.Status == "pending" {
			out = append(out, *pa)
		}
	}
	return out
}

// UpdateSettings atomically replaces the alert settings. Per the
// original, enabling the engine or changing the alert level clears
// in-memory pending state so stale decisions from a different policy
// don't linger.
func (e *Engine) UpdateSettings(s model.Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	levelChanged := s.AlertLevel != e.settings.AlertLevel
	enabledNowTrue := s.Enabled && !e.settings.Enabled
	e.settings = s
	if levelChanged || enabledNowTrue {
		e.pending = make(map[string]*model.PendingAlert)
	}
}

// Settings returns the current alert settings.
func (e *Engine) Settings() model.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// ClearCache drops all in-memory pending/resolved alert state without
// touching the durable Rule Store.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = make(map[string]*model.PendingAlert)
}

// CleanupOld reaps resolved alerts older than maxAge (spec.md §4.10
// cleanup_old_alerts; the orchestrator calls it hourly with a 24h
// maxAge).
func (e *Engine) CleanupOld(maxAge time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for fp, pa := range e.pending {
		if pa.Status == "resolved" && pa.ResolvedAt != nil && pa.ResolvedAt.Before(cutoff) {
			delete(e.pending, fp)
		}
	}
}
