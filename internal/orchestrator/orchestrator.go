// Package orchestrator is the composition root's tick driver (spec.md
// §4.12): each 2-second tick enumerates connections, enriches them via
// every subsystem, scores, consults the alert engine, enforces
// autonomous kills, and broadcasts a snapshot; a separate 3-second cadence
// runs the resource scanner's ransomware-heuristic sweep when paranoid
// mode is on. Grounded on the teacher's cmd/osiris-agent/main.go
// ticker-loop structure (runChecks -> per-result branch -> drain),
// generalized from a single check loop to the 5-step pipeline below.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/serome111/portwatch/internal/alerts"
	"github.com/serome111/portwatch/internal/beacon"
	"github.com/serome111/portwatch/internal/connections"
	"github.com/serome111/portwatch/internal/dnsanalyze"
	"github.com/serome111/portwatch/internal/dnssniff"
	"github.com/serome111/portwatch/internal/enforce"
	"github.com/serome111/portwatch/internal/ipaddr"
	"github.com/serome111/portwatch/internal/model"
	"github.com/serome111/portwatch/internal/procinfo"
	"github.com/serome111/portwatch/internal/reputation"
	"github.com/serome111/portwatch/internal/resource"
	"github.com/serome111/portwatch/internal/scorer"
)

const (
	tickInterval          = 2 * time.Second
	resourceSweepInterval = 3 * time.Second
	resolvedAlertMaxAge   = 24 * time.Hour
	maxKillHistory        = 50
)

// Orchestrator owns every subsystem and drives the tick/sweep loops.
type Orchestrator struct {
	enumerator *connections.Enumerator
	procs      *procinfo.Cache
	beacons    *beacon.Tracker
	sniffer    *dnssniff.Sniffer
	dnsAnalyze *dnsanalyze.Analyzer
	reputation *reputation.Cache
	resources  *resource.Scanner
	alertsEng  *alerts.Engine
	enforcer   *enforce.Enforcer

	log zerolog.Logger

	mu         sync.RWMutex
	paranoid   bool
	lastSnap   model.Snapshot
	killedLog  []model.KillRecord
}

// Deps bundles the constructed subsystems the orchestrator drives. All
// fields are required.
type Deps struct {
	Enumerator *connections.Enumerator
	Procs      *procinfo.Cache
	Beacons    *beacon.Tracker
	Sniffer    *dnssniff.Sniffer
	DNSAnalyze *dnsanalyze.Analyzer
	Reputation *reputation.Cache
	Resources  *resource.Scanner
	Alerts     *alerts.Engine
	Enforcer   *enforce.Enforcer
	Log        zerolog.Logger
}

// New constructs an Orchestrator from deps.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		enumerator: d.Enumerator,
		procs:      d.Procs,
		beacons:    d.Beacons,
		sniffer:    d.Sniffer,
		dnsAnalyze: d.DNSAnalyze,
		reputation: d.Reputation,
		resources:  d.Resources,
		alertsEng:  d.Alerts,
		enforcer:   d.Enforcer,
		log:        d.Log,
	}
}

// SetParanoid toggles paranoid mode, which enables group kills of
// medium/high-level rows in each tick and the 3-second resource sweep.
func (o *Orchestrator) SetParanoid(on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paranoid = on
}

// Paranoid reports the current paranoid-mode flag.
func (o *Orchestrator) Paranoid() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.paranoid
}

// Snapshot returns the most recently published broadcast payload.
func (o *Orchestrator) Snapshot() model.Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastSnap
}

// KillHistory returns the bounded kill-history ring (SPEC_FULL.md §4
// supplemented GET /kills endpoint).
func (o *Orchestrator) KillHistory() []model.KillRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]model.KillRecord, len(o.killedLog))
	copy(out, o.killedLog)
	return out
}

// ClearKillHistory empties the kill-history ring.
func (o *Orchestrator) ClearKillHistory() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.killedLog = nil
}

// Run blocks driving the tick and resource-sweep loops until ctx is
// canceled.
func (o *Orchestrator) Run(ctx context.Context) {
	tickTicker := time.NewTicker(tickInterval)
	defer tickTicker.Stop()
	sweepTicker := time.NewTicker(resourceSweepInterval)
	defer sweepTicker.Stop()
	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	o.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			o.log.Info().Msg("orchestrator: shutting down")
			return
		case <-tickTicker.C:
			o.tick(ctx)
		case <-sweepTicker.C:
			if o.Paranoid() {
				o.resourceSweep()
			}
		case <-cleanupTicker.C:
			o.alertsEng.CleanupOld(resolvedAlertMaxAge)
		}
	}
}

// Tick runs a single pipeline pass immediately, outside the ticker
// loop. Used by portwatchd's -dry-run mode.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.tick(ctx)
}

// tick runs one pass of spec.md §4.12's 5-step pipeline: enumerate,
// enrich, score, alert, enforce, then broadcast.
func (o *Orchestrator) tick(ctx context.Context) {
	start := time.Now()

	raw, err := o.enumerator.Enumerate(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("orchestrator: enumeration failed this tick")
		return
	}

	rows := make([]model.ConnectionRow, 0, len(raw))
	for _, r := range raw {
		row := o.enrich(ctx, r)
		score, level, reasons := scorer.Score(row)
		row.Score = score
		row.Level = level
		row.Reasons = reasons
		rows = append(rows, row)
	}

	var killed []model.KillRecord
	for i := range rows {
		row := &rows[i]
		dec, err := o.alertsEng.Process(*row)
		if err != nil {
			o.log.Warn().Err(err).Str("process", row.ProcessName).Msg("orchestrator: alert processing failed")
			continue
		}
		if dec.Alert != nil {
			row.Alert = &model.AlertInfo{
				ID:        dec.Alert.ID,
				Status:    dec.Alert.Status,
				Decision:  dec.Alert.Decision,
				CreatedAt: dec.Alert.CreatedAt.Unix(),
			}
		}
		if dec.Action == model.ActionDeny {
			res := o.enforcer.Kill(row.PID)
			if res.Reason == enforce.ReasonOK {
				row.RowStatus = "KILLED"
				score := row.Score
				killed = append(killed, model.KillRecord{
					Timestamp:   time.Now(),
					PID:         row.PID,
					ProcessName: row.ProcessName,
					Reason:      "denied by alert engine",
					Type:        "network",
					Level:       row.Level,
					Score:       &score,
					Destination: row.Remote.Addr,
					Port:        row.Remote.Port,
				})
			}
		} else if o.Paranoid() && (row.Level == model.LevelMedium || row.Level == model.LevelHigh) {
			res := o.enforcer.KillGroup(row.PID)
			if res.Reason == enforce.ReasonOK {
				row.RowStatus = "KILLED"
				score := row.Score
				killed = append(killed, model.KillRecord{
					Timestamp: time.Now(), PID: row.PID, ProcessName: row.ProcessName,
					Reason: "paranoid mode", Type: "network", Level: row.Level, Score: &score,
					Destination: row.Remote.Addr, Port: row.Remote.Port,
				})
			}
		}
	}

	scorer.Sort(rows)

	o.mu.Lock()
	o.killedLog = append(o.killedLog, killed...)
	if len(o.killedLog) > maxKillHistory {
		o.killedLog = o.killedLog[len(o.killedLog)-maxKillHistory:]
	}
	o.lastSnap = model.Snapshot{
		Timestamp:     float64(time.Now().UnixNano()) / 1e9,
		Rows:          rows,
		PendingAlerts: o.alertsEng.PendingAlerts(),
		KilledProcesses: append([]model.KillRecord(nil), o.killedLog...),
	}
	o.mu.Unlock()

	o.beacons.Prune(time.Now())

	o.log.Debug().
		Int("rows", len(rows)).
		Int("killed", len(killed)).
		Dur("elapsed", time.Since(start)).
		Msg("orchestrator: tick complete")
}

func (o *Orchestrator) enrich(ctx context.Context, r connections.Raw) model.ConnectionRow {
	row := model.ConnectionRow{
		Local:    r.Local,
		Remote:   r.Remote,
		Protocol: r.Protocol,
		Status:   r.Status,
		PID:      r.PID,
	}

	info, err := o.procs.Lookup(r.PID)
	if err == nil {
		row.ProcessName = info.ProcessName
		row.User = info.User
		row.ExePath = info.ExePath
		row.ParentName = info.ParentName
		row.SuspParent = isSuspiciousParent(info.ParentName)
	}
	row.Signing = o.procs.SignInfo(ctx, row.ExePath)
	row.ExeHash, row.ExeRecent = o.procs.ExeFile(row.ExePath)

	if res, ok := o.sniffer.Lookup(r.Remote.Addr); ok {
		row.Domain = res.Domain
		risk := o.dnsAnalyze.Analyze(res.Domain)
		row.DNSRisk = &risk
	}

	beaconing, uniqueDsts := o.beacons.Observe(r.PID, r.Remote.Addr+":"+itoa(r.Remote.Port), time.Now())
	row.Beacon = beaconing
	row.UniqueDsts = uniqueDsts

	if isPublicEnough(r.Remote.Addr) {
		o.reputation.EnrichAsync(r.Remote.Addr)
		if score, present := o.reputation.Score(r.Remote.Addr); present && score >= 0 {
			row.Reputation = model.Reputation{Status: model.ReputationReady, Score: score}
		} else if present && score == reputation.InFlight {
			row.Reputation = model.Reputation{Status: model.ReputationPending}
		} else if present && score == reputation.Failed {
			row.Reputation = model.Reputation{Status: model.ReputationFailed}
		} else {
			row.Reputation = model.Reputation{Status: model.ReputationAbsent}
		}
	}

	return row
}

func (o *Orchestrator) resourceSweep() {
	samples, err := o.resources.Sweep()
	if err != nil {
		o.log.Warn().Err(err).Msg("orchestrator: resource sweep failed")
		return
	}
	for _, s := range samples {
		if s.Score < resourceThreatThreshold() {
			continue
		}
		results := o.enforcer.KillTree(s.PID)
		for _, r := range results {
			if r.Reason == enforce.ReasonOK {
				o.log.Warn().Int32("pid", r.PID).Msg("orchestrator: killed resource-threatening process tree")
			}
		}
		o.resources.Forget(s.PID)
	}
}

func resourceThreatThreshold() int {
	return resource.ThreatThreshold
}

func isSuspiciousParent(parentName string) bool {
	switch parentName {
	case "bash", "sh", "zsh", "osascript", "python", "python3", "perl", "curl", "wget":
		return true
	default:
		return false
	}
}

func isPublicEnough(addr string) bool {
	return ipaddr.IsPublic(addr)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
