// Package scorer is the Risk Scorer (spec.md §4.3): a pure function
// composing a connection row's enrichment signals into a single
// additive score clamped to [0,10] (an IP-reputation bonus is then added
// on top without re-clamping), a discrete Level band, and the
// list of human-readable reasons that contributed. Reproduced from
// original_source/backend/core/alert_engine.py's level mapping and the
// signal table carried forward verbatim from spec.md §4.3.
package scorer

import (
	"sort"
	"strings"

	"github.com/serome111/portwatch/internal/ipaddr"
	"github.com/serome111/portwatch/internal/model"
)

const maxScore = 10.0

// Score evaluates row's enrichment fields into a score, level, and
// reason list. It does not mutate row.
func Score(row model.ConnectionRow) (score float64, level model.Level, reasons []string) {
	var s float64
	publicRemote := ipaddr.IsPublic(row.Remote.Addr)

	switch row.Remote.Port {
	case 22, 23, 25, 445, 3389, 5900:
		s += 3.0
		reasons = append(reasons, "sensitive port")
	case 3333, 4444:
		s += 2.0
		reasons = append(reasons, "mining-stratum")
	}
	if row.Remote.Port >= 9001 && row.Remote.Port <= 9030 {
		s += 1.5
		reasons = append(reasons, "tor")
	}

	if isTempDirPath(row.ExePath) {
		s += 3.0
		reasons = append(reasons, "temp dir")
	}

	if publicRemote {
		s += 1.0
		reasons = append(reasons, "egress to internet")
	}

	if row.ExeRecent && publicRemote {
		s += 1.0
		reasons = append(reasons, "fresh binary with egress")
	}

	if row.Beacon {
		s += 2.5
		reasons = append(reasons, "repetitive cadence")
	}

	switch {
	case row.UniqueDsts >= 10:
		s += 1.5
		reasons = append(reasons, "fanout")
	case row.UniqueDsts >= 5:
		s += 0.8
		reasons = append(reasons, "elevated fanout")
	}

	if !row.Signing.Unknown {
		if !row.Signing.Signed {
			s += 2.0
			reasons = append(reasons, "unsigned")
		} else if row.Signing.Apple {
			s -= 1.5
			reasons = append(reasons, "first-party")
		}
		if row.Signing.Quarantine {
			s += 1.0
			reasons = append(reasons, "recently downloaded")
		}
	}

	if isUserWritableLocation(row.ExePath) {
		s += 0.5
		reasons = append(reasons, "user-writable location")
	}

	if row.CPUPercent > 50 {
		s += 2.0
		reasons = append(reasons, "high cpu")
	}
	if row.RSSBytes > 500*1024*1024 {
		s += 1.0
		reasons = append(reasons, "high memory")
	}

	if row.SuspParent && publicRemote {
		s += 2.5
		reasons = append(reasons, "suspicious spawn")
	}

	if row.DNSRisk != nil && row.DNSRisk.Score != 0 {
		s += float64(row.DNSRisk.Score)
		reasons = append(reasons, "DNS: "+firstReason(row.DNSRisk.Reasons))
	}

	if s < 0 {
		s = 0
	}
	if s > maxScore {
		s = maxScore
	}

	// If a cached positive IP-reputation score is available, add
	// reputation_score/20.0 to the clamped score and recompute the
	// level band from that bonus value without re-clamping (spec.md
	// §4.3). The bonus value is what's emitted as score, so the field
	// can exceed 10 by up to reputation's own [0,100]/20.0 = 5.0 max.
	bonus := s
	if row.Reputation.Status == model.ReputationReady && row.Reputation.Score > 0 {
		bonus = s + float64(row.Reputation.Score)/20.0
	}

	return bonus, levelFor(bonus), reasons
}

func levelFor(s float64) model.Level {
	switch {
	case s >= 7.0:
		return model.LevelHigh
	case s >= 4.0:
		return model.LevelMedium
	default:
		return model.LevelLow
	}
}

func firstReason(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	return reasons[0]
}

var tempDirPrefixes = []string{"/tmp", "/private/tmp", "/var/tmp", "/dev/shm"}

func isTempDirPath(exePath string) bool {
	p := strings.ToLower(exePath)
	for _, prefix := range tempDirPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

var userWritableMarkers = []string{"/downloads/", "/library/", "/desktop/"}

func isUserWritableLocation(exePath string) bool {
	p := strings.ToLower(exePath)
	if !strings.HasPrefix(p, "/users/") {
		return false
	}
	for _, marker := range userWritableMarkers {
		if strings.Contains(p, marker) {
			return true
		}
	}
	return false
}

// Sort orders rows by (descending score, beacon rows first), the
// presentation ordering required by spec.md §6 for the connection
// snapshot.
func Sort(rows []model.ConnectionRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		if rows[i].Beacon != rows[j].Beacon {
			return rows[i].Beacon
		}
		return false
	})
}
