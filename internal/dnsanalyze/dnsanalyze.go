// Package dnsanalyze is the DNS Analyzer (spec.md §4.6): a pure
// domain-name risk scorer plus a whitelist/blacklist configuration that
// can be hot-reloaded from disk. The scoring thresholds are reproduced
// exactly from the original Python analyzer (original_source/backend/
// utils/dns_analyzer.py).
package dnsanalyze

import (
	"math"
	"regexp"
	"strings"

	"github.com/serome111/portwatch/internal/model"
)

var ipInNameRe = regexp.MustCompile(`\d{1,3}[.-]\d{1,3}[.-]\d{1,3}[.-]\d{1,3}`)

// DefaultWhitelistDomains are domains never scored, matching the
// original's built-in allowlist; a listed domain also whitelists its
// subdomains.
var DefaultWhitelistDomains = []string{
	"apple.com", "icloud.com", "google.com", "googleapis.com",
	"microsoft.com", "windowsupdate.com", "amazonaws.com",
	"cloudflare.com", "akamai.net", "github.com",
}

// DefaultWhitelistSuffixes are domain suffixes never scored.
var DefaultWhitelistSuffixes = []string{
	".apple.com", ".icloud.com", ".google.com", ".googleapis.com",
	".microsoft.com", ".windowsupdate.com", ".amazonaws.com",
	".akamai.net", ".github.io",
}

// DefaultBlacklistTLDs are top-level domains that add to a name's
// score when matched (spec.md §4.6).
var DefaultBlacklistTLDs = []string{
	".tk", ".ml", ".ga", ".cf", ".gq", ".top", ".xyz", ".pw", ".cc",
}

// DefaultBlacklistKeywords are substrings in a domain name that add to
// its score.
var DefaultBlacklistKeywords = []string{
	"update", "secure", "verify", "account", "confirm", "login",
	"banking", "paypal", "wallet",
}

// Config is the analyzer's whitelist/blacklist configuration, loadable
// from disk and hot-reloadable (spec.md §4.6, §6). Field names and tags
// match spec.md §6's external config schema exactly.
type Config struct {
	WhitelistDomains  []string `mapstructure:"whitelist_domains" yaml:"whitelist_domains"`
	WhitelistSuffixes []string `mapstructure:"whitelist_suffixes" yaml:"whitelist_suffixes"`
	BlacklistKeywords []string `mapstructure:"blacklist_keywords" yaml:"blacklist_keywords"`
	BlacklistTLDs     []string `mapstructure:"blacklist_tlds" yaml:"blacklist_tlds"`
}

// DefaultConfig returns the built-in whitelist/blacklist, matching the
// original's hardcoded defaults.
func DefaultConfig() Config {
	return Config{
		WhitelistDomains:  append([]string(nil), DefaultWhitelistDomains...),
		WhitelistSuffixes: append([]string(nil), DefaultWhitelistSuffixes...),
		BlacklistTLDs:     append([]string(nil), DefaultBlacklistTLDs...),
		BlacklistKeywords: append([]string(nil), DefaultBlacklistKeywords...),
	}
}

// Analyze scores a domain name per spec.md §4.6's exact algorithm:
// whitelist short-circuits to score 0; otherwise entropy, length, TLD,
// keyword, and ip-in-name signals accumulate additively, and the result
// is banded into safe/low/suspicious/critical.
func Analyze(cfg Config, name string) model.DNSRisk {
	name = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))

	if isWhitelisted(cfg, name) {
		return model.DNSRisk{Score: 0, Risk: "safe", Reasons: []string{"Whitelisted"}}
	}

	score := 0
	var reasons []string

	label := name
	if idx := strings.IndexByte(label, '.'); idx >= 0 {
		label = label[:idx]
	}
	entropy := calculateEntropy(label)
	switch {
	case entropy > 4.5:
		score += 50
		reasons = append(reasons, "High Entropy")
	case entropy > 4.0:
		score += 20
		reasons = append(reasons, "Elevated Entropy")
	}

	switch {
	case len(name) > 60:
		score += 40
		reasons = append(reasons, "Excessive Length")
	case len(name) > 40:
		score += 15
		reasons = append(reasons, "Long Domain")
	}

	tlds := cfg.BlacklistTLDs
	if tlds == nil {
		tlds = DefaultBlacklistTLDs
	}
	for _, tld := range tlds {
		if strings.HasSuffix(name, tld) {
			score += 20
			reasons = append(reasons, "Risky TLD")
			break
		}
	}

	keywords := cfg.BlacklistKeywords
	if keywords == nil {
		keywords = DefaultBlacklistKeywords
	}
	for _, kw := range keywords {
		if strings.Contains(name, kw) {
			score += 40
			reasons = append(reasons, "Suspicious Keyword")
			break
		}
	}

	if ipInNameRe.MatchString(name) {
		score += 10
		reasons = append(reasons, "IP Address in Name")
	}

	risk := band(score)
	return model.DNSRisk{Score: score, Risk: risk, Reasons: reasons, Entropy: entropy}
}

func band(score int) string {
	switch {
	case score >= 60:
		return "critical"
	case score >= 30:
		return "suspicious"
	case score > 0:
		return "low"
	default:
		return "safe"
	}
}

func isWhitelisted(cfg Config, name string) bool {
	domains := cfg.WhitelistDomains
	if domains == nil {
		domains = DefaultWhitelistDomains
	}
	for _, d := range domains {
		if name == d || strings.HasSuffix(name, "."+d) {
			return true
		}
	}
	suffixes := cfg.WhitelistSuffixes
	if suffixes == nil {
		suffixes = DefaultWhitelistSuffixes
	}
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// calculateEntropy computes Shannon entropy over the name's byte
// distribution, matching the original's calculate_entropy (frequency
// table over all 256 byte values, -sum(p*log2(p))).
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	length := float64(len(s))
	var entropy float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}
