// Package reputation is the IP Reputation Cache (spec.md §4.7): an
// async, TTL-cached lookup of a remote IP's abuse score from an
// external reputation provider. Sentinel values distinguish "nobody
// has asked yet" from "a lookup is already in flight" from "the last
// lookup failed and we are backing off", so concurrent enrichers for
// the same IP never issue duplicate requests.
package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	// InFlight marks an IP whose lookup has been dispatched but not yet
	// completed, so a concurrent caller doesn't fire a second request.
	InFlight = -1
	// Failed marks an IP whose last lookup errored; cached briefly so
	// repeated enrichment ticks don't hammer a provider that's down.
	Failed = -2

	defaultTTL     = 6 * time.Hour
	backoffTTL     = 5 * time.Minute
	requestTimeout = 5 * time.Second
)

// Cache is the IP Reputation Cache.
type Cache struct {
	scores *cache.Cache
	client *retryablehttp.Client
	apiKey string
	apiURL string
	log    zerolog.Logger
}

// New constructs a Cache. If apiKey is empty, EnrichAsync is a no-op
// and no cache entry is ever written (spec.md §9 open question: reputation silently disabled
// without a configured key, surfaced via the degraded-mode status bit
// in internal/api).
func New(apiKey, apiURL string, log zerolog.Logger) *Cache {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	client.HTTPClient.Timeout = requestTimeout

	return &Cache{
		scores: cache.New(defaultTTL, defaultTTL*2),
		client: client,
		apiKey: apiKey,
		apiURL: apiURL,
		log:    log,
	}
}

// Enabled reports whether an API key is configured.
func (c *Cache) Enabled() bool {
	return c.apiKey != ""
}

// Score returns the cached reputation score for ip and whether an
// entry exists at all (absent vs. present-as-sentinel).
func (c *Cache) Score(ip string) (score int, present bool) {
	v, found := c.scores.Get(ip)
	if !found {
		return 0, false
	}
	return v.(int), true
}

// EnrichAsync kicks off a background lookup for ip if none is already
// in flight or cached, and is a no-op if the cache is disabled.
func (c *Cache) EnrichAsync(ip string) {
	if !c.Enabled() {
		return
	}
	if _, found := c.scores.Get(ip); found {
		return
	}
	c.scores.SetDefault(ip, InFlight)

	go func() {
		score, err := c.lookup(ip)
		if err != nil {
			c.log.Warn().Err(err).Str("ip", ip).Msg("reputation: lookup failed")
			c.scores.Set(ip, Failed, backoffTTL)
			return
		}
		c.scores.SetDefault(ip, score)
	}()
}

type reputationResponse struct {
	Score       int    `json:"abuseConfidenceScore"`
	CountryCode string `json:"countryCode"`
}

func (c *Cache) lookup(ip string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s?ipAddress=%s", c.apiURL, ip)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("reputation: provider returned status %d", resp.StatusCode)
	}

	var parsed reputationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}
	return parsed.Score, nil
}

// ClearCache drops all cached reputation entries.
func (c *Cache) ClearCache() {
	c.scores.Flush()
}
