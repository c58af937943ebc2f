package reputation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDisabledWithoutAPIKeyIsNoop(t *testing.T) {
	c := New("", "", zerolog.Nop())
	if c.Enabled() {
		t.Fatal("expected disabled cache without an api key")
	}
	c.EnrichAsync("1.2.3.4")
	if _, present := c.Score("1.2.3.4"); present {
		t.Fatal("expected no cache entry to be written when disabled")
	}
}

func TestEnrichAsyncPopulatesScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"abuseConfidenceScore": 87,
			"countryCode":          "RU",
		})
	}))
	defer srv.Close()

	c := New("test-key", srv.URL, zerolog.Nop())
	c.EnrichAsync("5.6.7.8")

	score, present := c.Score("5.6.7.8")
	if present && score == InFlight {
		// allow the goroutine time to complete
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		score, present = c.Score("5.6.7.8")
		if present && score != InFlight {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !present || score != 87 {
		t.Fatalf("expected score 87, got %d (present=%v)", score, present)
	}
}

func TestEnrichAsyncDoesNotDuplicateInFlightLookups(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		time.Sleep(50 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]interface{}{"abuseConfidenceScore": 10})
	}))
	defer srv.Close()

	c := New("test-key", srv.URL, zerolog.Nop())
	c.EnrichAsync("9.9.9.9")
	c.EnrichAsync("9.9.9.9")
	c.EnrichAsync("9.9.9.9")

	time.Sleep(200 * time.Millisecond)
	if hits != 1 {
		t.Fatalf("expected exactly one request for concurrent lookups of the same ip, got %d", hits)
	}
}

func TestLookupFailureSetsBackoffSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("test-key", srv.URL, zerolog.Nop())
	c.client.RetryMax = 0
	c.EnrichAsync("4.4.4.4")

	deadline := time.Now().Add(2 * time.Second)
	var score int
	var present bool
	for time.Now().Before(deadline) {
		score, present = c.Score("4.4.4.4")
		if present && score != InFlight {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !present || score != Failed {
		t.Fatalf("expected Failed sentinel, got %d (present=%v)", score, present)
	}
}
