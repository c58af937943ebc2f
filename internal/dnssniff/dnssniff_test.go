package dnssniff

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"
)

func newTestSniffer() *Sniffer {
	return New("", zerolog.Nop())
}

func TestRecordQueryThenResponseResolves(t *testing.T) {
	s := newTestSniffer()

	query := new(dns.Msg)
	query.Id = 42
	query.Question = []dns.Question{{Name: "example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}}
	s.recordQuery(query)

	resp := new(dns.Msg)
	resp.Id = 42
	resp.Response = true
	rr, err := dns.NewRR("example.com. 300 IN A 93.184.216.34")
	if err != nil {
		t.Fatalf("NewRR: %v", err)
	}
	resp.Answer = []dns.RR{rr}
	s.recordResponse(resp)

	res, ok := s.Lookup("93.184.216.34")
	if !ok {
		t.Fatal("expected resolution to be recorded")
	}
	if res.Domain != "example.com." {
		t.Fatalf("expected domain example.com., got %q", res.Domain)
	}
}

func TestRecordResponseWithoutQueryIsIgnored(t *testing.T) {
	s := newTestSniffer()

	resp := new(dns.Msg)
	resp.Id = 99
	resp.Response = true
	rr, _ := dns.NewRR("nobody-asked.com. 300 IN A 1.2.3.4")
	resp.Answer = []dns.RR{rr}
	s.recordResponse(resp)

	if _, ok := s.Lookup("1.2.3.4"); ok {
		t.Fatal("expected no resolution without a matching pending query")
	}
}

func TestRecordQueryIgnoresNonATypes(t *testing.T) {
	s := newTestSniffer()
	query := new(dns.Msg)
	query.Id = 7
	query.Question = []dns.Question{{Name: "example.com.", Qtype: dns.TypeAAAA, Qclass: dns.ClassINET}}
	s.recordQuery(query)

	s.mu.Lock()
	_, tracked := s.pending[7]
	s.mu.Unlock()
	if tracked {
		t.Fatal("expected AAAA queries not to be tracked")
	}
}

func TestPendingQueriesClearedPastLimit(t *testing.T) {
	s := newTestSniffer()
	for i := 0; i < maxPendingQueries+5; i++ {
		q := new(dns.Msg)
		q.Id = uint16(i)
		q.Question = []dns.Question{{Name: "x.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}}
		s.recordQuery(q)
	}
	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	if n > maxPendingQueries+1 {
		t.Fatalf("expected pending table to have been cleared near the limit, has %d entries", n)
	}
}

func TestLookupMissUnknownIP(t *testing.T) {
	s := newTestSniffer()
	if _, ok := s.Lookup("10.10.10.10"); ok {
		t.Fatal("expected miss for unknown ip")
	}
}
