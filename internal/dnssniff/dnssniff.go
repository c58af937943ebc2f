// Package dnssniff is the DNS Sniffer (spec.md §4.5): a passive
// capture of outbound UDP/53 traffic that correlates A-record queries
// with their responses so the rest of the pipeline can attribute a
// remote IP to the domain name that resolved to it. It replaces the
// original Python implementation's tcpdump-output regex scraping with
// structured packet decoding via gopacket/pcap and miekg/dns.
package dnssniff

import (
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/miekg/dns"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	snapLen = 1500
	// maxPendingQueries bounds the in-flight query table the same way
	// the original clears it outright past 1000 entries rather than
	// evicting individually.
	maxPendingQueries = 1000

	// ipMapTTL matches the original's 3600s read-time eviction of
	// resolved ip->domain entries.
	ipMapTTL = time.Hour
)

// Resolution is one captured domain->IP correlation.
type Resolution struct {
	Domain    string
	IP        string
	Timestamp time.Time
}

// Sniffer captures DNS traffic on an interface and maintains an
// ip->Resolution map for lookup by the enrichment pipeline.
type Sniffer struct {
	iface string
	log   zerolog.Logger

	mu      sync.Mutex
	pending map[uint16]string // DNS transaction ID -> queried name

	ipMap *cache.Cache // ip string -> Resolution

	handle *pcap.Handle
}

// New constructs a Sniffer bound to iface (empty string picks the
// default/any interface).
func New(iface string, log zerolog.Logger) *Sniffer {
	return &Sniffer{
		iface:   iface,
		log:     log,
		pending: make(map[uint16]string),
		ipMap:   cache.New(ipMapTTL, ipMapTTL*2),
	}
}

// Start opens the capture handle and begins processing packets in a
// background goroutine until stop is closed.
func (s *Sniffer) Start(stop <-chan struct{}) error {
	handle, err := pcap.OpenLive(s.iface, snapLen, true, pcap.BlockForever)
	if err != nil {
		return err
	}
	if err := handle.SetBPFFilter("udp and port 53"); err != nil {
		handle.Close()
		return err
	}
	s.handle = handle

	go s.loop(stop)
	return nil
}

// Stop closes the capture handle.
func (s *Sniffer) Stop() {
	if s.handle != nil {
		s.handle.Close()
	}
}

func (s *Sniffer) loop(stop <-chan struct{}) {
	source := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	packets := source.Packets()
	for {
		select {
		case <-stop:
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			s.handlePacket(pkt)
		}
	}
}

func (s *Sniffer) handlePacket(pkt gopacket.Packet) {
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return
	}
	payload := udpLayer.(*layers.UDP).Payload
	if len(payload) == 0 {
		return
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(payload); err != nil {
		return
	}

	if !msg.Response {
		s.recordQuery(msg)
		return
	}
	s.recordResponse(msg)
}

func (s *Sniffer) recordQuery(msg *dns.Msg) {
	if len(msg.Question) == 0 {
		return
	}
	q := msg.Question[0]
	if q.Qtype != dns.TypeA {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > maxPendingQueries {
		s.pending = make(map[uint16]string)
	}
	s.pending[msg.Id] = dns.Fqdn(q.Name)
}

func (s *Sniffer) recordResponse(msg *dns.Msg) {
	s.mu.Lock()
	name, ok := s.pending[msg.Id]
	if ok {
		delete(s.pending, msg.Id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	for _, rr := range msg.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		ip := a.A.String()
		res := Resolution{Domain: name, IP: ip, Timestamp: time.Now()}
		s.ipMap.SetDefault(ip, res)
	}
}

// Lookup returns the most recently observed domain resolution for ip,
// if any is still within its TTL window.
func (s *Sniffer) Lookup(ip string) (Resolution, bool) {
	v, found := s.ipMap.Get(ip)
	if !found {
		return Resolution{}, false
	}
	return v.(Resolution), true
}
