// Package mdns implements the Multicast Service Discovery service (C4):
// the background advertise/query/listen/print loops and the registry they
// maintain
//
// Grounded on the earlier responder/querier split (functional options,
// context-driven lifecycle) and on original_source/protocols/mdns/src/
// behaviour/mdns_service.rs's MdnsService (advertise_services,
// periodic_query, listen, print_node_registry).
package mdns

import (
	"context"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/lanpeer/beacon/internal/backoff"
	"github.com/lanpeer/beacon/internal/errors"
	"github.com/lanpeer/beacon/internal/message"
	"github.com/lanpeer/beacon/internal/protocol"
	"github.com/lanpeer/beacon/internal/registry"
	"github.com/lanpeer/beacon/internal/security"
	"github.com/lanpeer/beacon/internal/transport"
)

var multicastDst = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: protocol.Port}

// Service is the MSD service: a socket, a registry, an event bus, a query
// cache, and a back-off controller shared across four background loops.
type Service struct {
	conn *ipv4.PacketConn

	registry *registry.Registry
	events   *eventBus
	backoff  *backoff.Controller

	originMu sync.RWMutex
	origin   string

	defaultServiceType string

	cacheMu    sync.Mutex
	queryCache map[string]time.Time

	rateLimiter  *security.RateLimiter
	sourceFilter *security.SourceFilter
}

// Option configures a Service at construction time.
type Option func(*Service) error

// WithOrigin sets the node's own origin name (defaults to
// "UnknownOrigin.local" when omitted).
func WithOrigin(origin string) Option {
	return func(s *Service) error {
		s.origin = origin
		return nil
	}
}

// WithRateLimiting enables the supplemental per-source-IP abuse guard on
// the listen loop, on top of the query debounce.
func WithRateLimiting(threshold int, cooldown time.Duration, maxEntries int) Option {
	return func(s *Service) error {
		s.rateLimiter = security.NewRateLimiter(threshold, cooldown, maxEntries)
		return nil
	}
}

// WithSourceFilter restricts accepted datagrams to link-local senders or
// senders on iface's own subnet, an additional supplemental guard on top
// of the listen loop's core dispatch.
func WithSourceFilter(iface net.Interface) Option {
	return func(s *Service) error {
		filter, err := security.NewSourceFilter(iface)
		if err != nil {
			return err
		}
		s.sourceFilter = filter
		return nil
	}
}

func trimTrailingDot(s string) string {
	return strings.TrimSuffix(s, ".")
}

func trimLeadingDot(s string) string {
	return strings.TrimPrefix(s, ".")
}

// New opens the multicast socket, builds the registry/event-bus/back-off
// state, and registers the default node service.
func New(defaultServiceType string, opts ...Option) (*Service, error) {
	conn, err := openMulticastSocket()
	if err != nil {
		return nil, err
	}

	s := &Service{
		conn:               conn,
		registry:           registry.New(),
		events:             newEventBus(),
		backoff:            backoff.New(),
		defaultServiceType: defaultServiceType,
		origin:             "UnknownOrigin.local",
		queryCache:         make(map[string]time.Time),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			_ = closeSocket(conn)
			return nil, err
		}
	}

	id := trimTrailingDot(s.origin) + "." + trimLeadingDot(defaultServiceType)
	maxTTL := uint32(1<<32 - 1)
	zero := uint16(0)
	if err := s.RegisterLocalService(id, defaultServiceType, protocol.Port, &maxTTL, s.Origin()); err != nil {
		_ = closeSocket(conn)
		return nil, err
	}
	// RegisterLocalService links the node; overwrite priority/weight to the
	// construction-time defaults (0, 0) the default service record requires.
	if svc, ok := s.registry.GetService(id); ok {
		svc.Priority = &zero
		svc.Weight = &zero
		if err := s.registry.AddService(svc); err != nil {
			_ = closeSocket(conn)
			return nil, err
		}
	}

	return s, nil
}

// Close releases the underlying multicast socket.
func (s *Service) Close() error {
	return closeSocket(s.conn)
}

// Origin returns the node's current origin name.
func (s *Service) Origin() string {
	s.originMu.RLock()
	defer s.originMu.RUnlock()
	return s.origin
}

// Events returns a new subscription to this service's Discovered events.
func (s *Service) Events() <-chan Event {
	return s.events.Subscribe()
}

// Registry exposes the service's registry for read access by callers
// (e.g. a CLI printing discovered peers).
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// RegisterLocalService upserts the origin's NodeRecord via AddNode, then
// inserts a ServiceRecord and links it to that node. Emits a
// Discovered(SRV) event.
func (s *Service) RegisterLocalService(id, serviceType string, port uint16, ttl *uint32, origin string) error {
	nodeID := trimTrailingDot(origin)
	if err := s.registry.AddNode(registry.NodeRecord{ID: nodeID, IPAddress: "0.0.0.0", TTL: ttl}); err != nil {
		return err
	}
	record := registry.ServiceRecord{
		ID:          id,
		ServiceType: serviceType,
		Port:        port,
		TTL:         ttl,
		Origin:      origin,
		NodeID:      nodeID,
	}
	if err := s.registry.AddService(record); err != nil {
		return err
	}
	if err := s.registry.LinkServiceToNode(record); err != nil {
		return err
	}

	s.events.Publish(Event{Kind: Discovered, Record: message.Record{
		Kind:     message.RecordSRV,
		Name:     id,
		TTL:      ttlOrDefault(ttl),
		Target:   origin,
		Port:     port,
		Priority: derefOr(record.Priority, 0),
		Weight:   derefOr(record.Weight, 0),
	}})
	return nil
}

func ttlOrDefault(ttl *uint32) uint32 {
	if ttl == nil {
		return protocol.TTLService
	}
	return *ttl
}

func derefOr(p *uint16, fallback uint16) uint16 {
	if p == nil {
		return fallback
	}
	return *p
}

// getLocalIPv4 discovers the node's own IPv4 address via the UDP-connect
// trick: connecting a UDP socket to a well-known external address without
// sending traffic, then reading the chosen local address.
func getLocalIPv4() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, &errors.NetworkError{Operation: "discover local IPv4", Err: err}
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, &errors.NetworkError{Operation: "discover local IPv4", Details: "unexpected local address type"}
	}
	return addr.IP.To4(), nil
}

// CreateAdvertisePacket builds the advertise packet for every service
// bound to the service's current origin: a PTR, an SRV, and an A record
// per service. Returns nil, nil if
// there is nothing to advertise; the caller must not send an empty packet.
func (s *Service) CreateAdvertisePacket() ([]byte, error) {
	origin := s.Origin()
	services := s.registry.ListServicesByNode(origin)
	if len(services) == 0 {
		return nil, nil
	}

	localIP, err := getLocalIPv4()
	if err != nil {
		return nil, err
	}

	var records []message.Record
	for _, svc := range services {
		ttl := ttlOrDefault(svc.TTL)

		records = append(records, message.Record{
			Kind: message.RecordPTR, Name: svc.ServiceType, TTL: ttl, PtrName: svc.ID,
		})

		records = append(records, message.Record{
			Kind:     message.RecordSRV,
			Name:     svc.ID,
			TTL:      ttl,
			Target:   svc.Origin,
			Port:     svc.Port,
			Priority: derefOr(svc.Priority, 0),
			Weight:   derefOr(svc.Weight, 0),
		})

		a := message.Record{Kind: message.RecordA, Name: svc.Origin, TTL: ttl}
		copy(a.IP[:], localIP)
		records = append(records, a)
	}

	return message.BuildPacket(0, protocol.FlagResponseStandard, nil, records)
}

func (s *Service) sendPacket(pkt []byte) error {
	if len(pkt) == 0 {
		return nil
	}
	_, err := s.conn.WriteTo(pkt, nil, multicastDst)
	if err != nil {
		return &errors.NetworkError{Operation: "send multicast packet", Err: err}
	}
	return nil
}

// AdvertiseServices runs the advertise loop until ctx is cancelled: build
// the packet, send it if non-empty, adjust back-off, sleep advertise_s.
func (s *Service) AdvertiseServices(ctx context.Context) {
	for {
		pkt, err := s.CreateAdvertisePacket()
		if err != nil {
			log.Printf("(ADVERTISE) packet build failed: %v", err)
		} else if err := s.sendPacket(pkt); err != nil {
			log.Printf("(ADVERTISE) send failed: %v", err)
		}

		advertise, _ := s.backoff.Adjust()

		select {
		case <-ctx.Done():
			return
		case <-time.After(advertise):
		}
	}
}

// PeriodicQuery runs the query loop until ctx is cancelled: build a query
// for serviceType, send it, adjust back-off, sleep query_s.
func (s *Service) PeriodicQuery(ctx context.Context, serviceType string) {
	for {
		pkt, err := message.BuildPacket(0, protocol.FlagQueryStandard,
			[]message.Question{{QNAME: serviceType, QTYPE: protocol.QTypePTR, QCLASS: protocol.QClassIN}}, nil)
		if err != nil {
			log.Printf("(QUERY) packet build failed: %v", err)
		} else if err := s.sendPacket(pkt); err != nil {
			log.Printf("(QUERY) send failed: %v", err)
		}

		_, query := s.backoff.Adjust()

		select {
		case <-ctx.Done():
			return
		case <-time.After(query):
		}
	}
}

// extractServiceType returns the substring of srvID starting immediately
// after the first occurrence of "._", or srvID unchanged if absent.
func extractServiceType(srvID string) string {
	idx := strings.Index(srvID, "._")
	if idx < 0 {
		return srvID
	}
	return srvID[idx+1:]
}

// Listen runs the listen loop until ctx is cancelled: receive datagrams up
// to 4096 bytes, parse, and dispatch by the response bit.
func (s *Service) Listen(ctx context.Context) {
	bufPtr := transport.GetBuffer()
	defer transport.PutBuffer(bufPtr)
	buf := (*bufPtr)[:protocol.ListenBufferSize]

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			log.Printf("(LISTEN) set read deadline failed: %v", err)
			return
		}

		n, _, src, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if isTimeoutErr(err) {
				continue
			}
			log.Printf("(LISTEN) read failed: %v", err)
			continue
		}

		srcUDP, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}

		if s.sourceFilter != nil && !s.sourceFilter.IsValid(srcUDP.IP) {
			continue
		}

		if s.rateLimiter != nil && !s.rateLimiter.Allow(srcUDP.IP.String()) {
			continue
		}

		msg, err := message.ParseMessage(buf[:n])
		if err != nil {
			log.Printf("(LISTEN) malformed packet from %s: %v", srcUDP, err)
			continue
		}

		if msg.Header.IsResponse() {
			s.processResponse(msg, srcUDP)
		} else {
			go s.processQuery(ctx, msg, srcUDP)
		}
	}
}

func isTimeoutErr(err error) bool {
	type timeoutErr interface{ Timeout() bool }
	te, ok := err.(timeoutErr)
	return ok && te.Timeout()
}

// processResponse handles the response path: A records
// upsert the node keyed by name with the *source* IP, not the record's
// payload; SRV records upsert and link a ServiceRecord derived from the
// target.
func (s *Service) processResponse(msg *message.DNSMessage, src *net.UDPAddr) {
	records, err := message.ParseRecords(msg)
	if err != nil {
		log.Printf("(DISCOVERY) malformed answer section: %v", err)
		return
	}

	for _, rec := range records {
		switch rec.Kind {
		case message.RecordA:
			if err := s.registry.UpsertNodeIP(rec.Name, src.IP.String(), ttlPtr(rec.TTL)); err != nil {
				log.Printf("(DISCOVERY) IP conflict for %s: %v", rec.Name, err)
				continue
			}
			s.events.Publish(Event{Kind: Discovered, Record: rec})

		case message.RecordSRV:
			nodeID := trimTrailingDot(rec.Target)
			svc := registry.ServiceRecord{
				ID:          rec.Name,
				ServiceType: extractServiceType(rec.Name),
				Port:        rec.Port,
				TTL:         ttlPtr(rec.TTL),
				Origin:      rec.Target,
				NodeID:      nodeID,
			}
			priority, weight := rec.Priority, rec.Weight
			svc.Priority = &priority
			svc.Weight = &weight
			if err := s.registry.AddService(svc); err != nil {
				log.Printf("(DISCOVERY) failed to register service %s: %v", rec.Name, err)
				continue
			}
			if err := s.registry.LinkServiceToNode(svc); err != nil {
				log.Printf("(DISCOVERY) failed to link service %s: %v", rec.Name, err)
				continue
			}
			s.events.Publish(Event{Kind: Discovered, Record: rec})

		default:
			// PTR and TXT observations are not acted on
		}
	}
}

func ttlPtr(ttl uint32) *uint32 {
	v := ttl
	return &v
}

// processQuery handles the query path: debounce duplicate
// questions within 500ms, match services whose trimmed id ends with the
// trimmed qname, and send a batched response after a 200ms delay.
func (s *Service) processQuery(ctx context.Context, msg *message.DNSMessage, src *net.UDPAddr) {
	for _, q := range msg.Questions {
		if q.QTYPE != protocol.QTypePTR || q.QCLASS != protocol.QClassIN {
			continue
		}

		qname := q.QNAME
		if s.debounced(qname) {
			continue
		}

		want := trimTrailingDot(qname)
		var matches []registry.ServiceRecord
		for _, svc := range s.registry.ListServices() {
			if strings.HasSuffix(trimTrailingDot(svc.ID), want) {
				matches = append(matches, svc)
			}
		}
		if len(matches) == 0 {
			continue
		}

		srcIP := src.IP.To4()

		select {
		case <-ctx.Done():
			return
		case <-time.After(protocol.BatchDelay):
		}

		var records []message.Record
		for _, svc := range matches {
			ttl := ttlOrDefault(svc.TTL)

			records = append(records, message.Record{
				Kind: message.RecordPTR, Name: svc.ServiceType, TTL: ttl, PtrName: svc.ID,
			})

			records = append(records, message.Record{
				Kind: message.RecordSRV, Name: svc.ID, TTL: ttl, Target: svc.Origin, Port: svc.Port,
				Priority: derefOr(svc.Priority, 0), Weight: derefOr(svc.Weight, 0),
			})

			if srcIP != nil {
				a := message.Record{Kind: message.RecordA, Name: svc.Origin, TTL: ttl}
				copy(a.IP[:], srcIP)
				records = append(records, a)
			}
		}

		pkt, err := message.BuildPacket(0, protocol.FlagResponseStandard, nil, records)
		if err != nil {
			log.Printf("(QUERY) response build failed: %v", err)
			continue
		}
		if err := s.sendPacket(pkt); err != nil {
			log.Printf("(QUERY) response send failed: %v", err)
		}
	}
}

func (s *Service) debounced(qname string) bool {
	now := time.Now()
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if last, ok := s.queryCache[qname]; ok && now.Sub(last) < protocol.DebounceWindow {
		return true
	}
	s.queryCache[qname] = now
	return false
}

// printRegistry runs the registry-printer loop until ctx is cancelled,
// logging the current node set every 10 seconds.
func (s *Service) printRegistry(ctx context.Context) {
	ticker := time.NewTicker(protocol.RegistryPrintInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nodes := s.registry.ListNodes()
			log.Printf("(REGISTRY) %d known node(s):", len(nodes))
			for _, n := range nodes {
				log.Printf("(REGISTRY)   %s -> %s (%d service(s))", n.ID, n.IPAddress, len(n.Services))
			}
		}
	}
}

// Run spawns the four background loops (advertise, query, listen, print)
// and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context, serviceType string) {
	var wg sync.WaitGroup
	wg.Add(4)

	go func() { defer wg.Done(); s.AdvertiseServices(ctx) }()
	go func() { defer wg.Done(); s.PeriodicQuery(ctx, serviceType) }()
	go func() { defer wg.Done(); s.Listen(ctx) }()
	go func() { defer wg.Done(); s.printRegistry(ctx) }()

	wg.Wait()
}
