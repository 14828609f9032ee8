// Package registry implements MdnsRegistry: the concurrent map of
// ServiceRecords and NodeRecords maintained by the mDNS Service.
//
// Grounded on the earlier internal/responder/registry.go (sync.RWMutex,
// upsert-style writer, RLock'd readers) generalized to a two-map shape
// (services, nodes), and on original_source/protocols/mdns/src/behaviour/
// mdns_service.rs's add_service/add_node/list_services_by_node/
// add_node_to_registry methods.
package registry

import (
	"strings"
	"sync"

	"github.com/lanpeer/beacon/internal/errors"
)

// ServiceRecord mirrors ServiceRecord. Invariant:
// NodeID == trimTrailingDot(Origin).
type ServiceRecord struct {
	ID          string
	ServiceType string
	Port        uint16
	TTL         *uint32
	Origin      string
	Priority    *uint16
	Weight      *uint16
	NodeID      string
}

// NodeRecord mirrors NodeRecord. Invariant: ID has no trailing
// dot; Services contains no duplicates.
type NodeRecord struct {
	ID        string
	IPAddress string
	TTL       *uint32
	Services  []string
}

// Registry is the concurrent MdnsRegistry: two independent maps (services,
// nodes), each keyed uniquely by id. Reads are observation-consistent;
// writers serialize with respect to each other per component.
type Registry struct {
	mu       sync.RWMutex
	services map[string]ServiceRecord
	nodes    map[string]NodeRecord
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		services: make(map[string]ServiceRecord),
		nodes:    make(map[string]NodeRecord),
	}
}

func trimTrailingDot(s string) string {
	return strings.TrimSuffix(s, ".")
}

// AddService upserts a ServiceRecord by id.
func (r *Registry) AddService(s ServiceRecord) error {
	if s.ID == "" {
		return &errors.RegistryError{Operation: "add service", ID: s.ID, Message: "empty service id"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.ID] = s
	return nil
}

// GetService returns a copy of the ServiceRecord for id, if present.
func (r *Registry) GetService(id string) (ServiceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[id]
	return s, ok
}

// ListServices returns a snapshot of all registered services.
func (r *Registry) ListServices() []ServiceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServiceRecord, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	return out
}

// ListServicesByNode returns all services whose NodeID matches origin,
// after trimming trailing dots on both sides
func (r *Registry) ListServicesByNode(origin string) []ServiceRecord {
	want := trimTrailingDot(origin)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ServiceRecord
	for _, s := range r.services {
		if trimTrailingDot(s.NodeID) == want {
			out = append(out, s)
		}
	}
	return out
}

// mergeNode combines an existing NodeRecord with an incoming one: a
// non-empty IPAddress or non-nil TTL on incoming replaces the existing
// value, and Services is the union of both sets (existing order preserved,
// new entries appended). Called with the write lock already held.
func mergeNode(existing, incoming NodeRecord) NodeRecord {
	merged := existing
	merged.ID = incoming.ID
	if incoming.IPAddress != "" {
		merged.IPAddress = incoming.IPAddress
	}
	if incoming.TTL != nil {
		merged.TTL = incoming.TTL
	}
	for _, svc := range incoming.Services {
		found := false
		for _, e := range merged.Services {
			if e == svc {
				found = true
				break
			}
		}
		if !found {
			merged.Services = append(merged.Services, svc)
		}
	}
	return merged
}

// AddNode upserts a NodeRecord by id, merging field-by-field with the
// existing record when one is present (later non-empty/non-nil values
// win; the Services set is a union of old and new). RegisterLocalService
// calls this to create or refresh the node entry backing a local service
// registration before LinkServiceToNode attaches the service to it.
func (r *Registry) AddNode(n NodeRecord) error {
	if n.ID == "" {
		return &errors.RegistryError{Operation: "add node", ID: n.ID, Message: "empty node id"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.ID] = mergeNode(r.nodes[n.ID], n)
	return nil
}

// GetNode returns a copy of the NodeRecord for id, if present.
func (r *Registry) GetNode(id string) (NodeRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// ListNodes returns a snapshot of all registered nodes.
func (r *Registry) ListNodes() []NodeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeRecord, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// UpsertNodeIP upserts a node's IP address and TTL, enforcing the
// IP-conflict invariant atomically within the registry's
// single write-lock critical section — fixing the source race where the
// conflict check and the write were two separate, non-atomic steps
// (original_source's add_node_to_registry snapshots list_nodes() first,
// then writes separately).
//
// If another node already owns ipAddress, the existing node is left
// untouched and a RegistryError is returned; the caller is expected to log
// and continue — registry IP conflicts are reported but do not unregister
// the conflicting node.
func (r *Registry) UpsertNodeIP(id, ipAddress string, ttl *uint32) error {
	normalized := trimTrailingDot(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	for existingID, n := range r.nodes {
		if n.IPAddress == ipAddress && existingID != normalized {
			return &errors.RegistryError{
				Operation: "upsert node",
				ID:        normalized,
				Message:   "IP address " + ipAddress + " already assigned to " + existingID,
			}
		}
	}

	r.nodes[normalized] = mergeNode(r.nodes[normalized], NodeRecord{ID: normalized, IPAddress: ipAddress, TTL: ttl})
	return nil
}

// LinkServiceToNode ensures service.ID is present in the Services set of the
// NodeRecord keyed by trimTrailingDot(service.NodeID), creating the node
// with IP "0.0.0.0" if absent.
func (r *Registry) LinkServiceToNode(service ServiceRecord) error {
	nodeID := trimTrailingDot(service.NodeID)

	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = NodeRecord{ID: nodeID, IPAddress: "0.0.0.0", TTL: service.TTL}
	}

	r.nodes[nodeID] = mergeNode(node, NodeRecord{ID: nodeID, Services: []string{service.ID}})
	return nil
}
