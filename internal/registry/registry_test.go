package registry

import "testing"

func u32(v uint32) *uint32 { return &v }

func TestRegisterDefaultNodeService(t *testing.T) {
	r := New()
	svc := ServiceRecord{
		ID: "node1.local._beacon._tcp.local.", ServiceType: "_beacon._tcp.local.",
		Port: 5353, TTL: u32(1<<32 - 1), Origin: "node1.local.", NodeID: "node1.local",
	}
	if err := r.AddService(svc); err != nil {
		t.Fatalf("AddService: %v", err)
	}
	if err := r.LinkServiceToNode(svc); err != nil {
		t.Fatalf("LinkServiceToNode: %v", err)
	}

	got, ok := r.GetService(svc.ID)
	if !ok {
		t.Fatalf("expected service %q to be registered", svc.ID)
	}
	if got.NodeID != "node1.local" {
		t.Fatalf("NodeID = %q, want %q", got.NodeID, "node1.local")
	}

	node, ok := r.GetNode("node1.local")
	if !ok {
		t.Fatalf("expected node to be created by LinkServiceToNode")
	}
	if node.IPAddress != "0.0.0.0" {
		t.Fatalf("new node IP = %q, want 0.0.0.0", node.IPAddress)
	}
	if len(node.Services) != 1 || node.Services[0] != svc.ID {
		t.Fatalf("node.Services = %v, want [%s]", node.Services, svc.ID)
	}
}

func TestUpsertNodeIP(t *testing.T) {
	r := New()
	if err := r.UpsertNodeIP("peer1.local.", "192.168.1.10", u32(4500)); err != nil {
		t.Fatalf("UpsertNodeIP: %v", err)
	}

	node, ok := r.GetNode("peer1.local")
	if !ok {
		t.Fatalf("expected peer1.local to be created")
	}
	if node.IPAddress != "192.168.1.10" {
		t.Fatalf("IPAddress = %q, want 192.168.1.10", node.IPAddress)
	}

	// Re-upserting the same node with the same IP should succeed.
	if err := r.UpsertNodeIP("peer1.local.", "192.168.1.10", u32(4500)); err != nil {
		t.Fatalf("re-upsert same IP: %v", err)
	}
}

func TestUpsertNodeIPConflict(t *testing.T) {
	r := New()
	if err := r.UpsertNodeIP("peer1.local.", "192.168.1.10", u32(4500)); err != nil {
		t.Fatalf("UpsertNodeIP(peer1): %v", err)
	}

	err := r.UpsertNodeIP("peer2.local.", "192.168.1.10", u32(4500))
	if err == nil {
		t.Fatalf("expected IP conflict error, got nil")
	}

	// peer1 must remain untouched; the conflicting peer2 must not have been created.
	if _, ok := r.GetNode("peer2.local"); ok {
		t.Fatalf("expected peer2.local to be rejected, but it was created")
	}
	node, ok := r.GetNode("peer1.local")
	if !ok || node.IPAddress != "192.168.1.10" {
		t.Fatalf("peer1.local was mutated by the conflicting upsert: %+v, ok=%v", node, ok)
	}
}

func TestAddNodeMerge(t *testing.T) {
	r := New()
	if err := r.AddNode(NodeRecord{ID: "node1.local", IPAddress: "0.0.0.0", TTL: u32(4500)}); err != nil {
		t.Fatalf("AddNode (create): %v", err)
	}

	node, ok := r.GetNode("node1.local")
	if !ok || node.IPAddress != "0.0.0.0" || node.TTL == nil || *node.TTL != 4500 {
		t.Fatalf("created node = %+v, ok=%v", node, ok)
	}

	if err := r.LinkServiceToNode(ServiceRecord{ID: "node1.local._beacon._tcp.local.", NodeID: "node1.local"}); err != nil {
		t.Fatalf("LinkServiceToNode: %v", err)
	}

	// Re-running AddNode with a real IP must replace the placeholder while
	// leaving the Services link intact, per mergeNode's union semantics.
	if err := r.AddNode(NodeRecord{ID: "node1.local", IPAddress: "10.0.0.5"}); err != nil {
		t.Fatalf("AddNode (refresh IP): %v", err)
	}

	node, ok = r.GetNode("node1.local")
	if !ok || node.IPAddress != "10.0.0.5" {
		t.Fatalf("refreshed node IP = %+v, ok=%v", node, ok)
	}
	if len(node.Services) != 1 || node.Services[0] != "node1.local._beacon._tcp.local." {
		t.Fatalf("Services lost across AddNode merge: %v", node.Services)
	}
	if node.TTL == nil || *node.TTL != 4500 {
		t.Fatalf("TTL lost across AddNode merge (incoming TTL was nil, existing should survive): %+v", node.TTL)
	}
}

func TestAddNodeEmptyID(t *testing.T) {
	r := New()
	if err := r.AddNode(NodeRecord{}); err == nil {
		t.Fatal("expected error for empty node id, got nil")
	}
}

func TestListServicesByNode(t *testing.T) {
	r := New()
	a := ServiceRecord{ID: "a.local._x._tcp.local.", Origin: "a.local.", NodeID: "a.local"}
	b := ServiceRecord{ID: "b.local._x._tcp.local.", Origin: "b.local.", NodeID: "b.local"}
	if err := r.AddService(a); err != nil {
		t.Fatalf("AddService(a): %v", err)
	}
	if err := r.AddService(b); err != nil {
		t.Fatalf("AddService(b): %v", err)
	}

	got := r.ListServicesByNode("a.local.")
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("ListServicesByNode(a.local.) = %v, want [%s]", got, a.ID)
	}
}
