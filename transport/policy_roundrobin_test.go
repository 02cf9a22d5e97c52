package transport

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/scylladb/scylla-go-driver/protocol"
)

func hostsOf(t *testing.T, p Plan) []Host {
	t.Helper()
	var out []Host
	for {
		h, ok := p.Next()
		if !ok {
			return out
		}
		out = append(out, h)
	}
}

func TestRoundRobinPolicyRotatesThroughAllHosts(t *testing.T) {
	p := NewRoundRobinPolicy()
	h1 := Host{Addr: "h1"}
	h2 := Host{Addr: "h2"}
	h3 := Host{Addr: "h3"}
	p.AddHost(h1)
	p.AddHost(h2)
	p.AddHost(h3)

	plan := p.Plan("", protocol.Statement{}, protocol.Options{})
	got := hostsOf(t, plan)
	if len(got) != 3 {
		t.Fatalf("got %d hosts, want 3", len(got))
	}
	want := map[Host]struct{}{h1: {}, h2: {}, h3: {}}
	for _, h := range got {
		if _, ok := want[h]; !ok {
			t.Errorf("unexpected host %v in plan", h)
		}
		delete(want, h)
	}
	if len(want) != 0 {
		t.Errorf("plan missed hosts: %v", want)
	}
}

func TestRoundRobinPolicyRemoveHost(t *testing.T) {
	p := NewRoundRobinPolicy()
	h1 := Host{Addr: "h1"}
	h2 := Host{Addr: "h2"}
	p.AddHost(h1)
	p.AddHost(h2)
	p.RemoveHost(h1)

	got := hostsOf(t, p.Plan("", protocol.Statement{}, protocol.Options{}))
	if diff := cmp.Diff([]Host{h2}, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("plan after remove (-want +got):\n%s", diff)
	}
}

func TestDCAwareRoundRobinPolicyPrefersLocal(t *testing.T) {
	p := NewDCAwareRoundRobinPolicy("dc1")
	local := Host{Addr: "local", Datacenter: "dc1"}
	remote := Host{Addr: "remote", Datacenter: "dc2"}
	p.AddHost(remote)
	p.AddHost(local)

	got := hostsOf(t, p.Plan("", protocol.Statement{}, protocol.Options{}))
	if len(got) != 2 || got[0] != local || got[1] != remote {
		t.Errorf("plan = %v, want [local, remote]", got)
	}

	if d := p.Distance(local); d != DistanceLocal {
		t.Errorf("Distance(local) = %v, want DistanceLocal", d)
	}
	if d := p.Distance(remote); d != DistanceRemote {
		t.Errorf("Distance(remote) = %v, want DistanceRemote", d)
	}
}

func TestRoundRobinPolicyEmptyPlanYieldsNoHosts(t *testing.T) {
	p := NewRoundRobinPolicy()
	plan := p.Plan("", protocol.Statement{}, protocol.Options{})
	if _, ok := plan.Next(); ok {
		t.Fatalf("Next() on empty policy plan returned a host")
	}
}
