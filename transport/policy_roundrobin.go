package transport

import (
	"sync"
	"sync/atomic"

	"github.com/scylladb/scylla-go-driver/protocol"
)

// RoundRobinPolicy hands out hosts in rotating order, advancing its offset
// by one for every plan produced so concurrent requests fan out evenly. It
// adapts the rotating-offset iterator the teacher's transport/node.go used
// for ring traversal (replicaIter), generalized from a token ring to a flat
// host list since this spec has no notion of token ownership.
type RoundRobinPolicy struct {
	mu     sync.RWMutex
	hosts  []Host
	offset uint64
}

// NewRoundRobinPolicy returns a policy with no known hosts; hosts are added
// as the topology listener learns about them.
func NewRoundRobinPolicy() *RoundRobinPolicy {
	return &RoundRobinPolicy{}
}

func (p *RoundRobinPolicy) AddHost(host Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range p.hosts {
		if h == host {
			return
		}
	}
	p.hosts = append(p.hosts, host)
}

func (p *RoundRobinPolicy) RemoveHost(host Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, h := range p.hosts {
		if h == host {
			p.hosts = append(p.hosts[:i], p.hosts[i+1:]...)
			return
		}
	}
}

func (p *RoundRobinPolicy) Distance(Host) Distance { return DistanceLocal }

func (p *RoundRobinPolicy) Plan(_ string, _ protocol.Statement, _ protocol.Options) Plan {
	p.mu.RLock()
	hosts := make([]Host, len(p.hosts))
	copy(hosts, p.hosts)
	p.mu.RUnlock()

	offset := atomic.AddUint64(&p.offset, 1)
	return &rotatingPlan{hosts: hosts, offset: int(offset % uint64(max(1, len(hosts))))}
}

type rotatingPlan struct {
	hosts   []Host
	offset  int
	fetched int
}

func (p *rotatingPlan) Next() (Host, bool) {
	if p.fetched >= len(p.hosts) {
		return Host{}, false
	}
	h := p.hosts[p.offset]
	p.offset = (p.offset + 1) % len(p.hosts)
	p.fetched++
	return h, true
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// DCAwareRoundRobinPolicy prefers hosts in localDC, falling back to remote
// hosts only after every local host has been tried. It is the other
// constructor the teacher's session.go names (NewDCAwareRoundRobinPolicy).
type DCAwareRoundRobinPolicy struct {
	localDC string
	mu      sync.RWMutex
	local   []Host
	remote  []Host
	offset  uint64
}

// NewDCAwareRoundRobinPolicy returns a policy that treats localDC as local
// and everything else as remote.
func NewDCAwareRoundRobinPolicy(localDC string) *DCAwareRoundRobinPolicy {
	return &DCAwareRoundRobinPolicy{localDC: localDC}
}

func (p *DCAwareRoundRobinPolicy) AddHost(host Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bucket := &p.remote
	if host.Datacenter == p.localDC {
		bucket = &p.local
	}
	for _, h := range *bucket {
		if h == host {
			return
		}
	}
	*bucket = append(*bucket, host)
}

func (p *DCAwareRoundRobinPolicy) RemoveHost(host Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	removeHost(&p.local, host)
	removeHost(&p.remote, host)
}

func removeHost(hosts *[]Host, host Host) {
	for i, h := range *hosts {
		if h == host {
			*hosts = append((*hosts)[:i], (*hosts)[i+1:]...)
			return
		}
	}
}

func (p *DCAwareRoundRobinPolicy) Distance(host Host) Distance {
	if host.Datacenter == p.localDC {
		return DistanceLocal
	}
	return DistanceRemote
}

func (p *DCAwareRoundRobinPolicy) Plan(_ string, _ protocol.Statement, _ protocol.Options) Plan {
	p.mu.RLock()
	local := make([]Host, len(p.local))
	copy(local, p.local)
	remote := make([]Host, len(p.remote))
	copy(remote, p.remote)
	p.mu.RUnlock()

	offset := atomic.AddUint64(&p.offset, 1)
	return &dcAwarePlan{
		local:       &rotatingPlan{hosts: local, offset: int(offset % uint64(max(1, len(local))))},
		remote:      &rotatingPlan{hosts: remote, offset: int(offset % uint64(max(1, len(remote))))},
	}
}

type dcAwarePlan struct {
	local  *rotatingPlan
	remote *rotatingPlan
}

func (p *dcAwarePlan) Next() (Host, bool) {
	if h, ok := p.local.Next(); ok {
		return h, true
	}
	return p.remote.Next()
}
