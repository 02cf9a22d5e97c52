package transport

import (
	"sync"

	"github.com/hailocab/go-hostpool"
	"github.com/scylladb/scylla-go-driver/protocol"
)

// planFeedback is an optional extension a Plan may implement to learn the
// outcome of each host it handed out. The dispatcher reports into it when
// present (via a type assertion) but never requires it — it has no place in
// the external LoadBalancingPolicy contract (§6), it's purely how
// HostPoolPolicy's plans feed results back into the underlying epsilon-greedy
// selector.
type planFeedback interface {
	report(host Host, err error)
}

// HostPoolPolicy drives host selection with github.com/hailocab/go-hostpool's
// epsilon-greedy performance-weighted selector instead of plain round robin —
// the same library the real upstream gocql.HostPoolHostPolicy is built on.
type HostPoolPolicy struct {
	mu    sync.RWMutex
	hosts map[string]Host
	hp    hostpool.HostPool
}

// NewHostPoolPolicy returns a policy with no known hosts yet.
func NewHostPoolPolicy() *HostPoolPolicy {
	return &HostPoolPolicy{
		hosts: make(map[string]Host),
		hp:    hostpool.New(nil),
	}
}

func (p *HostPoolPolicy) AddHost(host Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.hosts[host.Addr]; ok {
		return
	}
	p.hosts[host.Addr] = host
	p.hp.SetHosts(p.addrsLocked())
}

func (p *HostPoolPolicy) RemoveHost(host Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.hosts, host.Addr)
	p.hp.SetHosts(p.addrsLocked())
}

func (p *HostPoolPolicy) addrsLocked() []string {
	addrs := make([]string, 0, len(p.hosts))
	for a := range p.hosts {
		addrs = append(addrs, a)
	}
	return addrs
}

func (p *HostPoolPolicy) Distance(Host) Distance { return DistanceLocal }

func (p *HostPoolPolicy) Plan(_ string, _ protocol.Statement, _ protocol.Options) Plan {
	p.mu.RLock()
	remaining := len(p.hosts)
	p.mu.RUnlock()
	return &hostPoolPlan{policy: p, remaining: remaining}
}

type hostPoolPlan struct {
	policy    *HostPoolPolicy
	remaining int
	last      hostpool.HostPoolResponse
}

func (pl *hostPoolPlan) Next() (Host, bool) {
	if pl.remaining <= 0 {
		return Host{}, false
	}
	pl.remaining--

	pl.policy.mu.RLock()
	resp := pl.policy.hp.Get()
	h, ok := pl.policy.hosts[resp.Host()]
	pl.policy.mu.RUnlock()
	pl.last = resp

	if !ok {
		return Host{}, false
	}
	return h, true
}

func (pl *hostPoolPlan) report(_ Host, err error) {
	if pl.last != nil {
		pl.last.Mark(err)
	}
}
