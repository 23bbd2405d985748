// Package clustertest provides a scripted cluster.Probe for tests.
package clustertest

import (
	"context"
	"sync"
	"time"

	"kvstorm/internal/cluster"
)

// Step is one scripted probe response.
type Step struct {
	Recovery cluster.RecoveryState
	Err      error
}

// ScriptedProbe replays steps in order and repeats the last one forever.
type ScriptedProbe struct {
	mu      sync.Mutex
	members map[string]cluster.Member
	steps   []Step
	calls   int
}

var _ cluster.Probe = (*ScriptedProbe)(nil)

// NewScriptedProbe creates a probe reporting members and the given steps.
func NewScriptedProbe(members []cluster.Member, steps ...Step) *ScriptedProbe {
	p := &ScriptedProbe{members: make(map[string]cluster.Member, len(members))}
	for _, m := range members {
		p.members[m.ID] = m
	}
	p.steps = steps
	return p
}

// Recovered is a step reporting a fully recovered cluster.
func Recovered() Step {
	return Step{Recovery: cluster.RecoveryState{Name: cluster.RecoveryFullyRecovered, ActiveGenerations: 1}}
}

// Recovering is a step reporting a cluster still recovering.
func Recovering(name string, lag float64) Step {
	return Step{Recovery: cluster.RecoveryState{Name: name, ActiveGenerations: 2, Lag: lag}}
}

// Append adds steps to the end of the script.
func (p *ScriptedProbe) Append(steps ...Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, steps...)
}

// Calls returns how many times Snapshot has been called.
func (p *ScriptedProbe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Snapshot implements cluster.Probe.
func (p *ScriptedProbe) Snapshot(ctx context.Context) (*cluster.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	step := Recovered()
	if len(p.steps) > 0 {
		i := p.calls
		if i >= len(p.steps) {
			i = len(p.steps) - 1
		}
		step = p.steps[i]
	}
	p.calls++
	if step.Err != nil {
		return nil, step.Err
	}

	members := make(map[string]cluster.Member, len(p.members))
	for id, m := range p.members {
		members[id] = m
	}
	return &cluster.Snapshot{
		Members:  members,
		Recovery: step.Recovery,
		TakenAt:  time.Now(),
	}, nil
}
