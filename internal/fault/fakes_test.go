package fault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"kvstorm/internal/cluster"
	"kvstorm/internal/locator"
)

type fakeHandle struct {
	id        string
	mu        sync.Mutex
	calls     []string
	pauseErr  error
	resumeErr error
	panicMsg  string
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panicMsg != "" {
		panic(h.panicMsg)
	}
	if h.pauseErr != nil {
		return h.pauseErr
	}
	h.calls = append(h.calls, "pause")
	return nil
}

func (h *fakeHandle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "resume")
	return h.resumeErr
}

// panicStrategy はパニックするだけの戦略
type panicStrategy struct{}

func (panicStrategy) Mode() Mode { return ModePause }

func (panicStrategy) Apply(context.Context, string, TargetSet) (Applied, error) {
	panic("rule table corrupted")
}

func (h *fakeHandle) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

type fakeLocator struct {
	targets []locator.Target
	err     error
}

func (l *fakeLocator) MembersInLocality(_ context.Context, sel cluster.Selector) ([]locator.Target, error) {
	return l.targets, l.err
}

type lockError struct{}

func (lockError) Error() string { return "exit status 4: Another app is currently holding the xtables lock" }

type fakeRuleTable struct {
	mu        sync.Mutex
	rules     []string
	deleted   []string
	lockFails int
	failOn    string
}

func key(table, chain string, spec []string) string {
	return table + "/" + chain + " " + strings.Join(spec, " ")
}

func (f *fakeRuleTable) Exists(table, chain string, spec ...string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(table, chain, spec)
	for _, r := range f.rules {
		if r == k {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRuleTable) Append(table, chain string, spec ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockFails > 0 {
		f.lockFails--
		return lockError{}
	}
	k := key(table, chain, spec)
	if f.failOn != "" && strings.Contains(k, f.failOn) {
		return errors.New("exit status 1: bad rule")
	}
	f.rules = append(f.rules, k)
	return nil
}

func (f *fakeRuleTable) Delete(table, chain string, spec ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(table, chain, spec)
	for i, r := range f.rules {
		if r == k {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			f.deleted = append(f.deleted, k)
			return nil
		}
	}
	return fmt.Errorf("exit status 1: no such rule %q", k)
}

func (f *fakeRuleTable) List(table, chain string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := table + "/" + chain + " "
	lines := []string{"-P " + chain + " ACCEPT"}
	for _, r := range f.rules {
		if !strings.HasPrefix(r, prefix) {
			continue
		}
		spec := strings.TrimPrefix(r, prefix)
		spec = strings.Replace(spec, "--comment "+MarkerPrefix, `--comment "`+MarkerPrefix, 1)
		if strings.Contains(spec, `"`+MarkerPrefix) {
			spec = strings.Replace(spec, " -j ", `" -j `, 1)
		}
		lines = append(lines, "-A "+chain+" "+spec)
	}
	return lines, nil
}

func (f *fakeRuleTable) Rules() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.rules...)
}

func twoDCMembers() []cluster.Member {
	return []cluster.Member{
		{ID: "a1", Address: "127.0.0.1:4500", Locality: map[string]string{"dcid": "dc1"}},
		{ID: "b1", Address: "127.0.0.1:4501", Locality: map[string]string{"dcid": "dc2"}},
		{ID: "b2", Address: "127.0.0.1:4502", Locality: map[string]string{"dcid": "dc2"}},
	}
}
