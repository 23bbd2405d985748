package fault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvstorm/internal/cluster/clustertest"
)

func partitionSet() TargetSet {
	members := twoDCMembers()
	return TargetSet{
		Selector: dc2,
		Selected: members[1:],
		Others:   members[:1],
	}
}

func TestDropRule(t *testing.T) {
	assert.Equal(t,
		[]string{"-p", "tcp", "--sport", "4500", "--dport", "4501", "-m", "comment", "--comment", "kvstorm:w1", "-j", "DROP"},
		DropRule(4500, 4501, Marker("w1")))
}

func TestPartitionApplyAndHeal(t *testing.T) {
	table := &fakeRuleTable{}
	s := NewPartitionStrategy(table, PartitionConfig{RetryDelay: time.Millisecond})

	applied, err := s.Apply(context.Background(), "w1", partitionSet())
	require.NoError(t, err)
	assert.Equal(t, 4, applied.Count(), "two inside ports x one outside port x both directions")

	rules := table.Rules()
	require.Len(t, rules, 4)
	assert.Contains(t, rules[0], "--sport 4501 --dport 4500")
	assert.Contains(t, rules[1], "--sport 4500 --dport 4501")
	for _, r := range rules {
		assert.Contains(t, r, "filter/INPUT ")
		assert.Contains(t, r, "--comment kvstorm:w1")
	}

	require.NoError(t, applied.Heal(context.Background()))
	assert.Empty(t, table.Rules(), "no trace remains after heal")
	require.Len(t, table.deleted, 4)
	assert.Equal(t, rules[3], table.deleted[0], "rules are removed in reverse order")
	assert.Equal(t, rules[0], table.deleted[3])
}

func TestPartitionSkipsExistingRules(t *testing.T) {
	foreign := key(DefaultTable, DefaultChain, DropRule(4501, 4500, Marker("w1")))
	table := &fakeRuleTable{rules: []string{foreign}}
	s := NewPartitionStrategy(table, PartitionConfig{})

	applied, err := s.Apply(context.Background(), "w1", partitionSet())
	require.NoError(t, err)
	assert.Equal(t, 3, applied.Count())

	require.NoError(t, applied.Heal(context.Background()))
	assert.Equal(t, []string{foreign}, table.Rules(), "pre-existing rule is left alone")
}

func TestPartitionRetriesLockContention(t *testing.T) {
	table := &fakeRuleTable{lockFails: 2}
	s := NewPartitionStrategy(table, PartitionConfig{RetryAttempts: 3, RetryDelay: time.Millisecond})

	applied, err := s.Apply(context.Background(), "w2", partitionSet())
	require.NoError(t, err)
	assert.Equal(t, 4, applied.Count())
}

func TestPartitionToleratesPartialFailure(t *testing.T) {
	table := &fakeRuleTable{failOn: "--dport 4502"}
	s := NewPartitionStrategy(table, PartitionConfig{RetryDelay: time.Millisecond})

	applied, err := s.Apply(context.Background(), "w3", partitionSet())
	require.Error(t, err)
	require.NotNil(t, applied)
	assert.Equal(t, 3, applied.Count())

	require.NoError(t, applied.Heal(context.Background()))
	assert.Empty(t, table.Rules())
}

func TestPartitionNothingToPartition(t *testing.T) {
	s := NewPartitionStrategy(&fakeRuleTable{}, PartitionConfig{})
	set := partitionSet()
	set.Others = nil

	_, err := s.Apply(context.Background(), "w4", set)
	assert.ErrorIs(t, err, ErrNothingApplied)
}

func TestPartitionEpisodeThroughController(t *testing.T) {
	table := &fakeRuleTable{}
	probe := clustertest.NewScriptedProbe(twoDCMembers())
	ctrl := NewController(probe, NewPartitionStrategy(table, PartitionConfig{}), fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	report, err := ctrl.RunEpisode(ctx, EpisodePlan{Selector: dc2, Duration: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "partition", report.Window.Mode)
	assert.Len(t, report.Window.Applied, 4)
	assert.Empty(t, table.Rules(), "interrupted window is still healed")
}

func TestSweep(t *testing.T) {
	foreign := key(DefaultTable, DefaultChain, []string{"-p", "tcp", "--dport", "22", "-j", "ACCEPT"})
	table := &fakeRuleTable{rules: []string{
		key(DefaultTable, DefaultChain, DropRule(1, 2, Marker("old1"))),
		foreign,
		key(DefaultTable, DefaultChain, DropRule(2, 1, Marker("old2"))),
	}}
	s := NewPartitionStrategy(table, PartitionConfig{})

	removed, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{foreign}, table.Rules())
}

func TestMarkedRuleSpec(t *testing.T) {
	spec, ok := markedRuleSpec(`-A INPUT -p tcp -m tcp --sport 4500 --dport 4501 -m comment --comment "kvstorm:ab12" -j DROP`, "INPUT")
	require.True(t, ok)
	assert.Equal(t, []string{"-p", "tcp", "-m", "tcp", "--sport", "4500", "--dport", "4501",
		"-m", "comment", "--comment", "kvstorm:ab12", "-j", "DROP"}, spec)

	_, ok = markedRuleSpec(`-A INPUT -m comment --comment "other tool" -j DROP`, "INPUT")
	assert.False(t, ok)
	_, ok = markedRuleSpec(`-A OUTPUT -m comment --comment "kvstorm:ab12" -j DROP`, "INPUT")
	assert.False(t, ok)
	_, ok = markedRuleSpec(`-P INPUT ACCEPT`, "INPUT")
	assert.False(t, ok)
}

func TestSplitRuleLine(t *testing.T) {
	assert.Equal(t, []string{"-A", "X", "--comment", "two words", "-j", "DROP"},
		splitRuleLine(`-A X --comment "two words" -j DROP`))
	assert.Equal(t, []string{"a", ""}, splitRuleLine(`a ""`))
}
