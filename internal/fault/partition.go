package fault

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/coreos/go-iptables/iptables"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"kvstorm/internal/cluster"
	"kvstorm/internal/logger"
)

const (
	// MarkerPrefix はこのツールが挿入したルールのコメント接頭辞
	MarkerPrefix = "kvstorm:"

	DefaultTable = "filter"
	DefaultChain = "INPUT"

	// xtables のロック競合時の終了コード
	exitResourceProblem = 4
)

// RuleTable はパケットフィルタのルール操作（*iptables.IPTables が満たす）
type RuleTable interface {
	Exists(table, chain string, rulespec ...string) (bool, error)
	Append(table, chain string, rulespec ...string) error
	Delete(table, chain string, rulespec ...string) error
	List(table, chain string) ([]string, error)
}

var _ RuleTable = (*iptables.IPTables)(nil)

// NewIPTables はIPv4のiptablesハンドルを作成する
func NewIPTables() (RuleTable, error) {
	ipt, err := iptables.New(iptables.IPFamily(iptables.ProtocolIPv4), iptables.Timeout(5))
	if err != nil {
		return nil, errors.Wrap(err, "iptables")
	}
	return ipt, nil
}

// PartitionConfig は PartitionStrategy の設定
type PartitionConfig struct {
	Table         string
	Chain         string
	RetryAttempts uint
	RetryDelay    time.Duration
}

// PartitionStrategy はロケーリティ間のTCP通信を双方向に遮断する
type PartitionStrategy struct {
	rules RuleTable
	cfg   PartitionConfig
}

var _ Strategy = (*PartitionStrategy)(nil)

// NewPartitionStrategy は新しいPartitionStrategyを作成する
func NewPartitionStrategy(rules RuleTable, cfg PartitionConfig) *PartitionStrategy {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Chain == "" {
		cfg.Chain = DefaultChain
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	return &PartitionStrategy{rules: rules, cfg: cfg}
}

// Mode implements Strategy
func (s *PartitionStrategy) Mode() Mode {
	return ModePartition
}

// Marker はウィンドウIDからルールのコメントを作る
func Marker(windowID string) string {
	return MarkerPrefix + windowID
}

// DropRule は sport→dport のTCPを落とすルールを返す
func DropRule(sport, dport int, marker string) []string {
	return []string{
		"-p", "tcp",
		"--sport", strconv.Itoa(sport),
		"--dport", strconv.Itoa(dport),
		"-m", "comment", "--comment", marker,
		"-j", "DROP",
	}
}

// Apply implements Strategy
func (s *PartitionStrategy) Apply(ctx context.Context, windowID string, set TargetSet) (Applied, error) {
	inside := memberPorts(set.Selected)
	outside := memberPorts(set.Others)
	marker := Marker(windowID)

	installed := &installedRules{strategy: s}
	var result *multierror.Error
	skipped := 0

	for _, a := range inside {
		for _, b := range outside {
			for _, spec := range [][]string{DropRule(a, b, marker), DropRule(b, a, marker)} {
				if err := ctx.Err(); err != nil {
					result = multierror.Append(result, err)
					return s.finish(installed, result, skipped)
				}
				exists, err := s.rules.Exists(s.cfg.Table, s.cfg.Chain, spec...)
				if err == nil && exists {
					// 既存のルールは自分のものではないので記録しない
					skipped++
					continue
				}
				if err := s.withRetry(ctx, func() error {
					return s.rules.Append(s.cfg.Table, s.cfg.Chain, spec...)
				}); err != nil {
					result = multierror.Append(result, errors.Wrapf(err, "append %s", strings.Join(spec, " ")))
					continue
				}
				installed.specs = append(installed.specs, spec)
			}
		}
	}
	return s.finish(installed, result, skipped)
}

func (s *PartitionStrategy) finish(installed *installedRules, result *multierror.Error, skipped int) (Applied, error) {
	logger.Info("", "Partition installed %d rules in %s/%s (%d already present)",
		installed.Count(), s.cfg.Table, s.cfg.Chain, skipped)

	if installed.Count() == 0 && result.ErrorOrNil() != nil {
		return nil, errors.Wrap(ErrNothingApplied, result.Error())
	}
	if installed.Count() == 0 && skipped == 0 {
		return nil, errors.Wrap(ErrNothingApplied, "no port pairs between the partition groups")
	}
	return installed, result.ErrorOrNil()
}

func (s *PartitionStrategy) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(s.cfg.RetryAttempts),
		retry.Delay(s.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isLockContention),
	)
}

func isLockContention(err error) bool {
	var ipErr *iptables.Error
	if errors.As(err, &ipErr) {
		return ipErr.ExitStatus() == exitResourceProblem
	}
	return strings.Contains(err.Error(), "exit status 4")
}

func memberPorts(members []cluster.Member) []int {
	ports := make([]int, 0, len(members))
	for _, m := range members {
		p, err := m.Port()
		if err != nil {
			logger.Warn(m.ID, "Skipping member with unparsable address %q", m.Address)
			continue
		}
		ports = append(ports, p)
	}
	return ports
}

type installedRules struct {
	strategy *PartitionStrategy
	specs    [][]string
}

// Heal deletes rules in reverse order of insertion.
func (r *installedRules) Heal(ctx context.Context) error {
	s := r.strategy
	var result *multierror.Error
	for i := len(r.specs) - 1; i >= 0; i-- {
		spec := r.specs[i]
		err := s.withRetry(ctx, func() error {
			return s.rules.Delete(s.cfg.Table, s.cfg.Chain, spec...)
		})
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "delete %s", strings.Join(spec, " ")))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		logger.Error("", "Partition heal left %d rules behind", len(result.Errors))
		return err
	}
	logger.Info("", "Partition removed %d rules", len(r.specs))
	return nil
}

func (r *installedRules) Count() int {
	return len(r.specs)
}

func (r *installedRules) Items() []string {
	items := make([]string, len(r.specs))
	for i, spec := range r.specs {
		items[i] = strings.Join(spec, " ")
	}
	return items
}
