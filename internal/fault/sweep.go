package fault

import (
	"context"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"kvstorm/internal/logger"
)

// Sweep は過去の実行が残したマーカー付きルールをすべて削除する
// プロセスが異常終了した後の掃除に使う
func (s *PartitionStrategy) Sweep(ctx context.Context) (int, error) {
	lines, err := s.rules.List(s.cfg.Table, s.cfg.Chain)
	if err != nil {
		return 0, errors.Wrapf(err, "list %s/%s", s.cfg.Table, s.cfg.Chain)
	}

	removed := 0
	var result *multierror.Error
	for _, line := range lines {
		spec, ok := markedRuleSpec(line, s.cfg.Chain)
		if !ok {
			continue
		}
		err := s.withRetry(ctx, func() error {
			return s.rules.Delete(s.cfg.Table, s.cfg.Chain, spec...)
		})
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "delete %s", line))
			continue
		}
		removed++
	}

	logger.Info("", "Sweep removed %d marked rules from %s/%s", removed, s.cfg.Table, s.cfg.Chain)
	return removed, result.ErrorOrNil()
}

// markedRuleSpec は "-A CHAIN ..." 形式の行からルール指定を取り出す
// マーカー付きでない行は ok=false
func markedRuleSpec(line, chain string) ([]string, bool) {
	fields := splitRuleLine(line)
	if len(fields) < 3 || fields[0] != "-A" || fields[1] != chain {
		return nil, false
	}
	spec := fields[2:]
	for i := 0; i < len(spec)-1; i++ {
		if spec[i] == "--comment" && strings.HasPrefix(spec[i+1], MarkerPrefix) {
			return spec, true
		}
	}
	return nil, false
}

// splitRuleLine は iptables -S の出力をダブルクォートを考慮して分割する
func splitRuleLine(line string) []string {
	var (
		fields  []string
		cur     strings.Builder
		quoted  bool
		inField bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			inField = true
		case r == ' ' && !quoted:
			if inField {
				fields = append(fields, cur.String())
				cur.Reset()
				inField = false
			}
		default:
			cur.WriteRune(r)
			inField = true
		}
	}
	if inField {
		fields = append(fields, cur.String())
	}
	return fields
}
