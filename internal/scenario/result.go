package scenario

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"kvstorm/internal/fault"
	"kvstorm/internal/metrics"
)

// Result はシナリオ実行結果
type Result struct {
	ScenarioName string        `json:"scenario"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`

	// 負荷
	Counters *metrics.Snapshot `json:"counters,omitempty"`

	// フォールト
	Mode       string               `json:"mode,omitempty"`
	Episode    *fault.EpisodeReport `json:"episode,omitempty"`
	FaultError string               `json:"fault_error,omitempty"`
	FaultStats *fault.Stats         `json:"fault_stats,omitempty"`

	// 終了時のクラスタ
	FinalRecovery string `json:"final_recovery,omitempty"`
	FinalMembers  int    `json:"final_members,omitempty"`
	PausedMembers int    `json:"paused_members,omitempty"`
}

func comma(v uint64) string {
	return humanize.Comma(int64(v))
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	var b strings.Builder
	rule := strings.Repeat("=", 80)

	fmt.Fprintf(&b, "\n%s\n                         SCENARIO REPORT: %s\n%s\n\n", rule, r.ScenarioName, rule)

	fmt.Fprintf(&b, "EXECUTION SUMMARY\n-----------------\n")
	fmt.Fprintf(&b, "  Start Time:     %s\n", r.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "  End Time:       %s\n", r.EndTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "  Duration:       %v\n\n", r.Duration.Round(time.Millisecond))

	if c := r.Counters; c != nil {
		fmt.Fprintf(&b, "TRAFFIC METRICS\n---------------\n")
		fmt.Fprintf(&b, "  Operations:       %s\n", comma(c.Ops))
		fmt.Fprintf(&b, "  Transactions:     %s\n", comma(c.Transactions))
		fmt.Fprintf(&b, "  Reads / Ranges:   %s / %s\n", comma(c.Reads), comma(c.RangeReads))
		fmt.Fprintf(&b, "  Sets / Clears:    %s / %s (+%s range)\n", comma(c.Sets), comma(c.Clears), comma(c.RangeClears))
		fmt.Fprintf(&b, "  Retries:          %s\n", comma(c.Retries))
		fmt.Fprintf(&b, "  Ambiguous:        %s\n", comma(c.Ambiguous))
		fmt.Fprintf(&b, "  Abandoned:        %s\n", comma(c.Abandoned))
		fmt.Fprintf(&b, "  Avg Commit:       %v\n", c.AverageLatency().Round(time.Microsecond))
		fmt.Fprintf(&b, "  Throughput:       %s ops/s\n\n", comma(uint64(c.OverallOPS())))
	}

	if r.Episode != nil || r.FaultError != "" {
		fmt.Fprintf(&b, "FAULT EPISODE\n-------------\n")
		fmt.Fprintf(&b, "  Mode:             %s\n", r.Mode)
		if ep := r.Episode; ep != nil && ep.Window.ID != "" {
			fmt.Fprintf(&b, "  Window:           %s (%s, %v)\n", ep.Window.ID, ep.Window.Selector, ep.Window.Duration)
			fmt.Fprintf(&b, "  Targets:          %s\n", strings.Join(ep.Window.Targets, ", "))
			fmt.Fprintf(&b, "  Applied:          %d\n", len(ep.Window.Applied))
			fmt.Fprintf(&b, "  Healed:           %v\n", ep.Window.Healed)
			fmt.Fprintf(&b, "  Interrupted:      %v\n", ep.Interrupted)
			if cv := ep.Convergence; cv != nil {
				fmt.Fprintf(&b, "  Convergence:      %s after %v (%d polls)\n", cv.Outcome, cv.Elapsed.Round(time.Millisecond), cv.Polls)
				fmt.Fprintf(&b, "  Observed States:  %s\n", strings.Join(cv.Observed, " -> "))
			}
		}
		if r.FaultError != "" {
			fmt.Fprintf(&b, "  Error:            %s\n", r.FaultError)
		}
		b.WriteString("\n")
	}

	if r.FinalRecovery != "" {
		fmt.Fprintf(&b, "FINAL CLUSTER STATE\n-------------------\n")
		fmt.Fprintf(&b, "  Recovery State:   %s\n", r.FinalRecovery)
		fmt.Fprintf(&b, "  Members:          %d\n", r.FinalMembers)
		if r.PausedMembers > 0 {
			fmt.Fprintf(&b, "  Still Paused:     %d\n", r.PausedMembers)
		}
		b.WriteString("\n")
	}

	b.WriteString(rule)
	return b.String()
}
