// Package report decides when transfer progress is surfaced: send/receive
// status callbacks to the application and success REPORT requests to the peer.
//
// A Mechanism is injected per session (and may be overridden per message); the
// engine consults it after every chunk with the running byte counter.
package report

import "fmt"

// UnknownTotal is the total passed for messages whose size is not yet known.
const UnknownTotal int64 = -1

// DefaultGranularity is the byte interval used when the total is unknown.
const DefaultGranularity int64 = 1024

// DefaultPercent is the milestone step used when the total is known.
const DefaultPercent = 10

// Mechanism is the reporting policy.
type Mechanism interface {
	// TriggerGranularity returns the byte interval between status callbacks
	// for messages whose total size is unknown.
	TriggerGranularity() int64

	// ShouldTriggerSentHook reports whether a status callback fires now, given
	// the total size (or UnknownTotal), the counter value at the previous
	// callback and the current counter.
	ShouldTriggerSentHook(total, last, current int64) bool

	// ShouldGenerateReport reports whether a success REPORT is sent now for an
	// incoming message that requested one. A REPORT is always sent at
	// completion regardless of this answer.
	ShouldGenerateReport(total, last, current int64) bool
}

// Default fires status callbacks at every Percent milestone of a known total,
// or every Granularity bytes otherwise. Intermediate success REPORTs are sent
// at ReportPercent milestones; zero disables them so only the final REPORT goes out.
type Default struct {
	Percent       int
	Granularity   int64
	ReportPercent int
}

// NewDefault returns the default mechanism: 10% milestones, 1024-byte
// granularity, REPORT at completion only.
func NewDefault() *Default {
	return &Default{Percent: DefaultPercent, Granularity: DefaultGranularity}
}

// Validate checks the configured steps.
func (d *Default) Validate() error {
	if d.Percent <= 0 || d.Percent > 100 {
		return fmt.Errorf("report percent %d not in (0, 100]", d.Percent)
	}
	if d.Granularity <= 0 {
		return fmt.Errorf("report granularity %d must be positive", d.Granularity)
	}
	if d.ReportPercent < 0 || d.ReportPercent > 100 {
		return fmt.Errorf("report milestone %d not in [0, 100]", d.ReportPercent)
	}
	return nil
}

// TriggerGranularity implements Mechanism.
func (d *Default) TriggerGranularity() int64 {
	return d.Granularity
}

// ShouldTriggerSentHook implements Mechanism.
func (d *Default) ShouldTriggerSentHook(total, last, current int64) bool {
	if current <= last {
		return false
	}
	if total == UnknownTotal {
		return crossed(last, current, d.Granularity)
	}
	if current >= total {
		return true
	}
	return crossedPercent(total, last, current, d.Percent)
}

// ShouldGenerateReport implements Mechanism.
func (d *Default) ShouldGenerateReport(total, last, current int64) bool {
	if d.ReportPercent == 0 || current <= last {
		return false
	}
	if total == UnknownTotal {
		return crossed(last, current, d.Granularity)
	}
	return crossedPercent(total, last, current, d.ReportPercent)
}

// crossed reports whether a multiple of step lies in (last, current].
func crossed(last, current, step int64) bool {
	return current/step > last/step
}

func crossedPercent(total, last, current int64, percent int) bool {
	if total <= 0 {
		return current > last
	}
	step := total * int64(percent) / 100
	if step == 0 {
		step = 1
	}
	return crossed(last, current, step)
}
