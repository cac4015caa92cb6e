package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var _ Mechanism = (*Default)(nil)

func TestDefaultSentHookKnownTotal(t *testing.T) {
	d := NewDefault()
	const total = 1000

	var fired []int64
	last := int64(0)
	for current := int64(50); current <= total; current += 50 {
		if d.ShouldTriggerSentHook(total, last, current) {
			fired = append(fired, current)
			last = current
		}
	}
	assert.Equal(t, []int64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}, fired)
}

func TestDefaultSentHookUnknownTotal(t *testing.T) {
	d := NewDefault()
	assert.Equal(t, DefaultGranularity, d.TriggerGranularity())

	assert.False(t, d.ShouldTriggerSentHook(UnknownTotal, 0, 1023))
	assert.True(t, d.ShouldTriggerSentHook(UnknownTotal, 0, 1024))
	assert.False(t, d.ShouldTriggerSentHook(UnknownTotal, 1024, 2000))
	assert.True(t, d.ShouldTriggerSentHook(UnknownTotal, 1024, 5000))
}

func TestDefaultSentHookCompletionAlwaysFires(t *testing.T) {
	d := NewDefault()
	assert.True(t, d.ShouldTriggerSentHook(7, 0, 7))
	assert.False(t, d.ShouldTriggerSentHook(7, 7, 7))
}

func TestDefaultReportsOnlyWhenConfigured(t *testing.T) {
	d := NewDefault()
	assert.False(t, d.ShouldGenerateReport(1000, 0, 600))

	d.ReportPercent = 50
	assert.False(t, d.ShouldGenerateReport(1000, 0, 400))
	assert.True(t, d.ShouldGenerateReport(1000, 0, 500))
	assert.False(t, d.ShouldGenerateReport(1000, 500, 900))
}

func TestDefaultValidate(t *testing.T) {
	assert.NoError(t, NewDefault().Validate())
	assert.Error(t, (&Default{Percent: 0, Granularity: 1}).Validate())
	assert.Error(t, (&Default{Percent: 10, Granularity: 0}).Validate())
	assert.Error(t, (&Default{Percent: 10, Granularity: 1, ReportPercent: 101}).Validate())
}

func TestSmallTotalsStillProgress(t *testing.T) {
	d := NewDefault()
	assert.True(t, d.ShouldTriggerSentHook(5, 0, 1))
}
