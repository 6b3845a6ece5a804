package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_Snapshot(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, Snapshot{}, m.Snapshot())

	m.Record(true, 100*time.Millisecond)
	m.Record(false, 300*time.Millisecond)
	m.Fail()

	assert.Equal(t, Snapshot{
		TotalDetections:       2,
		RealFaces:             1,
		SpoofAttempts:         1,
		FailedDetections:      1,
		AverageProcessingTime: 200,
	}, m.Snapshot())
}

func TestMetrics_Trend(t *testing.T) {
	assert := assert.New(t)

	now := time.Date(2025, 2, 12, 10, 0, 0, 0, time.UTC)
	m := NewMetrics()
	m.now = func() time.Time { return now.AddDate(0, 0, -10) }
	m.Record(true, time.Millisecond)
	m.now = func() time.Time { return now.AddDate(0, 0, -1) }
	m.Record(false, time.Millisecond)
	m.now = func() time.Time { return now }
	m.Record(true, time.Millisecond)
	m.Record(true, time.Millisecond)

	trend := m.Trend()
	assert.Len(trend, trendDays)
	assert.Equal(DailyStat{Date: "2025-02-06"}, trend[0])
	assert.Equal(DailyStat{Date: "2025-02-11", Spoof: 1}, trend[5])
	assert.Equal(DailyStat{Date: "2025-02-12", Real: 2}, trend[6])

	// The bucket from ten days ago has been pruned.
	assert.Len(m.daily, 2)
}
