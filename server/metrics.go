package server

import (
	"sync"
	"time"
)

// trendDays is the number of daily buckets reported by the dashboard.
const trendDays = 7

// Metrics keeps live detection counters for the lifetime of the process.
type Metrics struct {
	mu      sync.Mutex
	total   int
	real    int
	spoof   int
	failed  int
	elapsed time.Duration
	daily   map[string]*DailyStat
	now     func() time.Time
}

// Snapshot is the JSON view of the counters.
type Snapshot struct {
	TotalDetections  int `json:"totalDetections"`
	RealFaces        int `json:"realFaces"`
	SpoofAttempts    int `json:"spoofAttempts"`
	FailedDetections int `json:"failedDetections"`
	// AverageProcessingTime is expressed in milliseconds.
	AverageProcessingTime float64 `json:"averageProcessingTime"`
}

// DailyStat counts the decisions taken on a single day.
type DailyStat struct {
	Date  string `json:"date"`
	Real  int    `json:"real"`
	Spoof int    `json:"spoof"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		daily: make(map[string]*DailyStat),
		now:   time.Now,
	}
}

// Record accounts a successful decision.
func (m *Metrics) Record(isReal bool, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.elapsed += elapsed

	day := m.now().Format(time.DateOnly)
	stat, ok := m.daily[day]
	if !ok {
		stat = &DailyStat{Date: day}
		m.daily[day] = stat
	}
	if isReal {
		m.real++
		stat.Real++
	} else {
		m.spoof++
		stat.Spoof++
	}
}

// Fail accounts a request that did not produce a decision.
func (m *Metrics) Fail() {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		TotalDetections:  m.total,
		RealFaces:        m.real,
		SpoofAttempts:    m.spoof,
		FailedDetections: m.failed,
	}
	if m.total > 0 {
		s.AverageProcessingTime = float64(m.elapsed) / float64(m.total) / float64(time.Millisecond)
	}
	return s
}

// Trend returns one bucket per day for the last trendDays days, oldest first.
// Days without detections are reported with zero counts.
func (m *Metrics) Trend() []DailyStat {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.now()
	trend := make([]DailyStat, 0, trendDays)
	for i := trendDays - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i).Format(time.DateOnly)
		if stat, ok := m.daily[day]; ok {
			trend = append(trend, *stat)
		} else {
			trend = append(trend, DailyStat{Date: day})
		}
	}

	// Older buckets are never reported again.
	cutoff := today.AddDate(0, 0, -trendDays).Format(time.DateOnly)
	for day := range m.daily {
		if day <= cutoff {
			delete(m.daily, day)
		}
	}
	return trend
}
