package heartbeat

import (
	"sort"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

//go:generate mockgen -destination=mock_sink.go -package=heartbeat -write_package_comment=false . Sink

var Logger = logger.GetLogger("lib/heartbeat")

// Sink receives liveness reports
type Sink interface {
	// Send reports that source is alive and will report again within margin
	Send(source string, margin time.Duration)
	// Suspend reports that source stops reporting on purpose
	Suspend(source string)
}

// Nop is a Sink that discards every report
type Nop struct{}

func (Nop) Send(string, time.Duration) {}
func (Nop) Suspend(string) {}

// Monitor is a Sink that keeps the deadline of every source
type Monitor struct {
	deadlines *xsync.MapOf[string, time.Time]
	now       func() time.Time
}

// NewMonitor creates an empty monitor
func NewMonitor() *Monitor {
	return &Monitor{
		deadlines: xsync.NewMapOf[string, time.Time](),
		now:       time.Now,
	}
}

// Send implements Sink
func (m *Monitor) Send(source string, margin time.Duration) {
	deadline := m.now().Add(margin)
	if _, loaded := m.deadlines.LoadAndStore(source, deadline); !loaded {
		Logger.Debugf("Monitoring %s with a margin of %s", source, margin)
	}
}

// Suspend implements Sink
func (m *Monitor) Suspend(source string) {
	if _, ok := m.deadlines.LoadAndDelete(source); ok {
		Logger.Debugf("Monitoring of %s suspended", source)
	}
}

// Deadline returns the current deadline of source
func (m *Monitor) Deadline(source string) (time.Time, bool) {
	return m.deadlines.Load(source)
}

// Sources returns the names of all monitored sources in sorted order
func (m *Monitor) Sources() []string {
	sources := make([]string, 0, m.deadlines.Size())
	m.deadlines.Range(func(source string, _ time.Time) bool {
		sources = append(sources, source)
		return true
	})
	sort.Strings(sources)
	return sources
}

// Stalled returns the sources whose deadline lies before now, sorted by name
func (m *Monitor) Stalled(now time.Time) []string {
	var stalled []string
	m.deadlines.Range(func(source string, deadline time.Time) bool {
		if deadline.Before(now) {
			stalled = append(stalled, source)
		}
		return true
	})
	sort.Strings(stalled)

	for _, source := range stalled {
		Logger.Warningf("Source %s missed its liveness deadline", source)
	}
	return stalled
}
