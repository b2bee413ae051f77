package initiator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/15201047795/outpost-core/rmap/common"
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// Counters is a snapshot of the engine's packet counters
type Counters struct {
	CommandsSent     uint64
	RepliesReceived  uint64
	Timeouts         uint64
	SendFailures     uint64
	ErroneousReplies uint64 // valid RMAP commands received by the initiator
	DiscardedReplies uint64 // replies without a matching transaction
	NonRmapPackets   uint64 // frames that failed to decode or belong to another initiator
	StoreErrors      uint64 // replies whose payload did not fit the staging slot
	WrongEndMarkers  uint64 // frames not terminated by EOP
}

// engineMetrics holds the Prometheus style counters of one engine
type engineMetrics struct {
	engine string
	set    *metrics.Set

	commandsSent     *metrics.Counter
	repliesReceived  *metrics.Counter
	timeouts         *metrics.Counter
	sendFailures     *metrics.Counter
	erroneousReplies *metrics.Counter
	discardedReplies *metrics.Counter
	nonRmapPackets   *metrics.Counter
	storeErrors      *metrics.Counter
	wrongEndMarkers  *metrics.Counter

	roundTrip *metrics.Histogram
}

func newEngineMetrics(engine string, inFlight func() float64) *engineMetrics {
	set := metrics.NewSet()
	name := func(metric string) string {
		return fmt.Sprintf(`rmap_initiator_%s{engine=%q}`, metric, engine)
	}

	m := &engineMetrics{
		engine:           engine,
		set:              set,
		commandsSent:     set.NewCounter(name("commands_sent_total")),
		repliesReceived:  set.NewCounter(name("replies_received_total")),
		timeouts:         set.NewCounter(name("timeouts_total")),
		sendFailures:     set.NewCounter(name("send_failures_total")),
		erroneousReplies: set.NewCounter(name("erroneous_replies_total")),
		discardedReplies: set.NewCounter(name("discarded_replies_total")),
		nonRmapPackets:   set.NewCounter(name("non_rmap_packets_total")),
		storeErrors:      set.NewCounter(name("reply_store_errors_total")),
		wrongEndMarkers:  set.NewCounter(name("wrong_end_markers_total")),
		roundTrip:        set.NewHistogram(name("round_trip_seconds")),
	}
	set.NewGauge(name("transactions_in_flight"), inFlight)
	return m
}

// result counts the outcome of a read or write by operation and result type
func (m *engineMetrics) result(op string, err error) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`rmap_initiator_results_total{engine=%q,op=%q,result=%q}`,
		m.engine, op, common.ResultOf(err))).Inc()
}

func (m *engineMetrics) snapshot() Counters {
	return Counters{
		CommandsSent:     m.commandsSent.Get(),
		RepliesReceived:  m.repliesReceived.Get(),
		Timeouts:         m.timeouts.Get(),
		SendFailures:     m.sendFailures.Get(),
		ErroneousReplies: m.erroneousReplies.Get(),
		DiscardedReplies: m.discardedReplies.Get(),
		NonRmapPackets:   m.nonRmapPackets.Get(),
		StoreErrors:      m.storeErrors.Get(),
		WrongEndMarkers:  m.wrongEndMarkers.Get(),
	}
}

func (m *engineMetrics) writePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Latency statistics
// --------------------------------------------------------------------------

// Stats keeps latency timers of successful operations
type Stats struct {
	registry gometrics.Registry

	Write gometrics.Timer // successful writes that waited for a reply
	Post  gometrics.Timer // successful writes without reply
	Read  gometrics.Timer // successful reads
}

func newStats() *Stats {
	registry := gometrics.NewRegistry()
	return &Stats{
		registry: registry,
		Write:    gometrics.GetOrRegisterTimer("write", registry),
		Post:     gometrics.GetOrRegisterTimer("post", registry),
		Read:     gometrics.GetOrRegisterTimer("read", registry),
	}
}

// Registry returns the go-metrics registry holding the timers
func (s *Stats) Registry() gometrics.Registry {
	return s.registry
}

// String returns a formatted summary of all timers
func (s *Stats) String() string {
	var sb strings.Builder

	addTimer := func(name string, t gometrics.Timer) {
		snap := t.Snapshot()
		sb.WriteString(fmt.Sprintf("  %-6s: count=%d mean=%s p50=%s p99=%s max=%s\n",
			name,
			snap.Count(),
			time.Duration(snap.Mean()),
			time.Duration(snap.Percentile(0.5)),
			time.Duration(snap.Percentile(0.99)),
			time.Duration(snap.Max()),
		))
	}

	sb.WriteString("LATENCY\n")
	addTimer("write", s.Write)
	addTimer("post", s.Post)
	addTimer("read", s.Read)
	return sb.String()
}
