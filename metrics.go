package serial

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the ingestion counters of one Manager. They are always
// recorded; registration only happens when a Registerer is supplied.
type metrics struct {
	lines       *prometheus.CounterVec
	values      *prometheus.CounterVec
	malformed   *prometheus.CounterVec
	disconnects *prometheus.CounterVec
	dropped     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		lines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "livestock",
				Subsystem: "serial",
				Name:      "lines_total",
				Help:      "Complete lines read from a device.",
			},
			[]string{"channel"},
		),
		values: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "livestock",
				Subsystem: "serial",
				Name:      "values_total",
				Help:      "Values decoded and published.",
			},
			[]string{"channel"},
		),
		malformed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "livestock",
				Subsystem: "serial",
				Name:      "malformed_lines_total",
				Help:      "Lines that carried no extractable value.",
			},
			[]string{"channel"},
		),
		disconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "livestock",
				Subsystem: "serial",
				Name:      "disconnects_total",
				Help:      "Disconnects by reason (user, unexpected).",
			},
			[]string{"channel", "reason"},
		),
		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "livestock",
				Subsystem: "serial",
				Name:      "events_dropped_total",
				Help:      "Events evicted from full subscriber queues.",
			},
		),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.lines, m.values, m.malformed, m.disconnects, m.dropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) recordLine(ch Kind, decoded bool) {
	m.lines.WithLabelValues(string(ch)).Inc()
	if decoded {
		m.values.WithLabelValues(string(ch)).Inc()
	} else {
		m.malformed.WithLabelValues(string(ch)).Inc()
	}
}

func (m *metrics) recordDisconnect(ch Kind, unexpected bool) {
	reason := "user"
	if unexpected {
		reason = "unexpected"
	}
	m.disconnects.WithLabelValues(string(ch), reason).Inc()
}
