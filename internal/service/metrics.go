package service

import "github.com/prometheus/client_golang/prometheus"

// Publish outcomes recorded in map_publications_total.
const (
	resultPublished      = "published"
	resultInvalidPayload = "invalid_payload"
	resultStagingFailed  = "staging_failed"
	resultUploadFailed   = "upload_failed"
	resultShareFailed    = "share_failed"
	resultRecordFailed   = "record_failed"
)

// Metrics counts publish attempts by outcome.
type Metrics struct {
	publishes *prometheus.CounterVec
}

// NewMetrics registers the publish counter on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "map_publications_total",
				Help: "Map publish attempts by outcome.",
			},
			[]string{"result"},
		),
	}
	if err := reg.Register(m.publishes); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observe(result string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result).Inc()
}
