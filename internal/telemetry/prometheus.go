package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink exposes observations as Prometheus collectors, created on
// first use. Label keys for a given metric name must stay the same across
// calls.
type PrometheusSink struct {
	reg       prometheus.Registerer
	namespace string

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
}

// NewPrometheusSink creates a sink registering on reg. A nil reg uses the
// default registerer.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusSink{
		reg:       reg,
		namespace: "muse",
		counters:  make(map[string]*prometheus.CounterVec),
		gauges:    make(map[string]*prometheus.GaugeVec),
	}
}

func (s *PrometheusSink) Emit(_ context.Context, name string, value float64, tags map[string]string) error {
	keys := sortedKeys(tags)
	metricName := promName(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if IsCounter(name) {
		vec, ok := s.counters[metricName]
		if !ok {
			vec = prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: s.namespace,
				Name:      metricName + "_total",
				Help:      "muse counter " + name,
			}, keys)
			c, err := register(s.reg, vec)
			if err != nil {
				return err
			}
			vec = c.(*prometheus.CounterVec)
			s.counters[metricName] = vec
		}
		c, err := vec.GetMetricWith(prometheus.Labels(tags))
		if err != nil {
			return fmt.Errorf("counter %s: %w", name, err)
		}
		c.Add(value)
		return nil
	}

	vec, ok := s.gauges[metricName]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: s.namespace,
			Name:      metricName,
			Help:      "muse gauge " + name,
		}, keys)
		g, err := register(s.reg, vec)
		if err != nil {
			return err
		}
		vec = g.(*prometheus.GaugeVec)
		s.gauges[metricName] = vec
	}
	g, err := vec.GetMetricWith(prometheus.Labels(tags))
	if err != nil {
		return fmt.Errorf("gauge %s: %w", name, err)
	}
	g.Set(value)
	return nil
}

// register adds c to reg, returning the already registered collector when an
// identical one exists.
func register(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector, nil
		}
		return nil, fmt.Errorf("registering collector: %w", err)
	}
	return c, nil
}

// promName maps dotted metric names onto the Prometheus charset.
func promName(name string) string {
	b := strings.Builder{}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
