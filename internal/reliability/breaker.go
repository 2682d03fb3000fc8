package reliability

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Metric result labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// BreakerSettings holds circuit breaker configuration for one external endpoint
type BreakerSettings struct {
	FailureThreshold uint32        // Consecutive failures before the circuit opens
	RecoveryTimeout  time.Duration // How long the circuit stays open
	HalfOpenMaxReqs  uint32        // Max trial requests in half-open state
}

// DefaultBreakerSettings returns the settings used when a breaker is created lazily
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxReqs:  1,
	}
}

// LLMBreakerSettings returns settings tuned for AI model endpoints
func LLMBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxReqs:  1,
	}
}

// breakerMetrics holds Prometheus metrics shared by all breakers
type breakerMetrics struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
}

var (
	globalMetrics *breakerMetrics
	metricsOnce   sync.Once
)

func initMetrics() {
	metricsOnce.Do(func() {
		globalMetrics = &breakerMetrics{
			state: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "circuit_breaker_state",
					Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
				},
				[]string{"service"},
			),
			requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "circuit_breaker_requests_total",
					Help: "Total number of requests through circuit breakers",
				},
				[]string{"service", "result"},
			),
		}
	})
}

// BreakerRegistry keys circuit breakers by external-service tag. State is
// process-local; breakers are created lazily on first use.
type BreakerRegistry struct {
	mu          sync.Mutex
	breakers    map[string]*gobreaker.CircuitBreaker
	settings    BreakerSettings
	passthrough bool
	metrics     *breakerMetrics
}

// NewBreakerRegistry creates a registry whose lazily-created breakers use the
// given settings.
func NewBreakerRegistry(settings BreakerSettings) *BreakerRegistry {
	initMetrics()
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings,
		metrics:  globalMetrics,
	}
}

// NewPassthroughRegistry creates a registry whose breakers never trip. Useful
// for testing components without breaker interference.
func NewPassthroughRegistry() *BreakerRegistry {
	initMetrics()
	return &BreakerRegistry{
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
		settings:    DefaultBreakerSettings(),
		passthrough: true,
		metrics:     globalMetrics,
	}
}

// Get returns the breaker for a service tag, creating it if necessary
func (r *BreakerRegistry) Get(service string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[service]; ok {
		return cb
	}

	cb := r.newBreaker(service)
	r.breakers[service] = cb
	return cb
}

// GetWithSettings returns the breaker for a service tag, creating it with the
// given settings if it does not exist yet.
func (r *BreakerRegistry) GetWithSettings(service string, settings BreakerSettings) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[service]; ok {
		return cb
	}

	cb := r.newBreakerWithSettings(service, settings)
	r.breakers[service] = cb
	return cb
}

func (r *BreakerRegistry) newBreaker(service string) *gobreaker.CircuitBreaker {
	return r.newBreakerWithSettings(service, r.settings)
}

func (r *BreakerRegistry) newBreakerWithSettings(service string, settings BreakerSettings) *gobreaker.CircuitBreaker {
	readyToTrip := func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= settings.FailureThreshold
	}
	if r.passthrough {
		readyToTrip = func(counts gobreaker.Counts) bool { return false }
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: settings.HalfOpenMaxReqs,
		Timeout:     settings.RecoveryTimeout,
		ReadyToTrip: readyToTrip,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.updateStateMetric(name, to)
		},
	})
}

// Execute runs fn through the named breaker. An open circuit returns
// ErrCircuitOpen without invoking fn.
func (r *BreakerRegistry) Execute(service string, fn func() (interface{}, error)) (interface{}, error) {
	cb := r.Get(service)
	result, err := cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			r.metrics.requests.WithLabelValues(service, ResultFailure).Inc()
			return nil, fmt.Errorf("%s: %w", service, ErrCircuitOpen)
		}
		r.metrics.requests.WithLabelValues(service, ResultFailure).Inc()
		return nil, err
	}
	r.metrics.requests.WithLabelValues(service, ResultSuccess).Inc()
	return result, nil
}

// Reset discards all breaker state. Intended for tests.
func (r *BreakerRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*gobreaker.CircuitBreaker)
}

func (r *BreakerRegistry) updateStateMetric(service string, state gobreaker.State) {
	var stateValue float64
	switch state {
	case gobreaker.StateClosed:
		stateValue = 0
	case gobreaker.StateOpen:
		stateValue = 1
	case gobreaker.StateHalfOpen:
		stateValue = 2
	}
	r.metrics.state.WithLabelValues(service).Set(stateValue)
}
