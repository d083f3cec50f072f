package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/jo-hoe/imagestore"

// Counter names recorded by the service.
const (
	HTTPRequestsTotal        = "http_requests_total"
	HTTPRequestErrorsTotal   = "http_requests_errors_total"
	ImagesCreatedTotal       = "images_created_total"
	ImagesDeletedTotal       = "images_deleted_total"
	NotificationFailureTotal = "notification_failures_total"
)

var descriptions = map[string]string{
	HTTPRequestsTotal:        "HTTP requests by method, route and status class",
	HTTPRequestErrorsTotal:   "HTTP requests answered with a 5xx status",
	ImagesCreatedTotal:       "Images stored through uploads",
	ImagesDeletedTotal:       "Images removed through deletes",
	NotificationFailureTotal: "Create or delete notifications the publisher rejected",
}

// Labels qualify one series of a counter.
type Labels map[string]string

// Sample is the value of one counter series at snapshot time.
type Sample struct {
	Name   string
	Labels Labels
	Value  int64
}

// Key renders the sample as name{k=v,...} with sorted label keys.
func (s Sample) Key() string {
	return seriesKey(s.Name, s.Labels)
}

type series struct {
	labels Labels
	value  atomic.Int64
}

type counter struct {
	instrument metric.Int64Counter
	series     map[string]*series
}

// Registry counts image store events in memory for /metrics and forwards every
// increment to an OpenTelemetry counter of the same name. A nil *Registry records nothing.
type Registry struct {
	mu       sync.Mutex
	meter    metric.Meter
	counters map[string]*counter
}

func NewRegistry() *Registry {
	return &Registry{
		meter:    otel.GetMeterProvider().Meter(meterName),
		counters: make(map[string]*counter),
	}
}

func seriesKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	slices.Sort(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

// lookup returns the series for name and labels, creating it on first use.
func (r *Registry) lookup(name string, labels Labels) (*counter, *series) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[name]
	if !ok {
		c = &counter{series: make(map[string]*series)}
		instrument, err := r.meter.Int64Counter(name, metric.WithDescription(descriptions[name]))
		if err == nil {
			c.instrument = instrument
		}
		r.counters[name] = c
	}

	key := seriesKey(name, labels)
	s, ok := c.series[key]
	if !ok {
		s = &series{labels: copyLabels(labels)}
		c.series[key] = s
	}
	return c, s
}

func copyLabels(labels Labels) Labels {
	out := make(Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// Inc adds n to the series of name identified by labels.
func (r *Registry) Inc(ctx context.Context, name string, labels Labels, n int64) {
	if r == nil {
		return
	}
	c, s := r.lookup(name, labels)
	s.value.Add(n)

	if c.instrument != nil {
		attrs := make([]attribute.KeyValue, 0, len(labels))
		for k, v := range labels {
			attrs = append(attrs, attribute.String(k, v))
		}
		c.instrument.Add(ctx, n, metric.WithAttributes(attrs...))
	}
}

// Value returns the current value of a series, zero when it was never incremented.
func (r *Registry) Value(name string, labels Labels) int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[name]
	if !ok {
		return 0
	}
	if s, ok := c.series[seriesKey(name, labels)]; ok {
		return s.value.Load()
	}
	return 0
}

// Snapshot returns every series sorted by key.
func (r *Registry) Snapshot() []Sample {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	samples := []Sample{}
	for name, c := range r.counters {
		for _, s := range c.series {
			samples = append(samples, Sample{Name: name, Labels: s.labels, Value: s.value.Load()})
		}
	}
	r.mu.Unlock()

	slices.SortFunc(samples, func(a, b Sample) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return samples
}

// EchoHandlerText writes one "key value" line per series.
func (r *Registry) EchoHandlerText(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	for _, sample := range r.Snapshot() {
		if _, err := fmt.Fprintf(c.Response(), "%s %d\n", sample.Key(), sample.Value); err != nil {
			return err
		}
	}
	return nil
}

// EchoHandlerJSON writes the series as a JSON object keyed like the text format.
func (r *Registry) EchoHandlerJSON(c echo.Context) error {
	payload := make(map[string]int64)
	for _, sample := range r.Snapshot() {
		payload[sample.Key()] = sample.Value
	}
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return json.NewEncoder(c.Response()).Encode(payload)
}
