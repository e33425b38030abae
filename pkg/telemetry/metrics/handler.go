package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scrapes slower than scrapeTimeout are answered 503 so a stuck collector
// cannot pile up admin connections.
const (
	scrapeTimeout     = 10 * time.Second
	maxInflightScrape = 4
)

// Handler serves the collector's registry, limiter and reaper metrics
// included. It also exports promhttp_metric_handler_requests_total for its
// own scrapes.
func (c *Collector) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(c.registry, promhttp.HandlerFor(
		c.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics:   true,
			ErrorHandling:       promhttp.ContinueOnError,
			MaxRequestsInFlight: maxInflightScrape,
			Timeout:             scrapeTimeout,
		},
	))
}
