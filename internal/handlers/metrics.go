package handlers

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-extractor/internal/logging"
)

// scrapeConcurrency bounds simultaneous scrapes of the metrics endpoint.
const scrapeConcurrency = 4

// MetricsHandler serves the default registry, in OpenMetrics format when the
// scraper asks for it. A collector that fails is logged and skipped rather
// than failing the whole scrape.
func (h *Handlers) MetricsHandler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			ErrorLog:            promErrorLog{logging.Named("metrics")},
			ErrorHandling:       promhttp.ContinueOnError,
			MaxRequestsInFlight: scrapeConcurrency,
			EnableOpenMetrics:   true,
		}),
	)
}

type promErrorLog struct {
	log logging.Logger
}

func (l promErrorLog) Println(v ...interface{}) {
	l.log.Warn("scrape error: %s", fmt.Sprint(v...))
}
