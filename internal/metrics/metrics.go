package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WeatherAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyclecounts_weather_api_calls_total",
			Help: "Total OpenWeather timemachine API calls",
		},
		[]string{"status"},
	)

	WeatherAPILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cyclecounts_weather_api_latency_seconds",
			Help:    "OpenWeather API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WeatherLookupsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyclecounts_weather_lookups_stored_total",
			Help: "Weather lookups checkpointed to the store",
		},
		[]string{"ok"},
	)

	ReadingsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyclecounts_readings_ingested_total",
			Help: "Hourly readings produced from raw count files",
		},
		[]string{"source_type"},
	)

	RowsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyclecounts_rows_rejected_total",
			Help: "Raw count rows skipped during ingestion",
		},
		[]string{"reason"},
	)

	MonthsSampled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyclecounts_months_sampled_total",
			Help: "Months sampled, by chosen threshold k",
		},
		[]string{"k"},
	)

	SampledRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cyclecounts_sampled_rows_total",
			Help: "Readings retained in built samples",
		},
	)
)
