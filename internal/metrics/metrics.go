// Copyright 2025 Docflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics holds the Prometheus instruments for the engine, the
// worker pool and the HTTP API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument behind one registry so tests can build
// isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	StepsExecuted      *prometheus.CounterVec
	StepsFailed        *prometheus.CounterVec
	LeasesWon          prometheus.Counter
	LeasesLost         prometheus.Counter
	DocumentsIngested  prometheus.Counter
	StepsReleased      prometheus.Counter
	QueueDepth         prometheus.Gauge
	LiveWorkers        prometheus.Gauge
	StepDuration       *prometheus.HistogramVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New builds a Metrics set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		StepsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "steps_executed_total",
			Help:      "Steps executed to completion, by step type.",
		}, []string{"step_type"}),
		StepsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "steps_failed_total",
			Help:      "Step executions that ended in ERROR or FAILED, by step type.",
		}, []string{"step_type"}),
		LeasesWon: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "leases_won_total",
			Help:      "Successful step leases.",
		}),
		LeasesLost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "leases_lost_total",
			Help:      "Lease attempts lost to another worker.",
		}),
		DocumentsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "documents_ingested_total",
			Help:      "Documents registered through the ingest API.",
		}),
		StepsReleased: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "steps_released_total",
			Help:      "Steps reclaimed from dead workers by the reaper.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ingest",
			Name:      "queue_depth",
			Help:      "Tokens currently queued in the local worker pool.",
		}),
		LiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ingest",
			Name:      "live_workers",
			Help:      "Worker checkin rows considered live at the last reaper pass.",
		}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ingest",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock step handler duration, by step type.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"step_type"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "http_requests_total",
			Help:      "API requests, by route and status class.",
		}, []string{"route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ingest",
			Name:      "http_request_duration_seconds",
			Help:      "API request duration, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler returns the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
