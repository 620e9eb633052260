// Copyright (c) 2021 PaddlePaddle Authors. All Rights Reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics holds the prometheus collectors shared by the node components.
// Collectors are registered once on the default registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "wedpr_model"

// message directions
const (
	DirectionPush = "push"
	DirectionPop  = "pop"
)

var (
	logger = logrus.WithField("module", "metrics")

	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of tasks reaching a status",
		},
		[]string{"type", "status"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall clock duration of finished tasks",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 3600, 10800},
		},
		[]string{"type"},
	)

	transportMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_messages_total",
			Help:      "Total number of messages moved by the transport",
		},
		[]string{"direction"},
	)

	transportBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_bytes_total",
			Help:      "Total payload bytes moved by the transport",
		},
		[]string{"direction"},
	)

	handshakeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time for a task to reach the connected state",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// RecordTaskStatus counts a task entering status
func RecordTaskStatus(taskType, status string) {
	tasksTotal.WithLabelValues(taskType, status).Inc()
}

// RecordTaskDuration observes the running time of a finished task
func RecordTaskDuration(taskType string, d time.Duration) {
	taskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

// RecordMessage counts one transported message and its payload size
func RecordMessage(direction string, size int) {
	transportMessages.WithLabelValues(direction).Inc()
	transportBytes.WithLabelValues(direction).Add(float64(size))
}

// RecordHandshake observes the duration of a converged handshake
func RecordHandshake(d time.Duration) {
	handshakeDuration.Observe(d.Seconds())
}

// Serve exposes the default registry on address until ctx is done
func Serve(ctx context.Context, address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: address, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("failed to shutdown metrics server")
		}
	}()

	logger.WithField("address", address).Info("metrics server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
