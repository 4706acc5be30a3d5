// Copyright 2023-2024 The Elfabi Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package soabi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	buildSuccess  prometheus.Counter
	buildFailure  prometheus.Counter
	buildDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		buildSuccess: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "elfabi_interface_build_total",
				Help: "Number of shared library interfaces successfully built",
			},
		),
		buildFailure: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "elfabi_interface_build_failed_total",
				Help: "Number of failed shared library interface builds",
			},
		),
		buildDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "elfabi_interface_build_duration_seconds",
				Help:    "Time spent building one shared library interface",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
		),
	}
}
