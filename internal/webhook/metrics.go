/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	webhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "syncd",
			Subsystem: "webhook_receiver",
			Name:      "requests_total",
			Help:      "Total number of webhook receiver requests.",
		},
		[]string{"platform", "status_code"},
	)

	webhookRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "syncd",
			Subsystem: "webhook_receiver",
			Name:      "rejected_total",
			Help:      "Total number of webhook payloads rejected for a bad signature.",
		},
		[]string{"platform"},
	)
)

// RegisterMetrics registers the receiver's counters on the process
// registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(webhookRequestsTotal, webhookRejectedTotal)
}
