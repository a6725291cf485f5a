/*
Copyright © 2022 Red Hat, Inc.

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

package pagerduty

// File metrics contains metrics describing communication with upstream.

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics names
const (
	RequestsName = "upstream_requests"
	RetriesName  = "upstream_retries"
	ErrorsName   = "upstream_errors"
)

// Metrics helps
const (
	RequestsHelp = "The total number of HTTP requests sent to PagerDuty API"
	RetriesHelp  = "The total number of retried PagerDuty API requests"
	ErrorsHelp   = "The total number of failed PagerDuty API requests"
)

// RequestsCounter shows number of requests sent to upstream
var RequestsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: RequestsName,
	Help: RequestsHelp,
})

// RetriesCounter shows number of retried requests
var RetriesCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: RetriesName,
	Help: RetriesHelp,
})

// ErrorsCounter shows number of requests that failed even after retries
var ErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: ErrorsName,
	Help: ErrorsHelp,
})

// AddMetricsWithNamespace registers upstream metrics using a given namespace
func AddMetricsWithNamespace(namespace string) {
	prometheus.Unregister(RequestsCounter)
	prometheus.Unregister(RetriesCounter)
	prometheus.Unregister(ErrorsCounter)

	RequestsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      RequestsName,
		Help:      RequestsHelp,
	})

	RetriesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      RetriesName,
		Help:      RetriesHelp,
	})

	ErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      ErrorsName,
		Help:      ErrorsHelp,
	})
}

// Collectors returns all upstream metrics, used when pushing them to a
// push gateway
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{RequestsCounter, RetriesCounter, ErrorsCounter}
}
