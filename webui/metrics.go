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

package webui

// File metrics contains metrics exposed by the dashboard on /metrics
// endpoint.

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics names
const (
	QuestionErrorsName   = "question_errors"
	QuestionDurationName = "question_render_duration_seconds"
	RequestsName         = "http_requests"
)

// Metrics helps
const (
	QuestionErrorsHelp   = "The total number of questions that could not be answered"
	QuestionDurationHelp = "Time spent answering and rendering one question"
	RequestsHelp         = "The total number of HTTP requests served by the dashboard"
)

// metrics labels
const (
	questionLabel = "question"
	routeLabel    = "route"
	statusLabel   = "status"
)

// QuestionErrors shows number of failed answers per question
var QuestionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: QuestionErrorsName,
	Help: QuestionErrorsHelp,
}, []string{questionLabel})

// QuestionDuration shows time needed to answer a question
var QuestionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    QuestionDurationName,
	Help:    QuestionDurationHelp,
	Buckets: prometheus.DefBuckets,
}, []string{questionLabel})

// Requests shows number of served requests per route and status code
var Requests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: RequestsName,
	Help: RequestsHelp,
}, []string{routeLabel, statusLabel})

// AddMetricsWithNamespace register the desired metrics using a given namespace
func AddMetricsWithNamespace(namespace string) {
	prometheus.Unregister(QuestionErrors)
	prometheus.Unregister(QuestionDuration)
	prometheus.Unregister(Requests)

	QuestionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      QuestionErrorsName,
		Help:      QuestionErrorsHelp,
	}, []string{questionLabel})

	QuestionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      QuestionDurationName,
		Help:      QuestionDurationHelp,
		Buckets:   prometheus.DefBuckets,
	}, []string{questionLabel})

	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      RequestsName,
		Help:      RequestsHelp,
	}, []string{routeLabel, statusLabel})
}
