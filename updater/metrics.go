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

package updater

// File metrics contains all metrics that are pushed to Prometheus push
// gateway at the end of updater run.

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog/log"

	"github.com/openshift/osd-alert-analysis/conf"
	"github.com/openshift/osd-alert-analysis/pagerduty"
)

// Metrics names
const (
	IncidentsCachedName = "incidents_cached"
	AlertsCachedName    = "alerts_cached"
	StorageErrorsName   = "storage_errors"
	BackfillWindowsName = "backfill_windows"
)

// Metrics helps
const (
	IncidentsCachedHelp = "The total number of incidents written into the cache"
	AlertsCachedHelp    = "The total number of alerts written into the cache"
	StorageErrorsHelp   = "The total number of errors when accessing the cache"
	BackfillWindowsHelp = "The total number of windows fetched while backfilling the cache"
)

const metricsPushFailedMessage = "Couldn't push prometheus metrics"

// PushGatewayClient is a simple wrapper over http.Client so that prometheus
// can do HTTP requests with the given authentication header
type PushGatewayClient struct {
	AuthToken string

	httpClient http.Client
}

// Do is a simple wrapper over http.Client.Do method that includes
// the authentication header configured in the PushGatewayClient instance
func (pgc *PushGatewayClient) Do(request *http.Request) (*http.Response, error) {
	if pgc.AuthToken != "" {
		log.Debug().Msg("Adding authorization header to HTTP request")
		request.Header.Set("Authorization", "Basic "+pgc.AuthToken)
	} else {
		log.Debug().Msg("No authorization token provided. Making HTTP request without credentials.")
	}
	log.Debug().Str("request", request.URL.String()).Str("method", request.Method).Msg("Pushing metrics to Prometheus push gateway")
	resp, err := pgc.httpClient.Do(request)
	if resp != nil {
		log.Debug().Int("code", resp.StatusCode).Msg("Returned status code")
	}
	return resp, err
}

// IncidentsCached shows number of incidents written into the cache
var IncidentsCached = promauto.NewCounter(prometheus.CounterOpts{
	Name: IncidentsCachedName,
	Help: IncidentsCachedHelp,
})

// AlertsCached shows number of alerts written into the cache
var AlertsCached = promauto.NewCounter(prometheus.CounterOpts{
	Name: AlertsCachedName,
	Help: AlertsCachedHelp,
})

// StorageErrors shows number of errors when accessing the cache
var StorageErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: StorageErrorsName,
	Help: StorageErrorsHelp,
})

// BackfillWindows shows number of backfill windows
var BackfillWindows = promauto.NewCounter(prometheus.CounterOpts{
	Name: BackfillWindowsName,
	Help: BackfillWindowsHelp,
})

// AddMetricsWithNamespace register the desired metrics using a given namespace
func AddMetricsWithNamespace(namespace string) {
	prometheus.Unregister(IncidentsCached)
	prometheus.Unregister(AlertsCached)
	prometheus.Unregister(StorageErrors)
	prometheus.Unregister(BackfillWindows)

	IncidentsCached = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      IncidentsCachedName,
		Help:      IncidentsCachedHelp,
	})

	AlertsCached = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      AlertsCachedName,
		Help:      AlertsCachedHelp,
	})

	StorageErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      StorageErrorsName,
		Help:      StorageErrorsHelp,
	})

	BackfillWindows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      BackfillWindowsName,
		Help:      BackfillWindowsHelp,
	})

	pagerduty.AddMetricsWithNamespace(namespace)
}

// PushMetrics function pushes the metrics to the configured prometheus push
// gateway
func PushMetrics(metricsConf conf.MetricsConfiguration) error {
	client := PushGatewayClient{metricsConf.GatewayAuthToken, http.Client{}}

	// Creates a pusher to the gateway "$PUSHGW_URL/metrics/job/$(job_name)
	pusher := push.New(metricsConf.GatewayURL, metricsConf.Job).
		Collector(IncidentsCached).
		Collector(AlertsCached).
		Collector(StorageErrors).
		Collector(BackfillWindows)

	for _, collector := range pagerduty.Collectors() {
		pusher = pusher.Collector(collector)
	}

	return pusher.Client(&client).Push()
}

// pushMetrics pushes metrics, retrying configured number of times
func pushMetrics(metricsConf conf.MetricsConfiguration) error {
	err := PushMetrics(metricsConf)
	if err == nil {
		log.Info().Msg("Metrics pushed successfully")
		return nil
	}
	log.Err(err).Msg(metricsPushFailedMessage)

	for i := metricsConf.Retries; i > 0; i-- {
		time.Sleep(metricsConf.RetryAfter)
		log.Info().Msgf("Push metrics. Retrying (%d/%d attempts left)", i, metricsConf.Retries)
		err = PushMetrics(metricsConf)
		if err == nil {
			log.Info().Msg("Metrics pushed successfully")
			return nil
		}
		log.Err(err).Msg(metricsPushFailedMessage)
	}
	return &MetricsError{Err: err}
}
