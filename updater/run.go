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

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openshift/osd-alert-analysis/conf"
	"github.com/openshift/osd-alert-analysis/normalizer"
	"github.com/openshift/osd-alert-analysis/pagerduty"
	"github.com/openshift/osd-alert-analysis/storage"
	"github.com/openshift/osd-alert-analysis/types"
	"github.com/openshift/osd-alert-analysis/utils"
)

// Exit statuses
const (
	// ExitStatusOK means that the tool finished with success
	ExitStatusOK = iota
	// ExitStatusConfiguration is an error code related to program configuration
	ExitStatusConfiguration
	// ExitStatusError is a general error code
	ExitStatusError
	// ExitStatusStorageError is returned in case of any storage-related error
	ExitStatusStorageError
	// ExitStatusUpstreamError is returned when PagerDuty can not be read
	ExitStatusUpstreamError
	// ExitStatusMetricsError is raised when prometheus metrics cannot be pushed
	ExitStatusMetricsError
)

// DefaultLimit is the maximum number of incidents fetched in one window
const DefaultLimit = 10000

// DefaultWindow is the length of the first window when --since is not
// specified
const DefaultWindow = 30 * 24 * time.Hour

// ParseParams converts command line arguments into run parameters
func ParseParams(cliFlags types.CliFlags, now time.Time) (Params, error) {
	params := Params{
		Since:    now.UTC().Add(-DefaultWindow),
		Until:    now.UTC(),
		Limit:    cliFlags.Limit,
		Backfill: cliFlags.Backfill,
	}

	if cliFlags.Since != "" {
		since, err := utils.ParseTimestamp(cliFlags.Since)
		if err != nil {
			return params, &ConfigurationError{Msg: "--since: " + err.Error()}
		}
		params.Since = since
	}

	if cliFlags.Until != "" {
		until, err := utils.ParseTimestamp(cliFlags.Until)
		if err != nil {
			return params, &ConfigurationError{Msg: "--until: " + err.Error()}
		}
		params.Until = until
	}

	if !params.Since.Before(params.Until) {
		return params, &ConfigurationError{Msg: "--since must be before --until"}
	}
	if params.Limit <= 0 {
		return params, &ConfigurationError{Msg: "--limit must be positive"}
	}
	if params.Backfill < 0 {
		return params, &ConfigurationError{Msg: "--backfill must not be negative"}
	}
	return params, nil
}

// ExitStatus maps error returned by updater to exit status
func ExitStatus(err error) int {
	var (
		configurationError *ConfigurationError
		missingError       *conf.MissingConfigurationError
		storageError       *StorageError
		upstreamError      *UpstreamError
		metricsError       *MetricsError
	)

	switch {
	case err == nil:
		return ExitStatusOK
	case errors.As(err, &configurationError), errors.As(err, &missingError):
		return ExitStatusConfiguration
	case errors.As(err, &storageError):
		return ExitStatusStorageError
	case errors.As(err, &upstreamError):
		return ExitStatusUpstreamError
	case errors.As(err, &metricsError):
		return ExitStatusMetricsError
	default:
		return ExitStatusError
	}
}

// Run function is entry point to the updater. It returns exit status.
func Run(config conf.ConfigStruct, cliFlags types.CliFlags) int {
	runID := uuid.New().String()
	log.Info().Str("run", runID).Msg("Updater started")

	err := run(context.Background(), config, cliFlags)
	if err != nil {
		log.Error().Err(err).Str("run", runID).Msg(operationFailedMessage)
	}
	log.Info().Str("run", runID).Msg("Updater finished")
	return ExitStatus(err)
}

func run(ctx context.Context, config conf.ConfigStruct, cliFlags types.CliFlags) error {
	storageConfiguration := conf.GetStorageConfiguration(config)

	var params Params
	if cliFlags.Renormalize {
		// only the cache is accessed
		if storageConfiguration.RWDBString == "" {
			return &conf.MissingConfigurationError{Key: "storage.rw_db_string", EnvVar: "AA_RW_DB_STRING"}
		}
	} else {
		if err := conf.ValidateUpdaterConfiguration(config); err != nil {
			return err
		}
		var err error
		params, err = ParseParams(cliFlags, time.Now())
		if err != nil {
			return err
		}
	}

	metricsConfiguration := conf.GetMetricsConfiguration(config)
	registerMetrics(metricsConfiguration)

	cache, err := storage.NewStorage(storageConfiguration)
	if err != nil {
		StorageErrors.Inc()
		return &StorageError{Err: err}
	}
	defer func() {
		if err := cache.Close(); err != nil {
			log.Error().Err(err).Msg("Unable to close storage")
		}
	}()

	if err := cache.Migrate(ctx); err != nil {
		StorageErrors.Inc()
		return &StorageError{Err: err}
	}

	n := normalizer.NewFromConfiguration(conf.GetNormalizerConfiguration(config))

	if cliFlags.Renormalize {
		log.Info().Msg("Renormalizing cached alert names")
		if _, err := Renormalize(ctx, cache, n, os.Stdout); err != nil {
			return err
		}
		return finish(metricsConfiguration)
	}

	log.Info().
		Time(sinceAttribute, params.Since).
		Time(untilAttribute, params.Until).
		Strs("teams", config.PagerDuty.Teams).
		Int(limitAttribute, params.Limit).
		Int("backfill", params.Backfill).
		Msg("Starting cache update")
	log.Info().Msg(separator)

	client := pagerduty.New(conf.GetPagerDutyConfiguration(config), n)
	summary, err := New(cache, client, os.Stdout).Update(ctx, params)
	if err != nil {
		// metrics describing the failure are still interesting
		if pushErr := finish(metricsConfiguration); pushErr != nil {
			log.Error().Err(pushErr).Msg(metricsPushFailedMessage)
		}
		return err
	}

	log.Info().
		Int("windows", summary.Windows).
		Int(incidentsAttribute, summary.Incidents).
		Int(alertsAttribute, summary.Alerts).
		Msg("Cache update finished")
	log.Info().Msg(separator)

	return finish(metricsConfiguration)
}

// registerMetrics registers metrics using the provided namespace, if any
func registerMetrics(metricsConfig conf.MetricsConfiguration) {
	if metricsConfig.Namespace != "" {
		log.Info().Str("namespace", metricsConfig.Namespace).Msg("Setting metrics namespace")
		AddMetricsWithNamespace(metricsConfig.Namespace)
	}
}

// finish pushes metrics when push gateway is configured
func finish(metricsConfig conf.MetricsConfiguration) error {
	if metricsConfig.GatewayURL == "" {
		log.Debug().Msg("Push gateway is not configured, metrics won't be pushed")
		return nil
	}
	return pushMetrics(metricsConfig)
}
