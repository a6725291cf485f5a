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

package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/openshift/osd-alert-analysis/conf"
	"github.com/openshift/osd-alert-analysis/types"
	"github.com/openshift/osd-alert-analysis/updater"
)

const (
	versionMessage = "OSD alert analysis updater version 1.0"
	authorsMessage = "OSD SRE Platform team, Red Hat Inc."
)

// showVersion function displays version information.
func showVersion() {
	fmt.Println(versionMessage)
}

// showAuthors function displays information about authors.
func showAuthors() {
	fmt.Println(authorsMessage)
}

// setupCliFlags defines and parses all command line options
func setupCliFlags(args []string) (types.CliFlags, error) {
	var cliFlags types.CliFlags

	flags := pflag.NewFlagSet("aa-updater", pflag.ContinueOnError)
	flags.StringVarP(&cliFlags.Since, "since", "s", "", "ISO-8601 timestamp of the oldest incident to cache (default: 30 days ago)")
	flags.StringVarP(&cliFlags.Until, "until", "u", "", "ISO-8601 timestamp of the newest incident to cache (default: now)")
	flags.IntVarP(&cliFlags.Limit, "limit", "l", updater.DefaultLimit, "maximum number of incidents fetched in one window")
	flags.IntVarP(&cliFlags.Backfill, "backfill", "b", 0, "make sure the cache reaches this number of days into the past")
	flags.CountVarP(&cliFlags.Verbose, "verbose", "v", "verbose logs, repeat for more details (-vvv logs SQL queries)")
	flags.BoolVar(&cliFlags.Renormalize, "renormalize", false, "recompute standardized names of all cached alerts and exit")
	flags.BoolVar(&cliFlags.ShowVersion, "show-version", false, "show version and exit")
	flags.BoolVar(&cliFlags.ShowAuthors, "show-authors", false, "show authors and exit")
	flags.BoolVar(&cliFlags.ShowConfiguration, "show-configuration", false, "show configuration and exit")

	err := flags.Parse(args)
	return cliFlags, err
}

// checkArgs function handles command line options that do not need
// configuration. It returns true when the process should exit.
func checkArgs(args *types.CliFlags) bool {
	switch {
	case args.ShowVersion:
		showVersion()
		return true
	case args.ShowAuthors:
		showAuthors()
		return true
	default:
		return false
	}
}

// showConfiguration function displays actual configuration.
func showConfiguration(config conf.ConfigStruct) {
	loggingConfig := conf.GetLoggingConfiguration(config)
	log.Info().
		Str("Level", loggingConfig.LogLevel).
		Bool("Pretty colored debug logging", loggingConfig.Debug).
		Bool("Use stderr", loggingConfig.UseStderr).
		Bool("Logging to Sentry", loggingConfig.LoggingToSentryEnabled).
		Msg("Logging configuration")

	// DSN is omitted on purpose
	sentryConfig := conf.GetSentryLoggingConfiguration(config)
	log.Info().
		Str("Environment", sentryConfig.SentryEnvironment).
		Msg("Sentry configuration")

	// API token is omitted on purpose
	pagerDutyConfig := conf.GetPagerDutyConfiguration(config)
	log.Info().
		Str("URL", pagerDutyConfig.URL).
		Strs("Teams", pagerDutyConfig.Teams).
		Str("Timeout", pagerDutyConfig.Timeout.String()).
		Int("Max attempts", pagerDutyConfig.MaxAttempts).
		Str("Retry base delay", pagerDutyConfig.RetryBaseDelay.String()).
		Float64("Requests per second", pagerDutyConfig.RequestsPerSecond).
		Msg("PagerDuty configuration")

	// connection strings are omitted on purpose, they contain passwords
	storageConfig := conf.GetStorageConfiguration(config)
	log.Info().
		Str("Driver", storageConfig.Driver).
		Str("Read-only role", storageConfig.RORole).
		Bool("LogSQLQueries", storageConfig.LogSQLQueries).
		Msg("Storage configuration")

	// Authentication token is omitted on purpose
	metricsConfig := conf.GetMetricsConfiguration(config)
	log.Info().
		Str("Namespace", metricsConfig.Namespace).
		Str("Job", metricsConfig.Job).
		Str("Push Gateway", metricsConfig.GatewayURL).
		Int("Retries", metricsConfig.Retries).
		Str("Retry after", metricsConfig.RetryAfter.String()).
		Msg("Metrics configuration")

	normalizerConfig := conf.GetNormalizerConfiguration(config)
	log.Info().
		Int("Rules", len(normalizerConfig.Rules)).
		Bool("Built-in rules", len(normalizerConfig.Rules) == 0).
		Msg("Normalizer configuration")
}
