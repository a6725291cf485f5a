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
)

// Exit statuses
const (
	// ExitStatusOK means that the dashboard finished with success
	ExitStatusOK = iota
	// ExitStatusConfiguration is an error code related to program configuration
	ExitStatusConfiguration
	// ExitStatusStorageError is returned when the cache can not be opened
	ExitStatusStorageError
	// ExitStatusServerError is returned when the HTTP server fails
	ExitStatusServerError
)

const (
	versionMessage = "OSD alert analysis dashboard version 1.0"
	authorsMessage = "OSD SRE Platform team, Red Hat Inc."
)

// cliFlags represents all command line arguments of the dashboard
type cliFlags struct {
	Address           string
	Verbose           int
	ShowVersion       bool
	ShowAuthors       bool
	ShowConfiguration bool
}

// showVersion function displays version information.
func showVersion() {
	fmt.Println(versionMessage)
}

// showAuthors function displays information about authors.
func showAuthors() {
	fmt.Println(authorsMessage)
}

// setupCliFlags defines and parses all command line options
func setupCliFlags(args []string) (cliFlags, error) {
	var flags cliFlags

	flagSet := pflag.NewFlagSet("aa-dashboard", pflag.ContinueOnError)
	flagSet.StringVarP(&flags.Address, "address", "a", "", "address to listen on (overrides dashboard.address)")
	flagSet.CountVarP(&flags.Verbose, "verbose", "v", "verbose logs, repeat for more details (-vvv logs SQL queries)")
	flagSet.BoolVar(&flags.ShowVersion, "show-version", false, "show version and exit")
	flagSet.BoolVar(&flags.ShowAuthors, "show-authors", false, "show authors and exit")
	flagSet.BoolVar(&flags.ShowConfiguration, "show-configuration", false, "show configuration and exit")

	err := flagSet.Parse(args)
	return flags, err
}

// checkArgs function handles command line options that do not need
// configuration. It returns true when the process should exit.
func checkArgs(args *cliFlags) bool {
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

	// connection strings are omitted on purpose, they contain passwords
	storageConfig := conf.GetStorageConfiguration(config)
	log.Info().
		Str("Driver", storageConfig.Driver).
		Bool("LogSQLQueries", storageConfig.LogSQLQueries).
		Msg("Storage configuration")

	dashboardConfig := conf.GetDashboardConfiguration(config)
	log.Info().
		Str("Address", dashboardConfig.Address).
		Strs("Questions", dashboardConfig.Questions).
		Msg("Dashboard configuration")

	metricsConfig := conf.GetMetricsConfiguration(config)
	log.Info().
		Str("Namespace", metricsConfig.Namespace).
		Msg("Metrics configuration")
}
