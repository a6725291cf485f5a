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

// Entry point to the alert cache updater.
//
// The updater reads incidents and alerts of configured PagerDuty teams and
// stores them into SQL database (the alert cache). Alert names are
// standardized so alerts of the same kind can be grouped by the dashboard.
// The updater is meant to be run periodically (as a cronjob). Every run
// refreshes the selected window and, when asked by --backfill, makes sure
// that the cache reaches the given number of days into the past.
//
// Metrics about the run are pushed to Prometheus push gateway when it is
// configured.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/openshift/osd-alert-analysis/conf"
	"github.com/openshift/osd-alert-analysis/updater"
	"github.com/openshift/osd-alert-analysis/utils"
)

// Configuration-related constants
const (
	loadConfigurationMessage = "Load configuration"
)

func main() {
	cliFlags, err := setupCliFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(updater.ExitStatusOK)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(updater.ExitStatusConfiguration)
	}

	if checkArgs(&cliFlags) {
		os.Exit(updater.ExitStatusOK)
	}

	// config has exactly the same structure as *.toml file
	config, err := conf.LoadConfiguration(conf.ConfigEnvVariable, conf.DefaultConfigFile)
	if err != nil {
		log.Err(err).Msg(loadConfigurationMessage)
		os.Exit(updater.ExitStatusConfiguration)
	}

	conf.ApplyVerbosity(&config, cliFlags.Verbose)
	_, err = utils.SetupLogging(
		conf.GetLoggingConfiguration(config),
		conf.GetSentryLoggingConfiguration(config),
	)
	if err != nil {
		log.Err(err).Msg(loadConfigurationMessage)
		os.Exit(updater.ExitStatusConfiguration)
	}

	// configuration is loaded, so it would be possible to display it if
	// asked by user
	if cliFlags.ShowConfiguration {
		showConfiguration(config)
		os.Exit(updater.ExitStatusOK)
	}

	status := updater.Run(config, cliFlags)
	utils.CloseLogging()
	os.Exit(status)
}
