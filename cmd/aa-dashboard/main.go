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

// Entry point to the alert analysis dashboard.
//
// The dashboard answers configured questions about cached PagerDuty alerts
// (which alerts are never acknowledged, which ones resolve themselves,
// which ones flap during one on-call shift and so on) for selected date
// range and on-call region. It reads the alert cache through read-only
// database connection only, the cache is filled by aa-updater.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/openshift/osd-alert-analysis/conf"
	"github.com/openshift/osd-alert-analysis/questions"
	"github.com/openshift/osd-alert-analysis/storage"
	"github.com/openshift/osd-alert-analysis/utils"
	"github.com/openshift/osd-alert-analysis/webui"
)

// Configuration-related constants
const (
	loadConfigurationMessage = "Load configuration"
)

func main() {
	flags, err := setupCliFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(ExitStatusOK)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitStatusConfiguration)
	}

	if checkArgs(&flags) {
		os.Exit(ExitStatusOK)
	}

	config, err := conf.LoadConfiguration(conf.ConfigEnvVariable, conf.DefaultConfigFile)
	if err != nil {
		log.Err(err).Msg(loadConfigurationMessage)
		os.Exit(ExitStatusConfiguration)
	}

	conf.ApplyVerbosity(&config, flags.Verbose)
	if flags.Address != "" {
		config.Dashboard.Address = flags.Address
	}
	_, err = utils.SetupLogging(
		conf.GetLoggingConfiguration(config),
		conf.GetSentryLoggingConfiguration(config),
	)
	if err != nil {
		log.Err(err).Msg(loadConfigurationMessage)
		os.Exit(ExitStatusConfiguration)
	}

	if flags.ShowConfiguration {
		showConfiguration(config)
		os.Exit(ExitStatusOK)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := serve(ctx, config)
	stop()
	utils.CloseLogging()
	os.Exit(status)
}

// serve opens the cache and serves the dashboard until the context is
// canceled. It returns exit status.
func serve(ctx context.Context, config conf.ConfigStruct) int {
	if err := conf.ValidateDashboardConfiguration(config); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return ExitStatusConfiguration
	}

	active, err := questions.Resolve(conf.GetDashboardConfiguration(config).Questions)
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return ExitStatusConfiguration
	}

	webui.AddMetricsWithNamespace(conf.GetMetricsConfiguration(config).Namespace)

	cache, err := storage.NewReadOnlyStorage(conf.GetStorageConfiguration(config))
	if err != nil {
		log.Error().Err(err).Msg("Unable to open the alert cache")
		return ExitStatusStorageError
	}
	defer func() {
		_ = cache.Close()
	}()

	server := webui.New(cache, active)
	if err := server.ListenAndServe(ctx, conf.GetDashboardConfiguration(config).Address); err != nil {
		log.Error().Err(err).Msg("Dashboard failed")
		return ExitStatusServerError
	}
	return ExitStatusOK
}
