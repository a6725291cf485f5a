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

package utils

import (
	"strings"

	"github.com/RedHatInsights/insights-operator-utils/logger"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConvertLogLevel converts log level name into zerolog level. Unknown
// names are converted to debug level.
func ConvertLogLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	}

	return zerolog.DebugLevel
}

// SetupLogging initializes global logger and its level. Pretty colored
// output is used in debug mode and error logs are sent to Sentry when
// enabled. CloudWatch and Kafka sinks are not used by alert analysis.
func SetupLogging(
	loggingConf logger.LoggingConfiguration,
	sentryConf logger.SentryLoggingConfiguration,
) (zerolog.Level, error) {
	loggingConf.LoggingToCloudWatchEnabled = false
	loggingConf.LoggingToKafkaEnabled = false

	err := logger.InitZerolog(
		loggingConf,
		logger.CloudWatchConfiguration{},
		sentryConf,
		logger.KafkaZerologConfiguration{},
	)
	if err != nil {
		return zerolog.GlobalLevel(), err
	}

	logLevel := ConvertLogLevel(loggingConf.LogLevel)
	log.Info().
		Str("configured", loggingConf.LogLevel).
		Int("internal", int(logLevel)).
		Msg("Log level")
	return logLevel, nil
}

// CloseLogging flushes and closes logging sinks opened by SetupLogging
func CloseLogging() {
	logger.CloseZerolog()
}
