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

package normalizer_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openshift/osd-alert-analysis/conf"
	"github.com/openshift/osd-alert-analysis/normalizer"
)

func TestStandardize(t *testing.T) {
	var testScenarios = []struct {
		raw      string
		expected string
	}{
		{"ClusterProvisioningDelay - cluster xyz", "ClusterProvisioningDelay"},
		{"[#1234] ClusterProvisioningDelay-warning", "ClusterProvisioningDelay"},
		{"cluster abc has gone missing", "ClusterHasGoneMissing"},
		{"Heartbeat.ping has failed for 5 minutes", "HeartbeatPingFailed"},
		{"CUST ESCALATION: customer is unhappy", "CustomerEscalation"},
		{"KubePodCrashLooping CRITICAL (1)", "KubePodCrashLooping"},
		{"  DNSErrors05MinSRE  CRITICAL", "DNSErrors05MinSRE"},
		{"single", "single"},
		// rules are case sensitive
		{"cust escalation", "cust"},
	}

	for _, scenario := range testScenarios {
		name, err := normalizer.Standardize(scenario.raw)
		assert.NoError(t, err, scenario.raw)
		assert.Equal(t, scenario.expected, name, scenario.raw)
	}
}

func TestStandardizeFirstMatchWins(t *testing.T) {
	// matches both "has gone missing" and "CUST ESCALATION"
	name, err := normalizer.Standardize("CUST ESCALATION cluster has gone missing")
	assert.NoError(t, err)
	assert.Equal(t, "ClusterHasGoneMissing", name)
}

func TestStandardizeTruncatesLongNames(t *testing.T) {
	raw := strings.Repeat("x", 600) + " suffix"
	name, err := normalizer.Standardize(raw)
	assert.NoError(t, err)
	assert.Len(t, name, normalizer.MaxNameLength)
}

func TestStandardizeInvalidName(t *testing.T) {
	for _, raw := range []string{"", " ", "\t\n"} {
		_, err := normalizer.Standardize(raw)
		assert.True(t, errors.Is(err, normalizer.ErrInvalidName), raw)
	}
}

func TestStandardizeIsDeterministic(t *testing.T) {
	first, err := normalizer.Standardize("KubeNodeNotReady warning")
	assert.NoError(t, err)
	second, err := normalizer.Standardize("KubeNodeNotReady warning")
	assert.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCustomRules(t *testing.T) {
	n := normalizer.New([]normalizer.Rule{
		{Substring: "etcd", Name: "EtcdProblem"},
	})

	name, err := n.Standardize("etcdMembersDown critical")
	assert.NoError(t, err)
	assert.Equal(t, "EtcdProblem", name)

	// default rules are not used when custom table is provided
	name, err = n.Standardize("cluster has gone missing")
	assert.NoError(t, err)
	assert.Equal(t, "cluster", name)
}

func TestNewWithEmptyRulesUsesDefaults(t *testing.T) {
	n := normalizer.New(nil)
	assert.Equal(t, normalizer.DefaultRules, n.Rules())
}

func TestNewFromConfiguration(t *testing.T) {
	n := normalizer.NewFromConfiguration(conf.NormalizerConfiguration{
		Rules: []conf.NormalizerRule{{Substring: "Crash", Name: "Crashing"}},
	})
	assert.Equal(t, []normalizer.Rule{{Substring: "Crash", Name: "Crashing"}}, n.Rules())

	n = normalizer.NewFromConfiguration(conf.NormalizerConfiguration{})
	assert.Equal(t, normalizer.DefaultRules, n.Rules())
}

func TestCalculateShift(t *testing.T) {
	var testScenarios = []struct {
		hour, minute int
		expected     string
	}{
		{0, 0, "APAC 1 (2022-01-31)"},
		{3, 29, "APAC 1 (2022-01-31)"},
		{3, 30, "APAC 2 (2022-01-31)"},
		{8, 29, "APAC 2 (2022-01-31)"},
		{8, 30, "EMEA (2022-01-31)"},
		{13, 29, "EMEA (2022-01-31)"},
		{13, 30, "NASA 1 (2022-01-31)"},
		{17, 59, "NASA 1 (2022-01-31)"},
		{18, 0, "NASA 2 (2022-01-31)"},
		{22, 29, "NASA 2 (2022-01-31)"},
		{22, 30, "APAC 1 (2022-01-31)"},
		{23, 59, "APAC 1 (2022-01-31)"},
	}

	for _, scenario := range testScenarios {
		at := time.Date(2022, 1, 31, scenario.hour, scenario.minute, 0, 0, time.UTC)
		assert.Equal(t, scenario.expected, normalizer.CalculateShift(at), at.String())
	}
}

func TestCalculateShiftConvertsToUTC(t *testing.T) {
	zone := time.FixedZone("UTC+3", 3*3600)
	at := time.Date(2022, 2, 1, 1, 0, 0, 0, zone)
	assert.Equal(t, "NASA 2 (2022-01-31)", normalizer.CalculateShift(at))
}

func TestExtractNamespace(t *testing.T) {
	firing := "Labels:\n - alertname = KubePodCrashLooping\n - namespace = openshift-monitoring\n - severity = critical\n"
	namespace, found := normalizer.ExtractNamespace(firing)
	assert.True(t, found)
	assert.Equal(t, "openshift-monitoring", namespace)

	_, found = normalizer.ExtractNamespace("Labels:\n - alertname = Foo\n")
	assert.False(t, found)

	// the line must be terminated
	_, found = normalizer.ExtractNamespace(" - namespace = openshift-monitoring")
	assert.False(t, found)
}

func TestIsSilenced(t *testing.T) {
	assert.False(t, normalizer.IsSilenced(nil))
	assert.False(t, normalizer.IsSilenced([]string{"John Doe", "Jane Doe"}))
	assert.True(t, normalizer.IsSilenced([]string{"John Doe", "Silent Test"}))
	assert.True(t, normalizer.IsSilenced([]string{"SILENT TEST user"}))
}
