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

// Package normalizer contains pure functions used to derive alert
// attributes from upstream data: the standardized alert name, the on-call
// shift, the namespace and the silenced flag.
package normalizer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/openshift/osd-alert-analysis/conf"
	"github.com/openshift/osd-alert-analysis/utils"
)

// MaxNameLength is the maximum length of standardized alert name
const MaxNameLength = 500

// ErrInvalidName is returned when the raw alert name can not be standardized
var ErrInvalidName = errors.New("failed to standardize alert name")

// Rule maps every raw name containing Substring to Name
type Rule struct {
	Substring string
	Name      string
}

// DefaultRules is the standardization table used when no table is
// configured. Order matters, first matching rule wins.
var DefaultRules = []Rule{
	{Substring: "ClusterProvisioningDelay", Name: "ClusterProvisioningDelay"},
	{Substring: "has gone missing", Name: "ClusterHasGoneMissing"},
	{Substring: "Heartbeat.ping has failed", Name: "HeartbeatPingFailed"},
	{Substring: "CUST ESCALATION", Name: "CustomerEscalation"},
}

// Normalizer standardizes alert names using an ordered rule table
type Normalizer struct {
	rules []Rule
}

// New constructs normalizer with given rule table. DefaultRules are used
// when the table is empty.
func New(rules []Rule) *Normalizer {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	copied := make([]Rule, len(rules))
	copy(copied, rules)
	return &Normalizer{rules: copied}
}

// NewFromConfiguration constructs normalizer from the [normalizer] section
// of configuration file
func NewFromConfiguration(configuration conf.NormalizerConfiguration) *Normalizer {
	rules := make([]Rule, 0, len(configuration.Rules))
	for _, r := range configuration.Rules {
		rules = append(rules, Rule{Substring: r.Substring, Name: r.Name})
	}
	return New(rules)
}

// Rules returns copy of the rule table used by normalizer
func (n *Normalizer) Rules() []Rule {
	copied := make([]Rule, len(n.rules))
	copy(copied, n.rules)
	return copied
}

// Standardize returns the standardized (abbreviated) alert name. When no
// rule matches, the first word of the raw name is used.
func (n *Normalizer) Standardize(raw string) (string, error) {
	for _, rule := range n.rules {
		if strings.Contains(raw, rule.Substring) {
			return rule.Name, nil
		}
	}

	words := strings.Fields(raw)
	if len(words) == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, raw)
	}
	return utils.Truncate(words[0], MaxNameLength), nil
}

// Standardize standardizes alert name using DefaultRules
func Standardize(raw string) (string, error) {
	return defaultNormalizer.Standardize(raw)
}

var defaultNormalizer = New(DefaultRules)

// CalculateShift maps given time to the on-call shift that was active at
// that moment. The result looks like "EMEA (2022-01-31)".
func CalculateShift(t time.Time) string {
	t = t.UTC()
	minutes := t.Hour()*60 + t.Minute()

	var shift string
	switch {
	case minutes < 3*60+30:
		shift = "APAC 1"
	case minutes < 8*60+30:
		shift = "APAC 2"
	case minutes < 13*60+30:
		shift = "EMEA"
	case minutes < 18*60:
		shift = "NASA 1"
	case minutes < 22*60+30:
		shift = "NASA 2"
	default:
		// end of UTC day is covered by APAC 1 of the next working day
		shift = "APAC 1"
	}

	return fmt.Sprintf("%s (%s)", shift, t.Format("2006-01-02"))
}

var namespaceRegexp = regexp.MustCompile(`namespace = (.*)\n`)

// ExtractNamespace returns the namespace mentioned in alert firing details.
// The second return value is false when there is no namespace.
func ExtractNamespace(firingDetails string) (string, bool) {
	match := namespaceRegexp.FindStringSubmatch(firingDetails)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// silencedMarker marks the assignee used for silenced incidents
const silencedMarker = "silent test"

// IsSilenced returns true when any of given assignee names contains the
// "silent test" marker (case insensitive)
func IsSilenced(assignees []string) bool {
	for _, name := range assignees {
		if strings.Contains(strings.ToLower(name), silencedMarker) {
			return true
		}
	}
	return false
}
