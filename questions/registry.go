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

package questions

import (
	"fmt"

	"github.com/openshift/osd-alert-analysis/types"
)

// SQL fragments shared by questions. Alerts are aliased "a", their
// incidents "i".
const (
	acknowledged = `EXISTS (
		SELECT 1 FROM incident_acknowledgements ack WHERE ack.incident_id = i.pd_id)`

	resolvedByAlertmanager = `EXISTS (
		SELECT 1 FROM pd_agents resolver
		 WHERE resolver.pd_id = i.resolved_by_id
		   AND resolver.name LIKE '%Alertmanager%')`

	aggregateByAlert = `
		SELECT a.name, a.namespace, i.urgency, i.silenced, COUNT(*) AS occurrences
		  FROM alerts a
		  JOIN incidents i ON i.pd_id = a.incident_id
		 WHERE %s
		   AND %s
		 GROUP BY a.name, a.namespace, i.urgency, i.silenced
		HAVING COUNT(*) > 1
		 ORDER BY occurrences DESC, a.name, a.namespace
`

	flappingPerShift = `
		SELECT cluster_id, name, namespace, urgency, SUM(flap_count) AS flaps
		  FROM (
			SELECT a.cluster_id, a.name, a.namespace, a.shift, i.urgency, COUNT(*) AS flap_count
			  FROM alerts a
			  JOIN incidents i ON i.pd_id = a.incident_id
			 WHERE %s
			 GROUP BY a.cluster_id, a.name, a.namespace, a.shift, i.urgency
			HAVING COUNT(*) > 1
		  ) flapping
		 GROUP BY cluster_id, name, namespace, urgency
		 ORDER BY flaps DESC, cluster_id, name
`
)

// resolvedWithin15Minutes returns condition selecting incidents resolved
// within 15 minutes from their creation
func resolvedWithin15Minutes(driver types.DBDriver) string {
	if driver == types.DBDriverSQLite3 {
		return "(julianday(i.resolved_at) - julianday(i.created_at)) * 1440.0 < 15.0"
	}
	return "i.resolved_at < i.created_at + INTERVAL '15 minutes'"
}

// aggregated returns statement builder of question aggregating alerts
// matching given condition
func aggregated(condition func(driver types.DBDriver) string) func(types.DBDriver, string) string {
	return func(driver types.DBDriver, window string) string {
		return fmt.Sprintf(aggregateByAlert, window, condition(driver))
	}
}

func constant(condition string) func(types.DBDriver) string {
	return func(types.DBDriver) string {
		return condition
	}
}

// Registry contains all known questions in the order they are documented
var Registry = []Question{
	query{
		id:          "nack",
		className:   "QNeverAcknowledged",
		description: "Which alerts have yet to be acknowledged by SRE?",
		columnNames: StandardColumns,
		statement:   aggregated(constant("NOT " + acknowledged)),
		scan:        scanStandard,
	},
	query{
		id:          "nacksres",
		className:   "QNeverAcknowledgedSelfResolved",
		description: "Which alerts self-resolve without acknowledgement?",
		columnNames: StandardColumns,
		statement:   aggregated(constant("NOT " + acknowledged + " AND " + resolvedByAlertmanager)),
		scan:        scanStandard,
	},
	query{
		id:          "ackures",
		className:   "QAcknowledgedUnresolved",
		description: "Which alerts are acknowledged but never resolved?",
		columnNames: StandardColumns,
		statement:   aggregated(constant(acknowledged + " AND i.resolved_at IS NULL")),
		scan:        scanStandard,
	},
	query{
		id:          "sres15",
		className:   "QSelfResolvedImmediately",
		description: "Which alerts self-resolve within 15 minutes?",
		columnNames: StandardColumns,
		statement: aggregated(func(driver types.DBDriver) string {
			return "i.resolved_at IS NOT NULL AND " + resolvedByAlertmanager + " AND " + resolvedWithin15Minutes(driver)
		}),
		scan: scanStandard,
	},
	query{
		id:          "eres15",
		className:   "QSREResolvedImmediately",
		description: "Which alerts are resolved within 15 minutes by SRE?",
		columnNames: StandardColumns,
		statement: aggregated(func(driver types.DBDriver) string {
			return "i.resolved_at IS NOT NULL AND NOT " + resolvedByAlertmanager + " AND " + resolvedWithin15Minutes(driver)
		}),
		scan: scanStandard,
	},
	query{
		id:          "sflap",
		className:   "QFlappingShift",
		description: "Which alerts fire more than once per on-call shift (in the same cluster)?",
		columnNames: FlappingColumns,
		statement: func(_ types.DBDriver, window string) string {
			return fmt.Sprintf(flappingPerShift, window)
		},
		scan: scanFlapping,
	},
}

// Resolve returns questions with given names in the same order. Both class
// names (QNeverAcknowledged) and IDs (nack) are accepted.
func Resolve(names []string) ([]Question, error) {
	result := make([]Question, 0, len(names))

	for _, name := range names {
		question, found := Lookup(name)
		if !found {
			return nil, &UnknownQuestionError{Name: name}
		}
		result = append(result, question)
	}

	return result, nil
}

// Lookup returns question with given ID or class name
func Lookup(name string) (Question, bool) {
	for _, question := range Registry {
		q := question.(query)
		if q.id == name || q.className == name {
			return question, true
		}
	}
	return nil, false
}
