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

// Package fixtures contains test data shared by unit tests of several
// packages.
package fixtures

import (
	"fmt"
	"time"

	"github.com/openshift/osd-alert-analysis/normalizer"
	"github.com/openshift/osd-alert-analysis/types"
)

// Well-known entities used in test records
var (
	Team = types.Entity{
		ID:      "PASPK4G",
		Name:    "Platform SRE",
		HTMLURL: "https://redhat.pagerduty.com/teams/PASPK4G",
	}
	JohnDoe = types.Entity{
		ID:      "XXQS1TQ",
		Name:    "John Doe",
		HTMLURL: "https://redhat.pagerduty.com/users/XXQS1TQ",
	}
	JaneDoe = types.Entity{
		ID:      "PA88GTF",
		Name:    "Jane Doe",
		HTMLURL: "https://redhat.pagerduty.com/users/PA88GTF",
	}
	SilentTest = types.Entity{
		ID:      "PSILENT",
		Name:    "Silent Test",
		HTMLURL: "https://redhat.pagerduty.com/users/PSILENT",
	}
)

// Time1 is creation time of the default incident
var Time1 = time.Date(2022, 1, 31, 19, 20, 53, 0, time.UTC)

// FiringDetails is a typical firing details section of an alert
const FiringDetails = "Labels:\n - alertname = KubePodCrashLooping\n - namespace = openshift-monitoring\n - severity = critical\n"

// IncidentID returns deterministic incident ID for given sequence number
func IncidentID(i int) types.PDID {
	return types.PDID(fmt.Sprintf("Q%012d", i))
}

// AlertID returns deterministic alert ID for given incident and alert
// sequence numbers
func AlertID(incident, alert int) types.PDID {
	return types.PDID(fmt.Sprintf("A%08d%04d", incident, alert))
}

// NewIncident returns incident with given ID created at given time
func NewIncident(id types.PDID, createdAt time.Time) types.Incident {
	return types.Incident{
		ID:               id,
		Name:             "[#868037] KubePodCrashLooping CRITICAL (6)",
		HTMLURL:          "https://redhat.pagerduty.com/incidents/" + string(id),
		CreatedAt:        createdAt,
		Service:          "osd-cpaas-ci.w7mj.p1.openshiftapps.com-hive-cluster",
		Status:           "triggered",
		Urgency:          "high",
		EscalationPolicy: "OSD Escalation Policy (PA4586M)",
	}
}

// NewAlert returns alert of given incident created at given time
func NewAlert(id, incidentID types.PDID, createdAt time.Time) types.Alert {
	raw := "KubePodCrashLooping CRITICAL (6)"
	name, _ := normalizer.Standardize(raw)
	namespace, _ := normalizer.ExtractNamespace(FiringDetails)
	return types.Alert{
		ID:            id,
		IncidentID:    incidentID,
		RawName:       raw,
		Name:          name,
		HTMLURL:       "https://redhat.pagerduty.com/alerts/" + string(id),
		CreatedAt:     createdAt,
		Service:       "osd-cpaas-ci.w7mj.p1.openshiftapps.com-hive-cluster",
		Status:        "triggered",
		Severity:      "critical",
		ClusterID:     "0123456789abcdef0123456789abcdef",
		Shift:         normalizer.CalculateShift(createdAt),
		Namespace:     namespace,
		FiringDetails: FiringDetails,
	}
}

// NewRecord returns incident record with given number of alerts. All
// alerts are created at the same time as the incident.
func NewRecord(i int, createdAt time.Time, alerts int) types.IncidentRecord {
	id := IncidentID(i)
	record := types.IncidentRecord{
		Incident:   NewIncident(id, createdAt),
		Teams:      []types.Entity{Team},
		AssignedTo: []types.Entity{JohnDoe},
		Alerts:     make([]types.Alert, 0, alerts),
	}
	for a := 0; a < alerts; a++ {
		record.Alerts = append(record.Alerts, NewAlert(AlertID(i, a), id, createdAt))
	}
	return record
}

// ResolvedRecord returns incident record that has been acknowledged and
// resolved by given agent
func ResolvedRecord(i int, createdAt time.Time, resolvedAt time.Time, agent types.Entity) types.IncidentRecord {
	record := NewRecord(i, createdAt, 1)
	record.Incident.Status = "resolved"
	record.Incident.ResolvedAt = &resolvedAt
	record.AcknowledgedBy = []types.Entity{agent}
	record.ResolvedBy = &agent
	for a := range record.Alerts {
		record.Alerts[a].Status = "resolved"
	}
	return record
}
