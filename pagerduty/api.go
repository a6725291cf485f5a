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

package pagerduty

// This source file contains data structures returned by PagerDuty REST API
// and their conversion into cached records.

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/openshift/osd-alert-analysis/normalizer"
	"github.com/openshift/osd-alert-analysis/types"
	"github.com/openshift/osd-alert-analysis/utils"
)

// log entry types handled while populating incident
const (
	resolveLogEntry     = "resolve_log_entry"
	acknowledgeLogEntry = "acknowledge_log_entry"
	assignLogEntry      = "assign_log_entry"
)

const (
	maxNameLength      = 511
	maxServiceLength   = 255
	maxClusterIDLength = 40
)

// reference is the short form of any PagerDuty object
type reference struct {
	ID      types.PDID `json:"id"`
	Summary string     `json:"summary"`
	HTMLURL string     `json:"html_url"`
}

type incident struct {
	ID               types.PDID  `json:"id"`
	Summary          string      `json:"summary"`
	HTMLURL          string      `json:"html_url"`
	CreatedAt        time.Time   `json:"created_at"`
	Status           string      `json:"status"`
	Urgency          string      `json:"urgency"`
	Service          reference   `json:"service"`
	EscalationPolicy *reference  `json:"escalation_policy"`
	Teams            []reference `json:"teams"`
}

type logEntry struct {
	Type      string      `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
	Agent     *reference  `json:"agent"`
	Assignees []reference `json:"assignees"`
}

type alert struct {
	ID         types.PDID `json:"id"`
	Summary    string     `json:"summary"`
	HTMLURL    string     `json:"html_url"`
	CreatedAt  time.Time  `json:"created_at"`
	Status     string     `json:"status"`
	Severity   string     `json:"severity"`
	Suppressed bool       `json:"suppressed"`
	Service    reference  `json:"service"`
	Incident   reference  `json:"incident"`
	Body       struct {
		// details are free-form, some integrations send plain string
		Details json.RawMessage `json:"details"`
	} `json:"body"`
}

// alertDetails are the fields of alert details section produced by
// Alertmanager integration
type alertDetails struct {
	AlertName *string
	ClusterID *string
	Firing    *string
}

// paginated responses
type (
	incidentsPage struct {
		Incidents []incident `json:"incidents"`
		More      bool       `json:"more"`
	}

	logEntriesPage struct {
		LogEntries []logEntry `json:"log_entries"`
		More       bool       `json:"more"`
	}

	alertsPage struct {
		Alerts []alert `json:"alerts"`
		More   bool    `json:"more"`
	}
)

func (r reference) entity() types.Entity {
	return types.Entity{
		ID:      r.ID,
		Name:    utils.Truncate(r.Summary, maxNameLength),
		HTMLURL: utils.Truncate(r.HTMLURL, maxNameLength),
	}
}

// convertIncident converts incident together with its log entries into
// cached record, alerts are added by caller
func convertIncident(src incident, entries []logEntry) types.IncidentRecord {
	record := types.IncidentRecord{
		Incident: types.Incident{
			ID:        src.ID,
			Name:      utils.Truncate(src.Summary, maxNameLength),
			HTMLURL:   utils.Truncate(src.HTMLURL, maxNameLength),
			CreatedAt: src.CreatedAt.UTC(),
			Service:   utils.Truncate(src.Service.Summary, maxServiceLength),
			Status:    src.Status,
			Urgency:   src.Urgency,
		},
	}

	if src.EscalationPolicy != nil && src.EscalationPolicy.ID != "" {
		record.Incident.EscalationPolicy = src.EscalationPolicy.Summary + " (" + string(src.EscalationPolicy.ID) + ")"
	} else {
		log.Warn().Str(incidentIDAttribute, string(src.ID)).Msg("Escalation policy is missing or invalid")
	}

	for _, team := range src.Teams {
		record.Teams = append(record.Teams, team.entity())
	}

	for _, entry := range entries {
		switch entry.Type {
		case resolveLogEntry:
			resolvedAt := entry.CreatedAt.UTC()
			record.Incident.ResolvedAt = &resolvedAt
			if entry.Agent != nil {
				agent := entry.Agent.entity()
				record.ResolvedBy = &agent
			}
		case acknowledgeLogEntry:
			if entry.Agent != nil {
				record.AcknowledgedBy = append(record.AcknowledgedBy, entry.Agent.entity())
			}
		case assignLogEntry:
			for _, assignee := range entry.Assignees {
				record.AssignedTo = append(record.AssignedTo, assignee.entity())
			}
		}
	}

	names := make([]string, 0, len(record.AssignedTo))
	for _, assignee := range record.AssignedTo {
		names = append(names, assignee.Name)
	}
	record.Incident.Silenced = normalizer.IsSilenced(names)

	return record
}

// convertAlert converts alert into cached record, standardizing its name
func convertAlert(src alert, n *normalizer.Normalizer) types.Alert {
	result := types.Alert{
		ID:         src.ID,
		IncidentID: src.Incident.ID,
		HTMLURL:    utils.Truncate(src.HTMLURL, maxNameLength),
		CreatedAt:  src.CreatedAt.UTC(),
		Service:    utils.Truncate(src.Service.Summary, maxServiceLength),
		Status:     src.Status,
		Severity:   src.Severity,
		Suppressed: src.Suppressed,
		Shift:      normalizer.CalculateShift(src.CreatedAt),
	}

	details := parseDetails(src.Body.Details)

	// some alerts (cluster has gone missing) have no standard details
	result.RawName = src.Summary
	if details.AlertName != nil {
		result.RawName = *details.AlertName
	}

	name, err := n.Standardize(result.RawName)
	if err != nil {
		log.Warn().Err(err).Str(alertIDAttribute, string(src.ID)).Msg("Alert name is missing or invalid")
	} else {
		result.Name = name
	}

	if details.ClusterID != nil {
		result.ClusterID = utils.Truncate(*details.ClusterID, maxClusterIDLength)
	}

	if details.Firing != nil {
		result.FiringDetails = *details.Firing
		if namespace, found := normalizer.ExtractNamespace(result.FiringDetails); found {
			result.Namespace = namespace
		}
	}

	return result
}

// parseDetails reads known string fields from alert details; fields with
// other types and non-object details are ignored
func parseDetails(raw json.RawMessage) alertDetails {
	var details alertDetails

	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return details
	}

	details.AlertName = stringField(fields, "alert_name")
	details.ClusterID = stringField(fields, "cluster_id")
	details.Firing = stringField(fields, "firing")
	return details
}

func stringField(fields map[string]json.RawMessage, key string) *string {
	raw, found := fields[key]
	if !found || string(raw) == "null" {
		return nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}
	return &value
}
