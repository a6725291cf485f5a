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

// Package pdserver contains fake PagerDuty REST API server serving given
// incident records. It is used by unit tests of the upstream client and
// of the updater.
package pdserver

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/openshift/osd-alert-analysis/types"
)

// Token is API token accepted by the server
const Token = "pd-test-token"

// Failure describes injected failure of upcoming requests
type Failure struct {
	StatusCode int
	RetryAfter string
	Count      int
}

// Server is a fake PagerDuty API
type Server struct {
	*httptest.Server

	mutex     sync.Mutex
	records   []types.IncidentRecord
	failures  []Failure
	requests  []string
	rawAlerts map[types.PDID][]map[string]any
}

// New starts fake server serving given records
func New(records []types.IncidentRecord) *Server {
	server := &Server{
		records:   slices.Clone(records),
		rawAlerts: map[types.PDID][]map[string]any{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /incidents", server.handleIncidents)
	mux.HandleFunc("GET /incidents/{id}/log_entries", server.handleLogEntries)
	mux.HandleFunc("GET /incidents/{id}/alerts", server.handleAlerts)

	server.Server = httptest.NewServer(server.middleware(mux))
	return server
}

// SetRecords replaces served records
func (s *Server) SetRecords(records []types.IncidentRecord) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.records = slices.Clone(records)
}

// SetRawAlerts makes the server return given alert objects for given
// incident instead of the ones derived from records
func (s *Server) SetRawAlerts(incidentID types.PDID, alerts []map[string]any) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.rawAlerts[incidentID] = alerts
}

// Fail makes the server fail next requests
func (s *Server) Fail(failure Failure) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failures = append(s.failures, failure)
}

// Requests returns request URIs received so far
func (s *Server) Requests() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return slices.Clone(s.requests)
}

// RequestsTo returns number of requests with given path prefix
func (s *Server) RequestsTo(prefix string) int {
	count := 0
	for _, request := range s.Requests() {
		if strings.HasPrefix(request, prefix) {
			count++
		}
	}
	return count
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mutex.Lock()
		s.requests = append(s.requests, r.URL.RequestURI())
		var failure *Failure
		if len(s.failures) > 0 {
			failure = &Failure{StatusCode: s.failures[0].StatusCode, RetryAfter: s.failures[0].RetryAfter}
			s.failures[0].Count--
			if s.failures[0].Count <= 0 {
				s.failures = s.failures[1:]
			}
		}
		s.mutex.Unlock()

		if failure != nil {
			if failure.RetryAfter != "" {
				w.Header().Set("Retry-After", failure.RetryAfter)
			}
			writeJSON(w, failure.StatusCode, map[string]any{
				"error": map[string]any{"message": http.StatusText(failure.StatusCode)},
			})
			return
		}

		if r.Header.Get("Authorization") != "Token token="+Token {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"message": "Unauthorized", "code": 2006},
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	since, errSince := parseTime(query.Get("since"))
	until, errUntil := parseTime(query.Get("until"))
	if errSince != nil || errUntil != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "Invalid Input Provided"}})
		return
	}
	limit, offset := pagination(r)
	teams := query["team_ids[]"]

	s.mutex.Lock()
	selected := make([]types.IncidentRecord, 0, len(s.records))
	for _, record := range s.records {
		createdAt := record.Incident.CreatedAt
		if !since.IsZero() && createdAt.Before(since) {
			continue
		}
		if !until.IsZero() && !createdAt.Before(until) {
			continue
		}
		if !inTeams(record, teams) {
			continue
		}
		selected = append(selected, record)
	}
	s.mutex.Unlock()

	slices.SortStableFunc(selected, func(a, b types.IncidentRecord) int {
		return b.Incident.CreatedAt.Compare(a.Incident.CreatedAt)
	})

	page := window(selected, offset, limit)
	incidents := make([]map[string]any, 0, len(page))
	for _, record := range page {
		incidents = append(incidents, renderIncident(record))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": incidents,
		"limit":     limit,
		"offset":    offset,
		"more":      offset+len(page) < len(selected),
	})
}

func (s *Server) handleLogEntries(w http.ResponseWriter, r *http.Request) {
	record, found := s.find(types.PDID(r.PathValue("id")))
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"message": "Not Found"}})
		return
	}

	entries := renderLogEntries(record)
	limit, offset := pagination(r)
	page := window(entries, offset, limit)

	writeJSON(w, http.StatusOK, map[string]any{
		"log_entries": page,
		"limit":       limit,
		"offset":      offset,
		"more":        offset+len(page) < len(entries),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	id := types.PDID(r.PathValue("id"))
	record, found := s.find(id)
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"message": "Not Found"}})
		return
	}

	s.mutex.Lock()
	alerts, raw := s.rawAlerts[id]
	s.mutex.Unlock()

	if !raw {
		for _, alert := range record.Alerts {
			alerts = append(alerts, renderAlert(alert))
		}
	}

	limit, offset := pagination(r)
	page := window(alerts, offset, limit)

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": page,
		"limit":  limit,
		"offset": offset,
		"more":   offset+len(page) < len(alerts),
	})
}

func (s *Server) find(id types.PDID) (types.IncidentRecord, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, record := range s.records {
		if record.Incident.ID == id {
			return record, true
		}
	}
	return types.IncidentRecord{}, false
}

func inTeams(record types.IncidentRecord, teams []string) bool {
	if len(teams) == 0 {
		return true
	}
	for _, team := range record.Teams {
		if slices.Contains(teams, string(team.ID)) {
			return true
		}
	}
	return false
}

func renderEntity(entity types.Entity) map[string]any {
	return map[string]any{
		"id":       entity.ID,
		"summary":  entity.Name,
		"html_url": entity.HTMLURL,
	}
}

func renderIncident(record types.IncidentRecord) map[string]any {
	incident := record.Incident

	teams := make([]map[string]any, 0, len(record.Teams))
	for _, team := range record.Teams {
		teams = append(teams, renderEntity(team))
	}

	result := map[string]any{
		"id":         incident.ID,
		"type":       "incident",
		"summary":    incident.Name,
		"html_url":   incident.HTMLURL,
		"created_at": incident.CreatedAt.UTC().Format(time.RFC3339),
		"status":     incident.Status,
		"urgency":    incident.Urgency,
		"service":    map[string]any{"id": "PSERVICE", "summary": incident.Service},
		"teams":      teams,
	}

	// escalation policy is kept in "<summary> (<id>)" form
	if open := strings.LastIndex(incident.EscalationPolicy, " ("); open >= 0 {
		result["escalation_policy"] = map[string]any{
			"id":      strings.TrimSuffix(incident.EscalationPolicy[open+2:], ")"),
			"summary": incident.EscalationPolicy[:open],
		}
	}
	return result
}

func renderLogEntries(record types.IncidentRecord) []map[string]any {
	createdAt := record.Incident.CreatedAt.UTC().Format(time.RFC3339)
	entries := []map[string]any{{"type": "trigger_log_entry", "created_at": createdAt}}

	if len(record.AssignedTo) > 0 {
		assignees := make([]map[string]any, 0, len(record.AssignedTo))
		for _, agent := range record.AssignedTo {
			assignees = append(assignees, renderEntity(agent))
		}
		entries = append(entries, map[string]any{
			"type":       "assign_log_entry",
			"created_at": createdAt,
			"assignees":  assignees,
		})
	}

	for _, agent := range record.AcknowledgedBy {
		entries = append(entries, map[string]any{
			"type":       "acknowledge_log_entry",
			"created_at": createdAt,
			"agent":      renderEntity(agent),
		})
	}

	if record.Incident.ResolvedAt != nil {
		entry := map[string]any{
			"type":       "resolve_log_entry",
			"created_at": record.Incident.ResolvedAt.UTC().Format(time.RFC3339),
		}
		if record.ResolvedBy != nil {
			entry["agent"] = renderEntity(*record.ResolvedBy)
		}
		entries = append(entries, entry)
	}
	return entries
}

func renderAlert(alert types.Alert) map[string]any {
	details := map[string]any{
		"alert_name": alert.RawName,
		"firing":     alert.FiringDetails,
	}
	if alert.ClusterID != "" {
		details["cluster_id"] = alert.ClusterID
	} else {
		details["cluster_id"] = nil
	}

	return map[string]any{
		"id":         alert.ID,
		"type":       "alert",
		"summary":    alert.RawName,
		"html_url":   alert.HTMLURL,
		"created_at": alert.CreatedAt.UTC().Format(time.RFC3339),
		"status":     alert.Status,
		"severity":   alert.Severity,
		"suppressed": alert.Suppressed,
		"service":    map[string]any{"id": "PSERVICE", "summary": alert.Service},
		"incident":   map[string]any{"id": alert.IncidentID},
		"body":       map[string]any{"details": details},
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 25
	if value, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && value > 0 {
		limit = min(value, 100)
	}
	if value, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && value > 0 {
		offset = value
	}
	return limit, offset
}

func window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	return items[offset:min(offset+limit, len(items))]
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
