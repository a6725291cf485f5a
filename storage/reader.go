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

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openshift/osd-alert-analysis/types"
)

// SQL queries
const (
	// MIN(created_at) is not used: SQLite loses column type of aggregates
	oldestIncidentQuery = "SELECT created_at FROM incidents ORDER BY created_at ASC LIMIT 1"

	readIncidentQuery = `
		SELECT pd_id, name, html_url, created_at, resolved_at, esc_policy,
		       service, status, urgency, resolved_by_id, silenced, cached_at
		  FROM incidents
		 WHERE pd_id = $1
`

	readIncidentTeamsQuery = `
		SELECT t.pd_id, t.name, t.html_url
		  FROM pd_teams t
		  JOIN incident_teams it ON it.pdteam_id = t.pd_id
		 WHERE it.incident_id = $1
		 ORDER BY t.pd_id
`

	readIncidentAssigneesQuery = `
		SELECT a.pd_id, a.name, a.html_url
		  FROM pd_agents a
		  JOIN incident_assignments ia ON ia.pdagent_id = a.pd_id
		 WHERE ia.incident_id = $1
		 ORDER BY a.pd_id
`

	readIncidentAcknowledgersQuery = `
		SELECT a.pd_id, a.name, a.html_url
		  FROM pd_agents a
		  JOIN incident_acknowledgements ia ON ia.pdagent_id = a.pd_id
		 WHERE ia.incident_id = $1
		 ORDER BY a.pd_id
`

	readAgentQuery = "SELECT pd_id, name, html_url FROM pd_agents WHERE pd_id = $1"

	readIncidentAlertsQuery = `
		SELECT pd_id, incident_id, raw_name, name, html_url, created_at,
		       service, status, severity, suppressed, cluster_id, shift,
		       namespace, firing_details, cached_at
		  FROM alerts
		 WHERE incident_id = $1
		 ORDER BY created_at, pd_id
`

	readAlertNamesQuery = "SELECT pd_id, raw_name, name FROM alerts ORDER BY pd_id"
)

// OldestIncidentCreatedAt method returns creation time of the oldest cached
// incident. The second return value is false when the cache is empty.
func (storage DBStorage) OldestIncidentCreatedAt(ctx context.Context) (time.Time, bool, error) {
	return storage.readBoundary(ctx, oldestIncidentQuery)
}

// ReadCacheWindow method returns the extent of cached data for given
// entity type
func (storage DBStorage) ReadCacheWindow(ctx context.Context, table CacheTable) (types.CacheWindow, error) {
	var window types.CacheWindow

	if table != IncidentsTable && table != AlertsTable {
		return window, fmt.Errorf("table %q has no cache window", table)
	}

	count, err := storage.count(ctx, table)
	if err != nil {
		return window, err
	}
	window.Count = count
	if count == 0 {
		return window, nil
	}

	window.Oldest, _, err = storage.readBoundary(ctx,
		fmt.Sprintf("SELECT created_at FROM %s ORDER BY created_at ASC LIMIT 1", table))
	if err != nil {
		return window, err
	}

	window.Newest, _, err = storage.readBoundary(ctx,
		fmt.Sprintf("SELECT created_at FROM %s ORDER BY created_at DESC LIMIT 1", table))
	if err != nil {
		return window, err
	}

	return window, nil
}

// CountIncidents method returns number of cached incidents
func (storage DBStorage) CountIncidents(ctx context.Context) (int, error) {
	return storage.count(ctx, IncidentsTable)
}

// CountAlerts method returns number of cached alerts
func (storage DBStorage) CountAlerts(ctx context.Context) (int, error) {
	return storage.count(ctx, AlertsTable)
}

func (storage DBStorage) count(ctx context.Context, table CacheTable) (int, error) {
	var count int

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	storage.logQuery(query, nil)
	err := storage.connection.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

func (storage DBStorage) readBoundary(ctx context.Context, query string) (time.Time, bool, error) {
	var createdAt time.Time

	storage.logQuery(query, nil)
	err := storage.connection.QueryRowContext(ctx, query).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return createdAt.UTC(), true, nil
}

// ReadIncident method reads one incident with all its relations and
// alerts. ErrIncidentNotFound is returned for unknown ID.
func (storage DBStorage) ReadIncident(ctx context.Context, id types.PDID) (types.IncidentRecord, error) {
	var (
		record       types.IncidentRecord
		name         sql.NullString
		htmlURL      sql.NullString
		resolvedAt   sql.NullTime
		escPolicy    sql.NullString
		service      sql.NullString
		status       sql.NullString
		urgency      sql.NullString
		resolvedByID sql.NullString
	)

	incident := &record.Incident

	storage.logQuery(readIncidentQuery, []any{id})
	err := storage.connection.QueryRowContext(ctx, readIncidentQuery, string(id)).Scan(
		&incident.ID, &name, &htmlURL, &incident.CreatedAt, &resolvedAt,
		&escPolicy, &service, &status, &urgency, &resolvedByID,
		&incident.Silenced, &incident.CachedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return record, fmt.Errorf("%w: %s", ErrIncidentNotFound, id)
	}
	if err != nil {
		return record, err
	}

	incident.Name = name.String
	incident.HTMLURL = htmlURL.String
	incident.CreatedAt = incident.CreatedAt.UTC()
	incident.CachedAt = incident.CachedAt.UTC()
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		incident.ResolvedAt = &t
	}
	incident.EscalationPolicy = escPolicy.String
	incident.Service = service.String
	incident.Status = status.String
	incident.Urgency = urgency.String

	if record.Teams, err = storage.readEntities(ctx, readIncidentTeamsQuery, id); err != nil {
		return record, err
	}
	if record.AssignedTo, err = storage.readEntities(ctx, readIncidentAssigneesQuery, id); err != nil {
		return record, err
	}
	if record.AcknowledgedBy, err = storage.readEntities(ctx, readIncidentAcknowledgersQuery, id); err != nil {
		return record, err
	}

	if resolvedByID.Valid {
		agents, err := storage.readEntities(ctx, readAgentQuery, types.PDID(resolvedByID.String))
		if err != nil {
			return record, err
		}
		if len(agents) > 0 {
			record.ResolvedBy = &agents[0]
		}
	}

	if record.Alerts, err = storage.readAlerts(ctx, id); err != nil {
		return record, err
	}

	return record, nil
}

func (storage DBStorage) readEntities(ctx context.Context, query string, id types.PDID) ([]types.Entity, error) {
	entities := make([]types.Entity, 0)

	rows, err := storage.QueryContext(ctx, query, string(id))
	if err != nil {
		return entities, err
	}
	defer closeRows(rows)

	for rows.Next() {
		var (
			entity  types.Entity
			name    sql.NullString
			htmlURL sql.NullString
		)
		if err := rows.Scan(&entity.ID, &name, &htmlURL); err != nil {
			return entities, err
		}
		entity.Name = name.String
		entity.HTMLURL = htmlURL.String
		entities = append(entities, entity)
	}

	return entities, rows.Err()
}

func (storage DBStorage) readAlerts(ctx context.Context, incidentID types.PDID) ([]types.Alert, error) {
	alerts := make([]types.Alert, 0)

	rows, err := storage.QueryContext(ctx, readIncidentAlertsQuery, string(incidentID))
	if err != nil {
		return alerts, err
	}
	defer closeRows(rows)

	for rows.Next() {
		var (
			alert         types.Alert
			rawName       sql.NullString
			name          sql.NullString
			htmlURL       sql.NullString
			service       sql.NullString
			status        sql.NullString
			severity      sql.NullString
			clusterID     sql.NullString
			shift         sql.NullString
			namespace     sql.NullString
			firingDetails sql.NullString
		)
		err := rows.Scan(
			&alert.ID, &alert.IncidentID, &rawName, &name, &htmlURL,
			&alert.CreatedAt, &service, &status, &severity, &alert.Suppressed,
			&clusterID, &shift, &namespace, &firingDetails, &alert.CachedAt,
		)
		if err != nil {
			return alerts, err
		}
		alert.RawName = rawName.String
		alert.Name = name.String
		alert.HTMLURL = htmlURL.String
		alert.CreatedAt = alert.CreatedAt.UTC()
		alert.Service = service.String
		alert.Status = status.String
		alert.Severity = severity.String
		alert.ClusterID = clusterID.String
		alert.Shift = shift.String
		alert.Namespace = namespace.String
		alert.FiringDetails = firingDetails.String
		alert.CachedAt = alert.CachedAt.UTC()
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// ReadAlertRawNames method reads raw and standardized names of all cached
// alerts
func (storage DBStorage) ReadAlertRawNames(ctx context.Context) ([]AlertName, error) {
	names := make([]AlertName, 0)

	rows, err := storage.QueryContext(ctx, readAlertNamesQuery)
	if err != nil {
		return names, err
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			log.Error().Err(err).Msg(unableToCloseDBRowsHandle)
		}
	}()

	for rows.Next() {
		var (
			alertName AlertName
			rawName   sql.NullString
			name      sql.NullString
		)
		if err := rows.Scan(&alertName.ID, &rawName, &name); err != nil {
			return names, err
		}
		alertName.RawName = rawName.String
		alertName.Name = name.String
		names = append(names, alertName)
	}

	return names, rows.Err()
}
