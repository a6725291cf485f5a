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

// This source file contains the write path of the cache. All records are
// upserted by their upstream ID: immutable columns (pd_id, created_at) are
// written only once, all other columns are overwritten by the latest
// version of the record. Nothing is ever deleted except rows in link
// tables, which are replaced as a whole for every written incident.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openshift/osd-alert-analysis/types"
	"github.com/openshift/osd-alert-analysis/utils"
)

// maximum lengths of text columns
const (
	maxEntityNameLength = 511
	maxURLLength        = 511
	maxServiceLength    = 255
	maxPolicyLength     = 255
	maxClusterIDLength  = 40
	maxNamespaceLength  = 255
	maxShiftLength      = 31
)

// SQL statements
const (
	upsertTeamStatement = `
		INSERT INTO pd_teams (pd_id, name, html_url, cached_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pd_id) DO UPDATE
		   SET name = excluded.name,
		       html_url = excluded.html_url,
		       cached_at = excluded.cached_at
`

	upsertAgentStatement = `
		INSERT INTO pd_agents (pd_id, name, html_url, cached_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pd_id) DO UPDATE
		   SET name = excluded.name,
		       html_url = excluded.html_url,
		       cached_at = excluded.cached_at
`

	upsertIncidentStatement = `
		INSERT INTO incidents (pd_id, name, html_url, created_at, resolved_at,
		                       esc_policy, service, status, urgency,
		                       resolved_by_id, silenced, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (pd_id) DO UPDATE
		   SET name = excluded.name,
		       html_url = excluded.html_url,
		       resolved_at = excluded.resolved_at,
		       esc_policy = excluded.esc_policy,
		       service = excluded.service,
		       status = excluded.status,
		       urgency = excluded.urgency,
		       resolved_by_id = excluded.resolved_by_id,
		       silenced = excluded.silenced,
		       cached_at = excluded.cached_at
`

	deleteIncidentTeamsStatement           = "DELETE FROM incident_teams WHERE incident_id = $1"
	deleteIncidentAssignmentsStatement     = "DELETE FROM incident_assignments WHERE incident_id = $1"
	deleteIncidentAcknowledgementStatement = "DELETE FROM incident_acknowledgements WHERE incident_id = $1"

	insertIncidentTeamStatement = `
		INSERT INTO incident_teams (incident_id, pdteam_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
`

	insertIncidentAssignmentStatement = `
		INSERT INTO incident_assignments (incident_id, pdagent_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
`

	insertIncidentAcknowledgementStatement = `
		INSERT INTO incident_acknowledgements (incident_id, pdagent_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
`

	upsertAlertStatement = `
		INSERT INTO alerts (pd_id, incident_id, raw_name, name, html_url,
		                    created_at, service, status, severity, suppressed,
		                    cluster_id, shift, namespace, firing_details, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (pd_id) DO UPDATE
		   SET incident_id = excluded.incident_id,
		       raw_name = excluded.raw_name,
		       name = excluded.name,
		       html_url = excluded.html_url,
		       service = excluded.service,
		       status = excluded.status,
		       severity = excluded.severity,
		       suppressed = excluded.suppressed,
		       cluster_id = excluded.cluster_id,
		       shift = excluded.shift,
		       namespace = excluded.namespace,
		       firing_details = excluded.firing_details,
		       cached_at = excluded.cached_at
`

	updateAlertNameStatement = "UPDATE alerts SET name = $1 WHERE pd_id = $2"
)

// execer is implemented by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// WriteBatch method writes all given records in one transaction. Either all
// records are written or none of them. Records with the same incident ID
// are collapsed, the last one wins.
func (storage DBStorage) WriteBatch(ctx context.Context, records []types.IncidentRecord) (BatchResult, error) {
	if storage.readOnly {
		return BatchResult{}, ErrReadOnly
	}

	records = CollapseDuplicates(records)
	if len(records) == 0 {
		return BatchResult{}, nil
	}

	tx, err := storage.connection.BeginTx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Msg("Unable to start transaction")
		return BatchResult{}, err
	}

	cachedAt := time.Now()
	alertIDs := make(map[types.PDID]struct{})

	for _, record := range records {
		err := storage.writeRecord(ctx, tx, record, cachedAt)
		if err != nil {
			log.Error().
				Err(err).
				Str(IncidentIDMessage, string(record.Incident.ID)).
				Msg("Unable to write incident, rolling back the whole batch")
			storage.rollback(tx)
			return BatchResult{}, err
		}
		for _, alert := range record.Alerts {
			alertIDs[alert.ID] = struct{}{}
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("Unable to commit transaction")
		return BatchResult{}, err
	}

	result := BatchResult{Incidents: len(records), Alerts: len(alertIDs)}
	log.Debug().
		Int("incidents", result.Incidents).
		Int("alerts", result.Alerts).
		Msg("Batch written")
	return result, nil
}

// UpsertIncident method writes one incident together with its alerts
func (storage DBStorage) UpsertIncident(ctx context.Context, record types.IncidentRecord) error {
	_, err := storage.WriteBatch(ctx, []types.IncidentRecord{record})
	return err
}

// UpsertAlert method writes one alert. Its parent incident must already be
// stored.
func (storage DBStorage) UpsertAlert(ctx context.Context, alert types.Alert) error {
	if storage.readOnly {
		return ErrReadOnly
	}
	return storage.upsertAlert(ctx, storage.connection, alert, time.Now())
}

// UpdateAlertName method replaces standardized name of one alert. Empty
// name is stored as NULL.
func (storage DBStorage) UpdateAlertName(ctx context.Context, id types.PDID, name string) error {
	if storage.readOnly {
		return ErrReadOnly
	}
	storage.logQuery(updateAlertNameStatement, []any{name, id})
	_, err := storage.connection.ExecContext(ctx, updateAlertNameStatement, nullString(name), string(id))
	return err
}

// CollapseDuplicates returns records with unique incident IDs. When an
// incident is present more than once, the last version is kept on the
// position of the first one.
func CollapseDuplicates(records []types.IncidentRecord) []types.IncidentRecord {
	positions := make(map[types.PDID]int, len(records))
	result := make([]types.IncidentRecord, 0, len(records))

	for _, record := range records {
		if position, found := positions[record.Incident.ID]; found {
			result[position] = record
			continue
		}
		positions[record.Incident.ID] = len(result)
		result = append(result, record)
	}

	return result
}

func (storage DBStorage) writeRecord(ctx context.Context, tx execer, record types.IncidentRecord, cachedAt time.Time) error {
	incidentID := record.Incident.ID

	for _, team := range uniqueEntities(record.Teams) {
		if err := storage.upsertEntity(ctx, tx, upsertTeamStatement, team, cachedAt); err != nil {
			return fmt.Errorf("unable to write team %s: %w", team.ID, err)
		}
	}

	agents := append([]types.Entity{}, record.AssignedTo...)
	agents = append(agents, record.AcknowledgedBy...)
	if record.ResolvedBy != nil {
		agents = append(agents, *record.ResolvedBy)
	}
	for _, agent := range uniqueEntities(agents) {
		if err := storage.upsertEntity(ctx, tx, upsertAgentStatement, agent, cachedAt); err != nil {
			return fmt.Errorf("unable to write agent %s: %w", agent.ID, err)
		}
	}

	if err := storage.upsertIncident(ctx, tx, record, cachedAt); err != nil {
		return fmt.Errorf("unable to write incident %s: %w", incidentID, err)
	}

	if err := storage.replaceLinks(ctx, tx, incidentID,
		deleteIncidentTeamsStatement, insertIncidentTeamStatement, record.Teams); err != nil {
		return fmt.Errorf("unable to write teams of incident %s: %w", incidentID, err)
	}
	if err := storage.replaceLinks(ctx, tx, incidentID,
		deleteIncidentAssignmentsStatement, insertIncidentAssignmentStatement, record.AssignedTo); err != nil {
		return fmt.Errorf("unable to write assignments of incident %s: %w", incidentID, err)
	}
	if err := storage.replaceLinks(ctx, tx, incidentID,
		deleteIncidentAcknowledgementStatement, insertIncidentAcknowledgementStatement, record.AcknowledgedBy); err != nil {
		return fmt.Errorf("unable to write acknowledgements of incident %s: %w", incidentID, err)
	}

	for _, alert := range record.Alerts {
		// alert always belongs to the incident it has been fetched with
		alert.IncidentID = incidentID
		if err := storage.upsertAlert(ctx, tx, alert, cachedAt); err != nil {
			return fmt.Errorf("unable to write alert %s: %w", alert.ID, err)
		}
	}

	return nil
}

func (storage DBStorage) upsertEntity(ctx context.Context, tx execer, statement string, entity types.Entity, cachedAt time.Time) error {
	args := []any{
		string(entity.ID),
		nullString(utils.Truncate(entity.Name, maxEntityNameLength)),
		nullString(utils.Truncate(entity.HTMLURL, maxURLLength)),
		storage.timestamp(cachedAt),
	}
	storage.logQuery(statement, args)
	_, err := tx.ExecContext(ctx, statement, args...)
	return err
}

func (storage DBStorage) upsertIncident(ctx context.Context, tx execer, record types.IncidentRecord, cachedAt time.Time) error {
	incident := record.Incident

	var resolvedBy any
	if record.ResolvedBy != nil {
		resolvedBy = string(record.ResolvedBy.ID)
	}

	args := []any{
		string(incident.ID),
		nullString(utils.Truncate(incident.Name, maxEntityNameLength)),
		nullString(utils.Truncate(incident.HTMLURL, maxURLLength)),
		storage.timestamp(incident.CreatedAt),
		storage.nullableTimestamp(incident.ResolvedAt),
		nullString(utils.Truncate(incident.EscalationPolicy, maxPolicyLength)),
		nullString(utils.Truncate(incident.Service, maxServiceLength)),
		nullString(incident.Status),
		nullString(incident.Urgency),
		resolvedBy,
		incident.Silenced,
		storage.timestamp(cachedAt),
	}
	storage.logQuery(upsertIncidentStatement, args)
	_, err := tx.ExecContext(ctx, upsertIncidentStatement, args...)
	return err
}

func (storage DBStorage) replaceLinks(ctx context.Context, tx execer, incidentID types.PDID,
	deleteStatement, insertStatement string, entities []types.Entity) error {
	storage.logQuery(deleteStatement, []any{incidentID})
	if _, err := tx.ExecContext(ctx, deleteStatement, string(incidentID)); err != nil {
		return err
	}

	for _, entity := range uniqueEntities(entities) {
		storage.logQuery(insertStatement, []any{incidentID, entity.ID})
		if _, err := tx.ExecContext(ctx, insertStatement, string(incidentID), string(entity.ID)); err != nil {
			return err
		}
	}
	return nil
}

func (storage DBStorage) upsertAlert(ctx context.Context, tx execer, alert types.Alert, cachedAt time.Time) error {
	args := []any{
		string(alert.ID),
		string(alert.IncidentID),
		nullString(utils.Truncate(alert.RawName, maxEntityNameLength)),
		nullString(utils.Truncate(alert.Name, maxEntityNameLength)),
		nullString(utils.Truncate(alert.HTMLURL, maxURLLength)),
		storage.timestamp(alert.CreatedAt),
		nullString(utils.Truncate(alert.Service, maxServiceLength)),
		nullString(alert.Status),
		nullString(alert.Severity),
		alert.Suppressed,
		nullString(utils.Truncate(alert.ClusterID, maxClusterIDLength)),
		nullString(utils.Truncate(alert.Shift, maxShiftLength)),
		nullString(utils.Truncate(alert.Namespace, maxNamespaceLength)),
		nullString(alert.FiringDetails),
		storage.timestamp(cachedAt),
	}
	storage.logQuery(upsertAlertStatement, args)
	_, err := tx.ExecContext(ctx, upsertAlertStatement, args...)
	return err
}

func (storage DBStorage) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		log.Error().Err(err).Msg(unableToRollback)
	}
}

// uniqueEntities removes entities with duplicate IDs, the last version wins
func uniqueEntities(entities []types.Entity) []types.Entity {
	positions := make(map[types.PDID]int, len(entities))
	result := make([]types.Entity, 0, len(entities))
	for _, entity := range entities {
		if position, found := positions[entity.ID]; found {
			result[position] = entity
			continue
		}
		positions[entity.ID] = len(result)
		result = append(result, entity)
	}
	return result
}

// nullString converts empty string into NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
