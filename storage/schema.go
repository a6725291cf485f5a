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

// This source file contains database schema of the alert cache. The schema
// is written in SQL dialect understood by both PostgreSQL and SQLite.

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/openshift/osd-alert-analysis/types"
)

// Tables lists all cache tables in order they need to be created
var Tables = []string{
	"pd_teams",
	"pd_agents",
	"incidents",
	"incident_teams",
	"incident_assignments",
	"incident_acknowledgements",
	"alerts",
}

// schema contains DDL statements that create the whole cache
var schema = []string{
	`CREATE TABLE IF NOT EXISTS pd_teams (
		pd_id     VARCHAR(31) PRIMARY KEY,
		name      VARCHAR(511),
		html_url  VARCHAR(511),
		cached_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pd_agents (
		pd_id     VARCHAR(31) PRIMARY KEY,
		name      VARCHAR(511),
		html_url  VARCHAR(511),
		cached_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS incidents (
		pd_id          VARCHAR(31) PRIMARY KEY,
		name           VARCHAR(511),
		html_url       VARCHAR(511),
		created_at     TIMESTAMP NOT NULL,
		resolved_at    TIMESTAMP,
		esc_policy     VARCHAR(255),
		service        VARCHAR(255),
		status         VARCHAR(15),
		urgency        VARCHAR(7),
		resolved_by_id VARCHAR(31) REFERENCES pd_agents(pd_id),
		silenced       BOOLEAN NOT NULL DEFAULT FALSE,
		cached_at      TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS incident_teams (
		incident_id VARCHAR(31) NOT NULL REFERENCES incidents(pd_id),
		pdteam_id   VARCHAR(31) NOT NULL REFERENCES pd_teams(pd_id),
		PRIMARY KEY (incident_id, pdteam_id)
	)`,
	`CREATE TABLE IF NOT EXISTS incident_assignments (
		incident_id VARCHAR(31) NOT NULL REFERENCES incidents(pd_id),
		pdagent_id  VARCHAR(31) NOT NULL REFERENCES pd_agents(pd_id),
		PRIMARY KEY (incident_id, pdagent_id)
	)`,
	`CREATE TABLE IF NOT EXISTS incident_acknowledgements (
		incident_id VARCHAR(31) NOT NULL REFERENCES incidents(pd_id),
		pdagent_id  VARCHAR(31) NOT NULL REFERENCES pd_agents(pd_id),
		PRIMARY KEY (incident_id, pdagent_id)
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		pd_id          VARCHAR(31) PRIMARY KEY,
		incident_id    VARCHAR(31) NOT NULL REFERENCES incidents(pd_id),
		raw_name       VARCHAR(511),
		name           VARCHAR(511),
		html_url       VARCHAR(511),
		created_at     TIMESTAMP NOT NULL,
		service        VARCHAR(255),
		status         VARCHAR(15),
		severity       VARCHAR(15),
		suppressed     BOOLEAN NOT NULL DEFAULT FALSE,
		cluster_id     VARCHAR(40),
		shift          VARCHAR(31),
		namespace      VARCHAR(255),
		firing_details TEXT,
		cached_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS incidents_created_at_idx ON incidents (created_at)`,
	`CREATE INDEX IF NOT EXISTS alerts_created_at_idx ON alerts (created_at)`,
	`CREATE INDEX IF NOT EXISTS alerts_incident_id_idx ON alerts (incident_id)`,
}

// Migrate method creates all tables and indexes that do not exist yet.
// When read-only role is set, it is granted SELECT privilege on all cache
// tables (PostgreSQL only).
func (storage DBStorage) Migrate(ctx context.Context) error {
	if storage.readOnly {
		return ErrReadOnly
	}

	for _, statement := range schema {
		storage.logQuery(statement, nil)
		if _, err := storage.connection.ExecContext(ctx, statement); err != nil {
			log.Error().Err(err).Msg("Unable to migrate database schema")
			return err
		}
	}

	log.Info().Int("tables", len(Tables)).Msg("Database schema is up to date")
	return storage.GrantReadOnlyAccess(ctx, storage.roRole)
}

// GrantReadOnlyAccess method grants SELECT (and nothing else) on all
// cache tables to given database role. It does nothing for SQLite, which
// has no roles.
func (storage DBStorage) GrantReadOnlyAccess(ctx context.Context, role string) error {
	if storage.readOnly {
		return ErrReadOnly
	}
	if role == "" || storage.dbDriverType != types.DBDriverPostgres {
		return nil
	}

	statement := fmt.Sprintf(
		"GRANT SELECT ON %s TO %s",
		strings.Join(Tables, ", "),
		pq.QuoteIdentifier(role),
	)
	storage.logQuery(statement, nil)
	if _, err := storage.connection.ExecContext(ctx, statement); err != nil {
		log.Error().Err(err).Str("role", role).Msg("Unable to grant read-only access")
		return err
	}

	log.Info().Str("role", role).Msg("Read-only access granted")
	return nil
}
