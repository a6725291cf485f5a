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

// Package types contains data types shared by the updater, the storage layer,
// the PagerDuty client and the dashboard.
package types

import (
	"fmt"
	"strings"
	"time"
)

// PDID is the all-caps alphanumeric identifier PagerDuty assigns to every
// entity (incident, alert, team, user).
type PDID string

// DBDriver type for db driver enum
type DBDriver int

const (
	// DBDriverSQLite3 shows that db driver is sqlite
	DBDriverSQLite3 DBDriver = iota
	// DBDriverPostgres shows that db driver is postgres
	DBDriverPostgres
	// DBDriverGeneral general sql(used for mock now)
	DBDriverGeneral
)

// String returns the database/sql driver name
func (d DBDriver) String() string {
	switch d {
	case DBDriverSQLite3:
		return "sqlite3"
	case DBDriverPostgres:
		return "postgres"
	default:
		return "general"
	}
}

// Entity represents any PagerDuty object reference (team, user/agent). The
// API calls the human-readable name a "summary".
type Entity struct {
	ID      PDID
	Name    string
	HTMLURL string
}

// Incident represents one record from `incidents` table.
type Incident struct {
	ID               PDID
	Name             string
	HTMLURL          string
	CreatedAt        time.Time
	ResolvedAt       *time.Time
	Service          string
	Status           string
	Urgency          string
	EscalationPolicy string
	Silenced         bool
	CachedAt         time.Time
}

// Alert represents one record from `alerts` table.
type Alert struct {
	ID         PDID
	IncidentID PDID

	// RawName is the name as reported by upstream, Name is the standardized
	// one; Name is empty when RawName could not be standardized
	RawName string
	Name    string

	HTMLURL       string
	CreatedAt     time.Time
	Service       string
	Status        string
	Severity      string
	Suppressed    bool
	ClusterID     string
	Shift         string
	Namespace     string
	FiringDetails string
	CachedAt      time.Time
}

// IncidentRecord is one unit fetched from upstream: an incident together
// with data from its log entries and all its alerts. It is written to the
// cache as a whole or not at all.
type IncidentRecord struct {
	Incident       Incident
	Teams          []Entity
	AssignedTo     []Entity
	AcknowledgedBy []Entity
	ResolvedBy     *Entity
	Alerts         []Alert
}

// CacheWindow represents the extent of cached data for one entity type.
// Both timestamps are zero when there is no such record in the cache.
type CacheWindow struct {
	Oldest time.Time
	Newest time.Time
	Count  int
}

// Empty returns true if no record has been found
func (w CacheWindow) Empty() bool {
	return w.Count == 0
}

// Region represents on-call region. It roughly matches regions stored in the
// shift column of the alerts table.
type Region string

// Possible on-call regions
const (
	RegionGlobal Region = "Global"
	RegionAPAC   Region = "APAC"
	RegionEMEA   Region = "EMEA"
	RegionNASA   Region = "NASA"
)

// ParseRegion converts given string (case insensitive) into Region. Empty
// string means global region.
func ParseRegion(s string) (Region, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "GLOBAL":
		return RegionGlobal, nil
	case "APAC":
		return RegionAPAC, nil
	case "EMEA":
		return RegionEMEA, nil
	case "NASA":
		return RegionNASA, nil
	}
	return RegionGlobal, fmt.Errorf("unknown region %q", s)
}

// CliFlags represents structure holding all command line arguments/flags.
type CliFlags struct {
	Since             string
	Until             string
	Limit             int
	Backfill          int
	Verbose           int
	Renormalize       bool
	ShowVersion       bool
	ShowAuthors       bool
	ShowConfiguration bool
}
