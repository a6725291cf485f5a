/*
Copyright © 2021, 2022, 2023 Red Hat, Inc.

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

// Package storage contains an implementation of interface between Go code
// and the alert cache stored in SQL database (PostgreSQL or SQLite).
//
// Two roles are supported. The read-write storage is used by the updater,
// the read-only storage is used by the dashboard. Read-only connections are
// opened in a way that makes the database itself refuse any modification.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL database driver
	_ "github.com/mattn/go-sqlite3" // SQLite database driver

	"github.com/rs/zerolog/log"

	"github.com/openshift/osd-alert-analysis/conf"
	"github.com/openshift/osd-alert-analysis/types"
)

// Storage represents an interface to the alert cache
type Storage interface {
	Close() error
	Ping(ctx context.Context) error
	Driver() types.DBDriver
	Migrate(ctx context.Context) error

	WriteBatch(ctx context.Context, records []types.IncidentRecord) (BatchResult, error)
	UpsertIncident(ctx context.Context, record types.IncidentRecord) error
	UpsertAlert(ctx context.Context, alert types.Alert) error
	UpdateAlertName(ctx context.Context, id types.PDID, name string) error

	OldestIncidentCreatedAt(ctx context.Context) (time.Time, bool, error)
	ReadCacheWindow(ctx context.Context, table CacheTable) (types.CacheWindow, error)
	ReadIncident(ctx context.Context, id types.PDID) (types.IncidentRecord, error)
	CountIncidents(ctx context.Context) (int, error)
	CountAlerts(ctx context.Context) (int, error)
	ReadAlertRawNames(ctx context.Context) ([]AlertName, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// BatchResult contains number of distinct records written by one batch
type BatchResult struct {
	Incidents int
	Alerts    int
}

// AlertName contains both names of one stored alert
type AlertName struct {
	ID      types.PDID
	RawName string
	Name    string
}

// CacheTable selects the entity type for ReadCacheWindow
type CacheTable string

// Tables that have created_at column
const (
	IncidentsTable CacheTable = "incidents"
	AlertsTable    CacheTable = "alerts"
)

// ErrReadOnly is returned by all write operations of read-only storage
var ErrReadOnly = errors.New("storage is opened in read-only mode")

// ErrIncidentNotFound is returned by ReadIncident when there is no incident
// with given ID
var ErrIncidentNotFound = errors.New("incident not found")

// DBStorage is an implementation of Storage interface that use selected SQL
// like database like SQLite or PostgreSQL. That implementation is based on
// the standard sql package.
type DBStorage struct {
	connection    *sql.DB
	dbDriverType  types.DBDriver
	readOnly      bool
	logSQLQueries bool
	roRole        string
}

// error messages
const (
	unableToCloseDBRowsHandle = "Unable to close DB rows handle"
	unableToRollback          = "Unable to rollback transaction"
)

// other messages
const (
	IncidentIDMessage = "Incident ID"
	AlertIDMessage    = "Alert ID"
	DriverMessage     = "Driver"
)

// sqliteTimestampLayout is the format used by go-sqlite3 for binding
// time.Time values
const sqliteTimestampLayout = "2006-01-02 15:04:05.999999999-07:00"

// NewStorage function creates and initializes a new instance of Storage
// interface connected with the read-write role
func NewStorage(configuration conf.StorageConfiguration) (*DBStorage, error) {
	return newStorage(configuration, configuration.RWDBString, false)
}

// NewReadOnlyStorage function creates and initializes a new instance of
// Storage interface connected with the read-only role
func NewReadOnlyStorage(configuration conf.StorageConfiguration) (*DBStorage, error) {
	return newStorage(configuration, configuration.RODBString, true)
}

func newStorage(configuration conf.StorageConfiguration, dsn string, readOnly bool) (*DBStorage, error) {
	driverType, driverName, dataSource, err := initAndGetDriver(configuration.Driver, dsn, readOnly)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str(DriverMessage, driverName).
		Bool("read only", readOnly).
		Msg("Making connection to data storage")

	connection, err := sql.Open(driverName, dataSource)
	if err != nil {
		log.Error().Err(err).Msg("Can not connect to data storage")
		return nil, err
	}

	if driverType == types.DBDriverSQLite3 && (!readOnly || sqliteInMemory(dsn)) {
		// SQLite allows just one writer, and in-memory databases are
		// private to one connection. Read-only file connections are
		// not limited.
		connection.SetMaxOpenConns(1)
	}

	storage := NewFromConnection(connection, driverType)
	storage.readOnly = readOnly
	storage.logSQLQueries = configuration.LogSQLQueries
	storage.roRole = configuration.RORole
	return storage, nil
}

// NewFromConnection function creates and initializes a new instance of
// Storage interface from prepared connection
func NewFromConnection(connection *sql.DB, dbDriverType types.DBDriver) *DBStorage {
	return &DBStorage{
		connection:   connection,
		dbDriverType: dbDriverType,
	}
}

// NewReadOnlyFromConnection function creates a new instance of read-only
// Storage from prepared connection
func NewReadOnlyFromConnection(connection *sql.DB, dbDriverType types.DBDriver) *DBStorage {
	storage := NewFromConnection(connection, dbDriverType)
	storage.readOnly = true
	return storage
}

// initAndGetDriver checks if the driver is supported (or infers it from
// data source) and returns driver type, driver name, data source and error.
// Data source is modified so the database refuses writes for read-only
// connections.
func initAndGetDriver(driverName, dsn string, readOnly bool) (driverType types.DBDriver, name, dataSource string, err error) {
	if dsn == "" {
		err = errors.New("database connection string is not set")
		return
	}

	if driverName == "" {
		driverName = inferDriver(dsn)
	}

	switch driverName {
	case "sqlite3", "sqlite":
		driverType = types.DBDriverSQLite3
		dataSource = sqliteDataSource(dsn, readOnly)
	case "postgres", "postgresql", "pq":
		driverType = types.DBDriverPostgres
		dataSource, err = postgresDataSource(dsn, readOnly)
	default:
		err = fmt.Errorf("driver %v is not supported", driverName)
		return
	}

	name = driverType.String()
	return
}

// inferDriver returns driver name for given data source
func inferDriver(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname="):
		return "postgres"
	default:
		return "sqlite3"
	}
}

// sqliteInMemory returns true when data source points to in-memory
// database
func sqliteInMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// sqliteDataSource converts given data source into SQLite URI filename
func sqliteDataSource(dsn string, readOnly bool) string {
	dsn = strings.TrimPrefix(dsn, "sqlite3://")
	dsn = strings.TrimPrefix(dsn, "sqlite:///")
	if !readOnly {
		return dsn
	}

	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}

	path, query, _ := strings.Cut(dsn, "?")
	values, err := url.ParseQuery(query)
	if err != nil {
		values = url.Values{}
	}
	if values.Get("mode") == "" {
		values.Set("mode", "ro")
	}
	values.Set("_query_only", "true")

	return path + "?" + values.Encode()
}

// postgresDataSource adds read-only session default to data source when
// needed. Both URL and key=value forms are supported.
func postgresDataSource(dsn string, readOnly bool) (string, error) {
	if !readOnly {
		return dsn, nil
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid database connection string: %w", err)
		}
		query := u.Query()
		query.Set("default_transaction_read_only", "on")
		u.RawQuery = query.Encode()
		return u.String(), nil
	}

	return dsn + " default_transaction_read_only=on", nil
}

// Close method closes the connection to database. Needs to be called at the
// end of application lifecycle.
func (storage DBStorage) Close() error {
	log.Info().Msg("Closing connection to data storage")
	if storage.connection != nil {
		err := storage.connection.Close()
		if err != nil {
			log.Error().Err(err).Msg("Can not close connection to data storage")
			return err
		}
	}
	return nil
}

// Ping method checks that the database is reachable
func (storage DBStorage) Ping(ctx context.Context) error {
	return storage.connection.PingContext(ctx)
}

// Driver method returns type of database driver
func (storage DBStorage) Driver() types.DBDriver {
	return storage.dbDriverType
}

// SetReadOnlyRole method sets database role that is granted read access to
// the cache by Migrate
func (storage *DBStorage) SetReadOnlyRole(role string) {
	storage.roRole = role
}

// ReadOnly method returns true for storages opened with read-only role
func (storage DBStorage) ReadOnly() bool {
	return storage.readOnly
}

// QueryContext method runs a query on the cache. It is used by the read
// path (dashboard questions).
func (storage DBStorage) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	storage.logQuery(query, args)
	return storage.connection.QueryContext(ctx, query, args...)
}

// logQuery logs SQL statement when SQL logging is enabled
func (storage DBStorage) logQuery(query string, args []any) {
	if !storage.logSQLQueries {
		return
	}
	log.Debug().
		Str("query", strings.Join(strings.Fields(query), " ")).
		Interface("args", args).
		Msg("SQL query")
}

// timestamp converts time into the form stored in database
func (storage DBStorage) timestamp(t time.Time) any {
	return TimestampArg(storage.dbDriverType, t)
}

// TimestampArg converts time into query argument comparable with
// timestamps stored by given driver. All timestamps are stored in UTC,
// SQLite ones as text in a lexically ordered layout.
func TimestampArg(driver types.DBDriver, t time.Time) any {
	t = t.UTC()
	if driver == types.DBDriverSQLite3 {
		return t.Format(sqliteTimestampLayout)
	}
	return t
}

// nullableTimestamp is like timestamp, but nil pointer is stored as NULL
func (storage DBStorage) nullableTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return storage.timestamp(*t)
}

// closeRows closes rows handle and logs possible error
func closeRows(rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		log.Error().Err(err).Msg(unableToCloseDBRowsHandle)
	}
}
