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

package mocks

import (
	context "context"
	sql "database/sql"
	time "time"

	mock "github.com/stretchr/testify/mock"

	storage "github.com/openshift/osd-alert-analysis/storage"
	types "github.com/openshift/osd-alert-analysis/types"
)

// Storage is a mock type for the Storage type
type Storage struct {
	mock.Mock
}

// Close provides a mock function with given fields:
func (_m *Storage) Close() error {
	ret := _m.Called()
	return ret.Error(0)
}

// Ping provides a mock function with given fields: ctx
func (_m *Storage) Ping(ctx context.Context) error {
	ret := _m.Called(ctx)
	return ret.Error(0)
}

// Driver provides a mock function with given fields:
func (_m *Storage) Driver() types.DBDriver {
	ret := _m.Called()

	var r0 types.DBDriver
	if rf, ok := ret.Get(0).(func() types.DBDriver); ok {
		r0 = rf()
	} else {
		r0 = ret.Get(0).(types.DBDriver)
	}

	return r0
}

// Migrate provides a mock function with given fields: ctx
func (_m *Storage) Migrate(ctx context.Context) error {
	ret := _m.Called(ctx)
	return ret.Error(0)
}

// WriteBatch provides a mock function with given fields: ctx, records
func (_m *Storage) WriteBatch(ctx context.Context, records []types.IncidentRecord) (storage.BatchResult, error) {
	ret := _m.Called(ctx, records)

	var r0 storage.BatchResult
	if rf, ok := ret.Get(0).(func(context.Context, []types.IncidentRecord) storage.BatchResult); ok {
		r0 = rf(ctx, records)
	} else {
		r0 = ret.Get(0).(storage.BatchResult)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, []types.IncidentRecord) error); ok {
		r1 = rf(ctx, records)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// UpsertIncident provides a mock function with given fields: ctx, record
func (_m *Storage) UpsertIncident(ctx context.Context, record types.IncidentRecord) error {
	ret := _m.Called(ctx, record)
	return ret.Error(0)
}

// UpsertAlert provides a mock function with given fields: ctx, alert
func (_m *Storage) UpsertAlert(ctx context.Context, alert types.Alert) error {
	ret := _m.Called(ctx, alert)
	return ret.Error(0)
}

// UpdateAlertName provides a mock function with given fields: ctx, id, name
func (_m *Storage) UpdateAlertName(ctx context.Context, id types.PDID, name string) error {
	ret := _m.Called(ctx, id, name)
	return ret.Error(0)
}

// OldestIncidentCreatedAt provides a mock function with given fields: ctx
func (_m *Storage) OldestIncidentCreatedAt(ctx context.Context) (time.Time, bool, error) {
	ret := _m.Called(ctx)

	var r0 time.Time
	if rf, ok := ret.Get(0).(func(context.Context) time.Time); ok {
		r0 = rf(ctx)
	} else {
		r0 = ret.Get(0).(time.Time)
	}

	return r0, ret.Bool(1), ret.Error(2)
}

// ReadCacheWindow provides a mock function with given fields: ctx, table
func (_m *Storage) ReadCacheWindow(ctx context.Context, table storage.CacheTable) (types.CacheWindow, error) {
	ret := _m.Called(ctx, table)
	return ret.Get(0).(types.CacheWindow), ret.Error(1)
}

// ReadIncident provides a mock function with given fields: ctx, id
func (_m *Storage) ReadIncident(ctx context.Context, id types.PDID) (types.IncidentRecord, error) {
	ret := _m.Called(ctx, id)
	return ret.Get(0).(types.IncidentRecord), ret.Error(1)
}

// CountIncidents provides a mock function with given fields: ctx
func (_m *Storage) CountIncidents(ctx context.Context) (int, error) {
	ret := _m.Called(ctx)
	return ret.Int(0), ret.Error(1)
}

// CountAlerts provides a mock function with given fields: ctx
func (_m *Storage) CountAlerts(ctx context.Context) (int, error) {
	ret := _m.Called(ctx)
	return ret.Int(0), ret.Error(1)
}

// ReadAlertRawNames provides a mock function with given fields: ctx
func (_m *Storage) ReadAlertRawNames(ctx context.Context) ([]storage.AlertName, error) {
	ret := _m.Called(ctx)

	var r0 []storage.AlertName
	if rf, ok := ret.Get(0).(func(context.Context) []storage.AlertName); ok {
		r0 = rf(ctx)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]storage.AlertName)
	}

	return r0, ret.Error(1)
}

// QueryContext provides a mock function with given fields: ctx, query, args
func (_m *Storage) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ret := _m.Called(append([]any{ctx, query}, args...)...)

	var r0 *sql.Rows
	if rf, ok := ret.Get(0).(func(context.Context, string, ...any) *sql.Rows); ok {
		r0 = rf(ctx, query, args...)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*sql.Rows)
	}

	return r0, ret.Error(1)
}

var _ storage.Storage = (*Storage)(nil)
