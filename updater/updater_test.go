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

package updater_test

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/RedHatInsights/insights-operator-utils/tests/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/openshift/osd-alert-analysis/conf"
	"github.com/openshift/osd-alert-analysis/normalizer"
	"github.com/openshift/osd-alert-analysis/pagerduty"
	"github.com/openshift/osd-alert-analysis/storage"
	"github.com/openshift/osd-alert-analysis/tests/fixtures"
	"github.com/openshift/osd-alert-analysis/tests/mocks"
	"github.com/openshift/osd-alert-analysis/types"
	"github.com/openshift/osd-alert-analysis/updater"
)

const day = 24 * time.Hour

// fakeUpstream serves records from memory the same way PagerDuty does:
// newest first, bounded by window
type fakeUpstream struct {
	records    []types.IncidentRecord
	windows    []pagerduty.Window
	failOnCall int
	err        error
}

func (f *fakeUpstream) Incidents(_ context.Context, window pagerduty.Window) iter.Seq2[types.IncidentRecord, error] {
	f.windows = append(f.windows, window)
	call := len(f.windows)

	return func(yield func(types.IncidentRecord, error) bool) {
		if call == f.failOnCall {
			yield(types.IncidentRecord{}, f.err)
			return
		}

		selected := []types.IncidentRecord{}
		for _, record := range f.records {
			createdAt := record.Incident.CreatedAt
			if !window.Since.IsZero() && createdAt.Before(window.Since) {
				continue
			}
			if !window.Until.IsZero() && !createdAt.Before(window.Until) {
				continue
			}
			selected = append(selected, record)
		}
		slices.SortStableFunc(selected, func(a, b types.IncidentRecord) int {
			return b.Incident.CreatedAt.Compare(a.Incident.CreatedAt)
		})

		for i, record := range selected {
			if window.Limit > 0 && i >= window.Limit {
				return
			}
			if !yield(record, nil) {
				return
			}
		}
	}
}

// mustCreateStorage creates migrated SQLite storage in a temporary file
func mustCreateStorage(t *testing.T) *storage.DBStorage {
	s, err := storage.NewStorage(conf.StorageConfiguration{RWDBString: filepath.Join(t.TempDir(), "cache.db")})
	helpers.FailOnError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	helpers.FailOnError(t, s.Migrate(context.Background()))
	return s
}

// dailyRecords returns one record per day, the first one created half a
// day before now
func dailyRecords(now time.Time, from, to int) []types.IncidentRecord {
	records := []types.IncidentRecord{}
	for i := from; i < to; i++ {
		records = append(records, fixtures.NewRecord(i, now.Add(-time.Duration(i)*day-12*time.Hour), 1))
	}
	return records
}

func mustCount(t *testing.T, s storage.Storage) (int, int) {
	incidents, err := s.CountIncidents(context.Background())
	helpers.FailOnError(t, err)
	alerts, err := s.CountAlerts(context.Background())
	helpers.FailOnError(t, err)
	return incidents, alerts
}

func TestUpdateNormalRun(t *testing.T) {
	s := mustCreateStorage(t)
	upstream := &fakeUpstream{records: []types.IncidentRecord{
		fixtures.NewRecord(1, fixtures.Time1, 2),
		fixtures.NewRecord(2, fixtures.Time1.Add(-time.Hour), 2),
		fixtures.NewRecord(3, fixtures.Time1.Add(-2*time.Hour), 2),
		// outside of the window
		fixtures.NewRecord(4, fixtures.Time1.Add(-30*day), 2),
	}}
	out := &bytes.Buffer{}

	params := updater.Params{Since: fixtures.Time1.Add(-day), Until: fixtures.Time1.Add(time.Hour), Limit: 10}
	summary, err := updater.New(s, upstream, out).Update(context.Background(), params)
	helpers.FailOnError(t, err)

	assert.Equal(t, updater.Summary{Windows: 1, Incidents: 3, Alerts: 6}, summary)
	assert.Equal(t,
		"Updating incident cache...done. Cached 3 incidents.\nUpdating alert cache...done. Cached 6 alerts.\n",
		out.String())

	incidents, alerts := mustCount(t, s)
	assert.Equal(t, 3, incidents)
	assert.Equal(t, 6, alerts)
}

func TestUpdateTwiceUpsertsLatestFields(t *testing.T) {
	s := mustCreateStorage(t)
	ctx := context.Background()
	record := fixtures.NewRecord(1, fixtures.Time1, 1)
	upstream := &fakeUpstream{records: []types.IncidentRecord{record}}
	params := updater.Params{Since: fixtures.Time1.Add(-day), Until: fixtures.Time1.Add(day), Limit: 10}

	_, err := updater.New(s, upstream, &bytes.Buffer{}).Update(ctx, params)
	helpers.FailOnError(t, err)

	resolvedAt := fixtures.Time1.Add(time.Hour)
	upstream.records = []types.IncidentRecord{fixtures.ResolvedRecord(1, fixtures.Time1, resolvedAt, fixtures.JaneDoe)}

	_, err = updater.New(s, upstream, &bytes.Buffer{}).Update(ctx, params)
	helpers.FailOnError(t, err)

	incidents, alerts := mustCount(t, s)
	assert.Equal(t, 1, incidents)
	assert.Equal(t, 1, alerts)

	stored, err := s.ReadIncident(ctx, record.Incident.ID)
	helpers.FailOnError(t, err)
	assert.Equal(t, "resolved", stored.Incident.Status)
	assert.True(t, resolvedAt.Equal(*stored.Incident.ResolvedAt))
	assert.True(t, fixtures.Time1.Equal(stored.Incident.CreatedAt))
	assert.Equal(t, "resolved", stored.Alerts[0].Status)
}

func TestUpdateCollapsesDuplicates(t *testing.T) {
	s := mustCreateStorage(t)
	record := fixtures.NewRecord(1, fixtures.Time1, 1)
	upstream := &fakeUpstream{records: []types.IncidentRecord{
		record,
		fixtures.NewRecord(2, fixtures.Time1.Add(-time.Hour), 1),
		record,
	}}

	params := updater.Params{Since: fixtures.Time1.Add(-day), Until: fixtures.Time1.Add(day), Limit: 10}
	summary, err := updater.New(s, upstream, &bytes.Buffer{}).Update(context.Background(), params)
	helpers.FailOnError(t, err)

	assert.Equal(t, 2, summary.Incidents)
	assert.Equal(t, 2, summary.Alerts)

	incidents, alerts := mustCount(t, s)
	assert.Equal(t, 2, incidents)
	assert.Equal(t, 2, alerts)
}

func TestBackfillConverges(t *testing.T) {
	s := mustCreateStorage(t)
	now := time.Now().UTC().Truncate(time.Second)
	records := dailyRecords(now, 0, 100)
	upstream := &fakeUpstream{records: records}
	out := &bytes.Buffer{}

	params := updater.Params{Since: now.Add(-10 * day), Until: now, Limit: 5, Backfill: 60}
	summary, err := updater.New(s, upstream, out).Update(context.Background(), params)
	helpers.FailOnError(t, err)

	// 5 incidents in the initial window, 11 full backfill windows and the
	// last one containing just the incident created 60.5 days ago
	assert.Equal(t, 13, summary.Windows)
	assert.Equal(t, 61, summary.Incidents)
	assert.Contains(t, out.String(), "Attempting to backfill ")

	oldest, found, err := s.OldestIncidentCreatedAt(context.Background())
	helpers.FailOnError(t, err)
	assert.True(t, found)
	assert.True(t, records[60].Incident.CreatedAt.Equal(oldest))

	// since and until are honored only on the first window
	assert.Equal(t, params.Since, upstream.windows[0].Since)
	assert.Equal(t, params.Until, upstream.windows[0].Until)
	for i, window := range upstream.windows[1:] {
		assert.WithinDuration(t, now.Add(-61*day), window.Since, time.Minute)
		assert.True(t, records[4+5*i].Incident.CreatedAt.Equal(window.Until), i)
		assert.Equal(t, 5, window.Limit)
	}

	// target is met already, so the next run does not backfill
	upstream.windows = nil
	summary, err = updater.New(s, upstream, &bytes.Buffer{}).Update(context.Background(), params)
	helpers.FailOnError(t, err)
	assert.Equal(t, 1, summary.Windows)
	assert.Len(t, upstream.windows, 1)

	incidents, _ := mustCount(t, s)
	assert.Equal(t, 61, incidents)
}

func TestBackfillStopsWhenUpstreamIsExhausted(t *testing.T) {
	s := mustCreateStorage(t)
	now := time.Now().UTC().Truncate(time.Second)
	upstream := &fakeUpstream{records: dailyRecords(now, 0, 20)}

	params := updater.Params{Since: now.Add(-10 * day), Until: now, Limit: 5, Backfill: 60}
	summary, err := updater.New(s, upstream, &bytes.Buffer{}).Update(context.Background(), params)
	helpers.FailOnError(t, err)

	assert.Equal(t, 5, summary.Windows)
	assert.Equal(t, 20, summary.Incidents)
}

func TestBackfillRunsOutOfAttempts(t *testing.T) {
	s := mustCreateStorage(t)
	now := time.Now().UTC().Truncate(time.Second)
	upstream := &fakeUpstream{records: dailyRecords(now, 0, 100)}

	params := updater.Params{Since: now.Add(-10 * day), Until: now, Limit: 1, Backfill: 90}
	summary, err := updater.New(s, upstream, &bytes.Buffer{}).Update(context.Background(), params)
	helpers.FailOnError(t, err)

	assert.Equal(t, updater.MaxUpdateAttempts, summary.Windows)
	assert.Equal(t, updater.MaxUpdateAttempts, summary.Incidents)
}

func TestBackfillOfEmptyCache(t *testing.T) {
	s := mustCreateStorage(t)
	now := time.Now().UTC().Truncate(time.Second)
	upstream := &fakeUpstream{records: dailyRecords(now, 20, 41)}

	params := updater.Params{Since: now.Add(-10 * day), Until: now, Limit: 100, Backfill: 60}
	summary, err := updater.New(s, upstream, &bytes.Buffer{}).Update(context.Background(), params)
	helpers.FailOnError(t, err)

	assert.Equal(t, 3, summary.Windows)
	assert.Equal(t, 21, summary.Incidents)
	assert.True(t, upstream.windows[1].Until.IsZero())
	assert.False(t, upstream.windows[2].Until.IsZero())
}

func TestFailureAfterFirstBatchKeepsFirstBatch(t *testing.T) {
	s := mustCreateStorage(t)
	now := time.Now().UTC().Truncate(time.Second)
	upstream := &fakeUpstream{
		records:    dailyRecords(now, 0, 20),
		failOnCall: 2,
		err:        &pagerduty.TransientError{Path: "/incidents", Attempts: 5, Err: errors.New("HTTP status 503")},
	}
	out := &bytes.Buffer{}

	params := updater.Params{Since: now.Add(-10 * day), Until: now, Limit: 5, Backfill: 60}
	summary, err := updater.New(s, upstream, out).Update(context.Background(), params)

	var transient *pagerduty.TransientError
	assert.True(t, errors.As(err, &transient))
	assert.Equal(t, updater.ExitStatusUpstreamError, updater.ExitStatus(err))
	assert.Equal(t, 5, summary.Incidents)
	assert.Contains(t, out.String(), "failed.")

	incidents, alerts := mustCount(t, s)
	assert.Equal(t, 5, incidents)
	assert.Equal(t, 5, alerts)
}

func TestStorageFailureIsReported(t *testing.T) {
	s := &mocks.Storage{}
	s.On("WriteBatch", mock.Anything, mock.Anything).Return(storage.BatchResult{}, errors.New("disk full"))

	upstream := &fakeUpstream{records: []types.IncidentRecord{fixtures.NewRecord(1, fixtures.Time1, 1)}}
	params := updater.Params{Since: fixtures.Time1.Add(-day), Until: fixtures.Time1.Add(day), Limit: 10}

	summary, err := updater.New(s, upstream, &bytes.Buffer{}).Update(context.Background(), params)
	assert.EqualError(t, err, "storage error: disk full")
	assert.Equal(t, updater.ExitStatusStorageError, updater.ExitStatus(err))
	assert.Equal(t, 0, summary.Incidents)
	s.AssertExpectations(t)
}

func TestBackfillStorageFailureIsReported(t *testing.T) {
	s := &mocks.Storage{}
	s.On("WriteBatch", mock.Anything, mock.Anything).Return(storage.BatchResult{Incidents: 1, Alerts: 1}, nil)
	s.On("OldestIncidentCreatedAt", mock.Anything).Return(time.Time{}, false, errors.New("connection refused"))

	upstream := &fakeUpstream{records: []types.IncidentRecord{fixtures.NewRecord(1, fixtures.Time1, 1)}}
	params := updater.Params{Since: fixtures.Time1.Add(-day), Until: fixtures.Time1.Add(day), Limit: 10, Backfill: 1}

	_, err := updater.New(s, upstream, &bytes.Buffer{}).Update(context.Background(), params)
	assert.Equal(t, updater.ExitStatusStorageError, updater.ExitStatus(err))
	s.AssertExpectations(t)
}

// TestEndToEndMonth caches one month of incidents
func TestEndToEndMonth(t *testing.T) {
	const (
		incidentCount = 9786
		twoAlerts     = 226
	)

	s := mustCreateStorage(t)
	ctx := context.Background()
	since := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC)

	records := make([]types.IncidentRecord, 0, incidentCount+4)
	for i := 0; i < incidentCount; i++ {
		alerts := 1
		if i < twoAlerts {
			alerts = 2
		}
		records = append(records, fixtures.NewRecord(i, since.Add(time.Duration(i)*4*time.Minute), alerts))
	}
	// just outside of the window
	records = append(records,
		fixtures.NewRecord(incidentCount, since.Add(-time.Second), 1),
		fixtures.NewRecord(incidentCount+1, until, 1),
		fixtures.NewRecord(incidentCount+2, until.Add(day), 3),
		fixtures.NewRecord(incidentCount+3, since.Add(-day), 1),
	)

	out := &bytes.Buffer{}
	params := updater.Params{Since: since, Until: until, Limit: incidentCount}
	summary, err := updater.New(s, &fakeUpstream{records: records}, out).Update(ctx, params)
	helpers.FailOnError(t, err)

	assert.Equal(t, updater.Summary{Windows: 1, Incidents: 9786, Alerts: 10012}, summary)
	assert.Contains(t, out.String(), "Cached 9786 incidents.")
	assert.Contains(t, out.String(), "Cached 10012 alerts.")

	incidents, alerts := mustCount(t, s)
	assert.Equal(t, 9786, incidents)
	assert.Equal(t, 10012, alerts)

	window, err := s.ReadCacheWindow(ctx, storage.IncidentsTable)
	helpers.FailOnError(t, err)
	assert.True(t, since.Equal(window.Oldest))
	assert.True(t, window.Newest.Before(until))
}

func TestRenormalize(t *testing.T) {
	s := mustCreateStorage(t)
	ctx := context.Background()

	_, err := s.WriteBatch(ctx, []types.IncidentRecord{
		fixtures.NewRecord(1, fixtures.Time1, 2),
		fixtures.NewRecord(2, fixtures.Time1, 1),
	})
	helpers.FailOnError(t, err)

	n := normalizer.New([]normalizer.Rule{{Substring: "CrashLooping", Name: "CrashLoop"}})
	out := &bytes.Buffer{}

	updated, err := updater.Renormalize(ctx, s, n, out)
	helpers.FailOnError(t, err)
	assert.Equal(t, 3, updated)
	assert.Equal(t, "Renormalized 3 of 3 alert names.\n", out.String())

	stored, err := s.ReadIncident(ctx, fixtures.IncidentID(1))
	helpers.FailOnError(t, err)
	assert.Equal(t, "CrashLoop", stored.Alerts[0].Name)
	assert.Equal(t, "KubePodCrashLooping CRITICAL (6)", stored.Alerts[0].RawName)

	// nothing changes on the second pass
	updated, err = updater.Renormalize(ctx, s, n, &bytes.Buffer{})
	helpers.FailOnError(t, err)
	assert.Equal(t, 0, updated)
}

func TestRenormalizeStorageError(t *testing.T) {
	s := &mocks.Storage{}
	s.On("ReadAlertRawNames", mock.Anything).Return(nil, errors.New("no such table"))

	_, err := updater.Renormalize(context.Background(), s, normalizer.New(nil), &bytes.Buffer{})
	assert.Equal(t, updater.ExitStatusStorageError, updater.ExitStatus(err))
}

func TestRenormalizeInvalidName(t *testing.T) {
	s := &mocks.Storage{}
	s.On("ReadAlertRawNames", mock.Anything).Return([]storage.AlertName{
		{ID: "A1", RawName: "KubeAPIDown", Name: "KubeAPIDown"},
		{ID: "A2", RawName: "   ", Name: "stale"},
	}, nil)
	s.On("UpdateAlertName", mock.Anything, types.PDID("A2"), "").Return(nil)

	updated, err := updater.Renormalize(context.Background(), s, normalizer.New(nil), &bytes.Buffer{})
	helpers.FailOnError(t, err)
	assert.Equal(t, 1, updated)
	s.AssertExpectations(t)
}
