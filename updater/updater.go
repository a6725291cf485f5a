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

// Package updater contains the cache updater. It reads incidents and their
// alerts from PagerDuty and upserts them into the cache, optionally
// backfilling the cache until it reaches given age.
package updater

import (
	"context"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openshift/osd-alert-analysis/normalizer"
	"github.com/openshift/osd-alert-analysis/pagerduty"
	"github.com/openshift/osd-alert-analysis/storage"
	"github.com/openshift/osd-alert-analysis/types"
)

// MaxUpdateAttempts is the maximum number of windows fetched during one
// run, including the initial one
const MaxUpdateAttempts = 30

// backfillOverlap moves start of backfill window before the backfill target
// so the target is not missed by a few seconds on the next run
const backfillOverlap = 24 * time.Hour

// Messages
const (
	separator                  = "------------------------------------------------------------"
	operationFailedMessage     = "Operation failed"
	backfillTargetMetMessage   = "Backfill target met"
	upstreamExhaustedMessage   = "Upstream returned no incident older than the cache, backfill finished"
	attemptsExhaustedMessage   = "Ran out of attempts without meeting backfill target. Ensure incidents exist throughout the requested time window, then try again with a larger --limit value or smaller --backfill value"
	windowAttribute            = "window"
	sinceAttribute             = "since"
	untilAttribute             = "until"
	limitAttribute             = "limit"
	incidentsAttribute         = "incidents"
	alertsAttribute            = "alerts"
	attemptsRemainingAttribute = "attempts remaining"
)

// Upstream is a source of incident records
type Upstream interface {
	Incidents(ctx context.Context, window pagerduty.Window) iter.Seq2[types.IncidentRecord, error]
}

// Params are parameters of one updater run
type Params struct {
	// Since and Until select the first window only
	Since time.Time
	Until time.Time

	// Limit is the maximum number of incidents fetched in one window
	Limit int

	// Backfill is the requested age of the oldest cached incident in days,
	// zero means no backfill
	Backfill int
}

// Summary describes what has been done during one run
type Summary struct {
	Windows   int
	Incidents int
	Alerts    int
}

// Updater updates the cache from upstream
type Updater struct {
	storage  storage.Storage
	upstream Upstream
	out      io.Writer
	now      func() time.Time
}

// New constructs new updater writing progress messages to given writer
func New(s storage.Storage, upstream Upstream, out io.Writer) *Updater {
	return &Updater{
		storage:  s,
		upstream: upstream,
		out:      out,
		now:      time.Now,
	}
}

// Update performs normal run followed by backfill when requested. Each
// window is written in one transaction, so windows written before a
// failure stay in the cache.
func (u *Updater) Update(ctx context.Context, params Params) (Summary, error) {
	var summary Summary

	window := pagerduty.Window{Since: params.Since, Until: params.Until, Limit: params.Limit}
	if _, err := u.updateWindow(ctx, window, &summary); err != nil {
		return summary, err
	}

	if params.Backfill <= 0 {
		return summary, nil
	}

	target := u.now().UTC().AddDate(0, 0, -params.Backfill)

	for summary.Windows < MaxUpdateAttempts {
		oldest, found, err := u.storage.OldestIncidentCreatedAt(ctx)
		if err != nil {
			StorageErrors.Inc()
			return summary, &StorageError{Err: err}
		}

		if found && !oldest.After(target) {
			log.Info().Time(sinceAttribute, oldest).Msg(backfillTargetMetMessage)
			return summary, nil
		}

		// empty cache is backfilled without upper bound
		window = pagerduty.Window{Since: target.Add(-backfillOverlap), Limit: params.Limit}
		if found {
			window.Until = oldest
		}

		fmt.Fprintf(u.out, "Attempting to backfill %s to %s\n", formatTime(window.Since), formatTime(window.Until))
		log.Debug().Int(attemptsRemainingAttribute, MaxUpdateAttempts-summary.Windows).Msg("Backfilling")
		BackfillWindows.Inc()

		result, err := u.updateWindow(ctx, window, &summary)
		if err != nil {
			return summary, err
		}

		// window ends at the oldest cached incident, so every
		// fetched incident moves it back
		if result.Incidents == 0 {
			log.Info().Msg(upstreamExhaustedMessage)
			return summary, nil
		}
	}

	oldest, _, err := u.storage.OldestIncidentCreatedAt(ctx)
	if err != nil {
		StorageErrors.Inc()
		return summary, &StorageError{Err: err}
	}
	if oldest.After(target) {
		log.Warn().
			Str("short", oldest.Sub(target).String()).
			Msg(attemptsExhaustedMessage)
	}
	return summary, nil
}

// updateWindow fetches one window and writes it into the cache
func (u *Updater) updateWindow(ctx context.Context, window pagerduty.Window, summary *Summary) (storage.BatchResult, error) {
	log.Info().
		Str(sinceAttribute, formatTime(window.Since)).
		Str(untilAttribute, formatTime(window.Until)).
		Int(limitAttribute, window.Limit).
		Msg("Updating cache")

	summary.Windows++

	fmt.Fprint(u.out, "Updating incident cache...")
	records, err := u.fetch(ctx, window)
	if err != nil {
		fmt.Fprintln(u.out, "failed.")
		return storage.BatchResult{}, err
	}

	result, err := u.storage.WriteBatch(ctx, records)
	if err != nil {
		fmt.Fprintln(u.out, "failed.")
		StorageErrors.Inc()
		log.Error().Err(err).Int(windowAttribute, summary.Windows).Msg(operationFailedMessage)
		return storage.BatchResult{}, &StorageError{Err: err}
	}
	fmt.Fprintf(u.out, "done. Cached %d incidents.\n", result.Incidents)
	fmt.Fprintf(u.out, "Updating alert cache...done. Cached %d alerts.\n", result.Alerts)

	IncidentsCached.Add(float64(result.Incidents))
	AlertsCached.Add(float64(result.Alerts))

	summary.Incidents += result.Incidents
	summary.Alerts += result.Alerts

	log.Info().
		Int(incidentsAttribute, result.Incidents).
		Int(alertsAttribute, result.Alerts).
		Msg("Window cached")
	return result, nil
}

// fetch reads the whole window from upstream
func (u *Updater) fetch(ctx context.Context, window pagerduty.Window) ([]types.IncidentRecord, error) {
	records := []types.IncidentRecord{}
	for record, err := range u.upstream.Incidents(ctx, window) {
		if err != nil {
			log.Error().Err(err).Int("fetched", len(records)).Msg("Reading incidents from PagerDuty failed")
			return nil, &UpstreamError{Err: err}
		}
		records = append(records, record)
	}
	return records, nil
}

// Renormalize applies rules of given normalizer to raw names of all cached
// alerts and updates names that differ. It returns number of updated
// alerts.
func Renormalize(ctx context.Context, s storage.Storage, n *normalizer.Normalizer, out io.Writer) (int, error) {
	names, err := s.ReadAlertRawNames(ctx)
	if err != nil {
		StorageErrors.Inc()
		return 0, &StorageError{Err: err}
	}

	updated := 0
	for _, alert := range names {
		name, err := n.Standardize(alert.RawName)
		if err != nil {
			log.Warn().Err(err).Str("alert", string(alert.ID)).Msg("Alert name is missing or invalid")
			name = ""
		}
		if name == alert.Name {
			continue
		}

		if err := s.UpdateAlertName(ctx, alert.ID, name); err != nil {
			StorageErrors.Inc()
			return updated, &StorageError{Err: err}
		}
		updated++
	}

	fmt.Fprintf(out, "Renormalized %d of %d alert names.\n", updated, len(names))
	return updated, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
