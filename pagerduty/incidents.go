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

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openshift/osd-alert-analysis/types"
)

// API endpoints
const (
	incidentsEndpoint  = "/incidents"
	logEntriesEndpoint = "/incidents/%s/log_entries"
	alertsEndpoint     = "/incidents/%s/alerts"
)

// log attributes
const (
	incidentIDAttribute = "incident"
	alertIDAttribute    = "alert"
	offsetAttribute     = "offset"
)

// Window selects incidents to be fetched: those created in [Since, Until),
// at most Limit of them. Zero Since/Until are not sent to upstream and
// non-positive Limit means no limit.
type Window struct {
	Since time.Time
	Until time.Time
	Limit int
}

// Incidents returns lazy sequence of incidents created in given window,
// newest first, each with data from its log entries and with all its
// alerts. Every iteration starts from the first page again. When an error
// occurs, it is yielded as the last element of the sequence.
func (c *Client) Incidents(ctx context.Context, window Window) iter.Seq2[types.IncidentRecord, error] {
	return func(yield func(types.IncidentRecord, error) bool) {
		fetched := 0
		offset := 0

		for {
			pageSize := MaxPageSize
			if window.Limit > 0 {
				pageSize = min(window.Limit-fetched, MaxPageSize)
			}

			log.Debug().
				Int(offsetAttribute, offset).
				Int("limit", pageSize).
				Msg("Reading incidents page")

			var page incidentsPage
			err := c.get(ctx, incidentsEndpoint, c.incidentsParams(window, pageSize, offset), &page)
			if err != nil {
				yield(types.IncidentRecord{}, err)
				return
			}

			for _, src := range page.Incidents {
				record, err := c.populate(ctx, src)
				if err != nil {
					yield(types.IncidentRecord{}, err)
					return
				}
				if !yield(record, nil) {
					return
				}
				fetched++
				if window.Limit > 0 && fetched >= window.Limit {
					return
				}
			}

			if !page.More || len(page.Incidents) == 0 {
				return
			}
			offset += len(page.Incidents)
		}
	}
}

func (c *Client) incidentsParams(window Window, pageSize, offset int) url.Values {
	params := url.Values{}
	for _, team := range c.teams {
		params.Add("team_ids[]", team)
	}
	if !window.Since.IsZero() {
		params.Set("since", window.Since.UTC().Format(time.RFC3339))
	}
	if !window.Until.IsZero() {
		params.Set("until", window.Until.UTC().Format(time.RFC3339))
	}
	params.Set("limit", strconv.Itoa(pageSize))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("sort_by", "created_at:desc")
	params.Set("time_zone", "UTC")
	return params
}

// populate reads log entries and alerts of given incident
func (c *Client) populate(ctx context.Context, src incident) (types.IncidentRecord, error) {
	id := url.PathEscape(string(src.ID))

	entries, err := listAll(ctx, c, fmt.Sprintf(logEntriesEndpoint, id), func(page logEntriesPage) ([]logEntry, bool) {
		return page.LogEntries, page.More
	})
	if err != nil {
		return types.IncidentRecord{}, err
	}

	record := convertIncident(src, entries)

	alerts, err := listAll(ctx, c, fmt.Sprintf(alertsEndpoint, id), func(page alertsPage) ([]alert, bool) {
		return page.Alerts, page.More
	})
	if err != nil {
		return types.IncidentRecord{}, err
	}

	for _, a := range alerts {
		converted := convertAlert(a, c.normalizer)
		converted.IncidentID = src.ID
		record.Alerts = append(record.Alerts, converted)
	}

	log.Debug().
		Str(incidentIDAttribute, string(src.ID)).
		Int("log entries", len(entries)).
		Int("alerts", len(record.Alerts)).
		Msg("Incident read")

	return record, nil
}

// listAll reads all pages of given listing
func listAll[P any, T any](ctx context.Context, c *Client, path string, items func(P) ([]T, bool)) ([]T, error) {
	var result []T
	offset := 0

	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(MaxPageSize))
		params.Set("offset", strconv.Itoa(offset))
		params.Set("time_zone", "UTC")

		var page P
		if err := c.get(ctx, path, params, &page); err != nil {
			return nil, err
		}

		pageItems, more := items(page)
		result = append(result, pageItems...)
		if !more || len(pageItems) == 0 {
			return result, nil
		}
		offset += len(pageItems)
	}
}
