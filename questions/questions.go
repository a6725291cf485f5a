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

// Package questions contains canned analytical questions answered from the
// alert cache. Each question is a fixed SQL query over cached alerts and
// incidents, restricted to a time window and optionally to one on-call
// region.
package questions

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openshift/osd-alert-analysis/storage"
	"github.com/openshift/osd-alert-analysis/types"
)

// StandardColumns are columns of answers aggregated by alert
var StandardColumns = []string{"name", "namespace", "urgency", "silenced", "occurrences"}

// FlappingColumns are columns of the flapping question answer
var FlappingColumns = []string{"cluster", "name", "namespace", "urgency", "flaps"}

// Source is the cache questions are answered from
type Source interface {
	Driver() types.DBDriver
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Window selects alerts created in [Since, Until), in given region only
// unless the region is global
type Window struct {
	Since  time.Time
	Until  time.Time
	Region types.Region
}

// Column describes one column of an answer
type Column struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Answer contains result of one question. Rows are keyed by column IDs.
type Answer struct {
	QuestionID  string           `json:"question"`
	Description string           `json:"description"`
	Columns     []Column         `json:"columns"`
	Rows        []map[string]any `json:"data"`
}

// Question is a canned question about cached alerts
type Question interface {
	ID() string
	Description() string
	Columns() []string
	Answer(ctx context.Context, source Source, window Window) (Answer, error)
}

// UnknownQuestionError is returned by Resolve for unknown question name
type UnknownQuestionError struct {
	Name string
}

// Error returns a string representation of error
func (e *UnknownQuestionError) Error() string {
	return fmt.Sprintf("unknown question %q", e.Name)
}

var nonWordRegexp = regexp.MustCompile(`[^\d\w]+`)

// ColumnID returns identifier of column that is unique across all answers
// displayed on one page
func ColumnID(questionID, columnName string) string {
	return nonWordRegexp.ReplaceAllString(strings.TrimSpace(columnName), "_") + "_" + questionID
}

// columns returns column descriptions with safe IDs
func columns(questionID string, names []string) []Column {
	result := make([]Column, 0, len(names))
	for _, name := range names {
		result = append(result, Column{Name: name, ID: ColumnID(questionID, name)})
	}
	return result
}

// query is a question answered by one SQL query
type query struct {
	id          string
	className   string
	description string
	columnNames []string

	// statement builds SQL statement for given driver and window filter
	statement func(driver types.DBDriver, window string) string

	// scan reads one row into values ordered as columnNames
	scan func(rows *sql.Rows) ([]any, error)
}

func (q query) ID() string {
	return q.id
}

func (q query) Description() string {
	return q.description
}

func (q query) Columns() []string {
	return q.columnNames
}

func (q query) String() string {
	return q.description
}

// Answer runs the query and converts all returned rows
func (q query) Answer(ctx context.Context, source Source, window Window) (Answer, error) {
	answer := Answer{
		QuestionID:  q.id,
		Description: q.description,
		Columns:     columns(q.id, q.columnNames),
		Rows:        []map[string]any{},
	}

	filter, args := windowFilter(source.Driver(), window)
	statement := q.statement(source.Driver(), filter)

	rows, err := source.QueryContext(ctx, statement, args...)
	if err != nil {
		return answer, fmt.Errorf("question %s: %w", q.id, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error().Err(err).Msg("Unable to close the DB rows handle")
		}
	}()

	for rows.Next() {
		values, err := q.scan(rows)
		if err != nil {
			return answer, fmt.Errorf("question %s: %w", q.id, err)
		}

		row := make(map[string]any, len(values))
		for i, column := range answer.Columns {
			row[column.ID] = values[i]
		}
		answer.Rows = append(answer.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return answer, fmt.Errorf("question %s: %w", q.id, err)
	}
	return answer, nil
}

// scanStandard reads one row aggregated by alert, NULL strings are
// returned as nil
func scanStandard(rows *sql.Rows) ([]any, error) {
	var (
		name, namespace, urgency sql.NullString
		silenced                 bool
		occurrences              int64
	)
	if err := rows.Scan(&name, &namespace, &urgency, &silenced, &occurrences); err != nil {
		return nil, err
	}
	return []any{nullable(name), nullable(namespace), nullable(urgency), silenced, occurrences}, nil
}

// scanFlapping reads one row of flapping alerts
func scanFlapping(rows *sql.Rows) ([]any, error) {
	var (
		cluster, name, namespace, urgency sql.NullString
		flaps                             int64
	)
	if err := rows.Scan(&cluster, &name, &namespace, &urgency, &flaps); err != nil {
		return nil, err
	}
	return []any{nullable(cluster), nullable(name), nullable(namespace), nullable(urgency), flaps}, nil
}

func nullable(value sql.NullString) any {
	if !value.Valid {
		return nil
	}
	return value.String
}

// windowFilter returns condition selecting alerts (aliased "a") in given
// window together with its arguments
func windowFilter(driver types.DBDriver, window Window) (string, []any) {
	filter := "a.created_at >= $1 AND a.created_at < $2"
	args := []any{
		storage.TimestampArg(driver, window.Since),
		storage.TimestampArg(driver, window.Until),
	}

	if window.Region != "" && window.Region != types.RegionGlobal {
		// shift values look like "APAC 2 (2022-01-31)"
		filter += " AND a.shift LIKE $3"
		args = append(args, string(window.Region)+" %")
	}
	return filter, args
}
