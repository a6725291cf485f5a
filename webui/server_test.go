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

package webui

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RedHatInsights/insights-operator-utils/tests/helpers"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/openshift/osd-alert-analysis/conf"
	"github.com/openshift/osd-alert-analysis/questions"
	"github.com/openshift/osd-alert-analysis/storage"
	"github.com/openshift/osd-alert-analysis/tests/fixtures"
	"github.com/openshift/osd-alert-analysis/types"
)

var testNow = time.Date(2022, 2, 15, 13, 0, 0, 0, time.UTC)

const selectedRange = "/2022-01-21/2022-02-10"

// brokenSource simulates unreachable cache
type brokenSource struct{}

func (brokenSource) Driver() types.DBDriver {
	return types.DBDriverPostgres
}

func (brokenSource) QueryContext(_ context.Context, _ string, _ ...any) (*sql.Rows, error) {
	return nil, errors.New("cache is down")
}

func (brokenSource) Ping(_ context.Context) error {
	return errors.New("cache is down")
}

// mustCreateSource creates read-only SQLite cache with three alerts of
// the same name fired in NASA 2 shift
func mustCreateSource(t *testing.T) Source {
	path := filepath.Join(t.TempDir(), "cache.db")

	rw, err := storage.NewStorage(conf.StorageConfiguration{RWDBString: path})
	helpers.FailOnError(t, err)
	defer func() { _ = rw.Close() }()
	helpers.FailOnError(t, rw.Migrate(context.Background()))

	records := []types.IncidentRecord{}
	for i := 1; i <= 3; i++ {
		records = append(records, fixtures.NewRecord(i, fixtures.Time1.Add(time.Duration(i)*time.Minute), 1))
	}
	_, err = rw.WriteBatch(context.Background(), records)
	helpers.FailOnError(t, err)

	ro, err := storage.NewReadOnlyStorage(conf.StorageConfiguration{RODBString: path})
	helpers.FailOnError(t, err)
	t.Cleanup(func() { _ = ro.Close() })
	return ro
}

func newTestServer(t *testing.T, source Source, names ...string) *Server {
	active, err := questions.Resolve(names)
	helpers.FailOnError(t, err)

	server := New(source, active)
	server.now = func() time.Time { return testNow }
	return server
}

func get(server *Server, target string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	server.Routes().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, target, nil))
	return recorder
}

func TestRedirectToDefaultRange(t *testing.T) {
	server := newTestServer(t, brokenSource{}, "nack")

	response := get(server, "/")
	assert.Equal(t, http.StatusFound, response.Code)
	assert.Equal(t, "/2022-01-16/2022-02-15", response.Header().Get("Location"))

	response = get(server, "/?region=emea")
	assert.Equal(t, "/2022-01-16/2022-02-15?region=EMEA", response.Header().Get("Location"))
}

func TestShowAnswers(t *testing.T) {
	server := newTestServer(t, mustCreateSource(t), "QNeverAcknowledged", "sflap", "eres15")

	response := get(server, selectedRange)
	assert.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, "text/html; charset=utf-8", response.Header().Get("Content-Type"))

	body := response.Body.String()
	assert.Contains(t, body, "Which alerts have yet to be acknowledged by SRE?")
	assert.Contains(t, body, "Which alerts fire more than once per on-call shift (in the same cluster)?")
	assert.Contains(t, body, "Which alerts are resolved within 15 minutes by SRE?")
	assert.Contains(t, body, "<td>KubePodCrashLooping</td>")
	assert.Contains(t, body, "<td>3</td>")
	assert.Contains(t, body, "No alerts found.")
	assert.Contains(t, body, `value="2022-01-21"`)
	assert.Contains(t, body, `max="2022-02-15"`)

	// questions are shown in configured order
	assert.Less(t, strings.Index(body, `id="nack"`), strings.Index(body, `id="sflap"`))
	assert.Less(t, strings.Index(body, `id="sflap"`), strings.Index(body, `id="eres15"`))
}

func TestShowAnswersInRegion(t *testing.T) {
	server := newTestServer(t, mustCreateSource(t), "nack")

	response := get(server, selectedRange+"?region=APAC")
	assert.Equal(t, http.StatusOK, response.Code)
	assert.NotContains(t, response.Body.String(), "KubePodCrashLooping")
	assert.Contains(t, response.Body.String(), `<option value="APAC" selected>`)

	response = get(server, selectedRange+"?region=NASA")
	assert.Contains(t, response.Body.String(), "<td>KubePodCrashLooping</td>")
}

func TestShowAnswersInvalidRegion(t *testing.T) {
	server := newTestServer(t, mustCreateSource(t), "nack")

	response := get(server, selectedRange+"?region=Mars")
	assert.Equal(t, http.StatusBadRequest, response.Code)
}

func TestShowAnswersInvalidRange(t *testing.T) {
	server := newTestServer(t, brokenSource{}, "nack")

	for _, target := range []string{"/foo/bar", "/2022-02-10/2022-01-21", "/2022-02-10/2022-02-10"} {
		response := get(server, target)
		assert.Equal(t, http.StatusFound, response.Code, target)
		assert.Equal(t, "/2022-01-16/2022-02-15", response.Header().Get("Location"), target)
	}
}

// TestShowAnswersWithError checks that failing question is shown as an
// error block while the rest of page is rendered
func TestShowAnswersWithError(t *testing.T) {
	server := newTestServer(t, brokenSource{}, "ackures")
	before := testutil.ToFloat64(QuestionErrors.WithLabelValues("ackures"))

	response := get(server, selectedRange)
	assert.Equal(t, http.StatusOK, response.Code)
	assert.Contains(t, response.Body.String(), `<div class="error">Unable to answer the question: question ackures: cache is down</div>`)
	assert.Equal(t, before+1, testutil.ToFloat64(QuestionErrors.WithLabelValues("ackures")))
}

func TestShowNoQuestions(t *testing.T) {
	server := newTestServer(t, brokenSource{})

	response := get(server, selectedRange)
	assert.Equal(t, http.StatusOK, response.Code)
	assert.Contains(t, response.Body.String(), "No questions are configured.")
}

func TestRedirectToSelectedRange(t *testing.T) {
	server := newTestServer(t, brokenSource{}, "nack")

	response := get(server, "/range?since=2022-01-21&until=2022-02-10&region=EMEA")
	assert.Equal(t, http.StatusFound, response.Code)
	assert.Equal(t, "/2022-01-21/2022-02-10?region=EMEA", response.Header().Get("Location"))

	response = get(server, "/range?since=2022-01-21&until=2022-02-10&region=Global")
	assert.Equal(t, selectedRange, response.Header().Get("Location"))

	response = get(server, "/range?since=&until=2022-02-10")
	assert.Equal(t, "/2022-01-16/2022-02-15", response.Header().Get("Location"))
}

func TestAnswerQuestion(t *testing.T) {
	server := newTestServer(t, mustCreateSource(t), "nack")

	response := get(server, "/api/questions/nack?since=2022-01-21&until=2022-02-10")
	assert.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, "application/json", response.Header().Get("Content-Type"))

	var answer questions.Answer
	helpers.FailOnError(t, json.Unmarshal(response.Body.Bytes(), &answer))
	assert.Equal(t, "nack", answer.QuestionID)
	assert.Len(t, answer.Columns, 5)
	assert.Len(t, answer.Rows, 1)
	assert.Equal(t, "KubePodCrashLooping", answer.Rows[0]["name_nack"])
	assert.Equal(t, float64(3), answer.Rows[0]["occurrences_nack"])
}

// TestAnswerQuestionByClassName checks that class names are accepted and
// default range (2022-01-16 to 2022-02-15) is used without parameters
func TestAnswerQuestionByClassName(t *testing.T) {
	server := newTestServer(t, mustCreateSource(t), "nack")

	response := get(server, "/api/questions/QNeverAcknowledged")
	assert.Equal(t, http.StatusOK, response.Code)
	assert.JSONEq(t, `{
		"question": "nack",
		"description": "Which alerts have yet to be acknowledged by SRE?",
		"columns": [
			{"name": "name", "id": "name_nack"},
			{"name": "namespace", "id": "namespace_nack"},
			{"name": "urgency", "id": "urgency_nack"},
			{"name": "silenced", "id": "silenced_nack"},
			{"name": "occurrences", "id": "occurrences_nack"}
		],
		"data": [{
			"name_nack": "KubePodCrashLooping",
			"namespace_nack": "openshift-monitoring",
			"urgency_nack": "high",
			"silenced_nack": false,
			"occurrences_nack": 3
		}]
	}`, response.Body.String())
}

func TestAnswerUnknownQuestion(t *testing.T) {
	server := newTestServer(t, mustCreateSource(t), "nack")

	for _, id := range []string{"foo", "sflap"} {
		response := get(server, "/api/questions/"+id)
		assert.Equal(t, http.StatusNotFound, response.Code, id)
		assert.JSONEq(t, `{"error": "unknown question \"`+id+`\""}`, response.Body.String())
	}
}

func TestAnswerQuestionBadRequest(t *testing.T) {
	server := newTestServer(t, mustCreateSource(t), "nack")

	for _, target := range []string{
		"/api/questions/nack?since=yesterday",
		"/api/questions/nack?since=2022-02-10&until=2022-01-21",
		"/api/questions/nack?region=Mars",
	} {
		response := get(server, target)
		assert.Equal(t, http.StatusBadRequest, response.Code, target)
	}
}

func TestAnswerQuestionError(t *testing.T) {
	server := newTestServer(t, brokenSource{}, "sres15")

	response := get(server, "/api/questions/sres15")
	assert.Equal(t, http.StatusInternalServerError, response.Code)
	assert.JSONEq(t, `{"error": "question sres15: cache is down"}`, response.Body.String())
}

func TestHealthCheck(t *testing.T) {
	response := get(newTestServer(t, mustCreateSource(t)), "/healthz")
	assert.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, "ok", response.Body.String())

	response = get(newTestServer(t, brokenSource{}), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, response.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, mustCreateSource(t), "nack")
	_ = get(server, selectedRange)

	response := get(server, "/metrics")
	assert.Equal(t, http.StatusOK, response.Code)
	assert.Contains(t, response.Body.String(), QuestionDurationName)
	assert.Contains(t, response.Body.String(), `route="/{since}/{until}"`)
}

// TestUnknownPathsShareRouteLabel checks that unknown paths do not create
// new time series
func TestUnknownPathsShareRouteLabel(t *testing.T) {
	server := newTestServer(t, mustCreateSource(t))

	// make sure the series exists before counting
	_ = get(server, "/junk")
	seriesBefore := testutil.CollectAndCount(Requests)
	unmatchedBefore := testutil.ToFloat64(Requests.WithLabelValues(unmatchedRoute, "404"))

	for i := 0; i < 50; i++ {
		response := get(server, fmt.Sprintf("/junk-%d", i))
		assert.Equal(t, http.StatusNotFound, response.Code)
		_ = get(server, fmt.Sprintf("/a/b/c-%d", i))
	}

	assert.Equal(t, seriesBefore, testutil.CollectAndCount(Requests))
	assert.Equal(t, unmatchedBefore+100, testutil.ToFloat64(Requests.WithLabelValues(unmatchedRoute, "404")))

	response := get(server, "/metrics")
	assert.NotContains(t, response.Body.String(), "junk")
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	server := newTestServer(t, brokenSource{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.ListenAndServe(ctx, "127.0.0.1:0")
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}
