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
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/openshift/osd-alert-analysis/questions"
	"github.com/openshift/osd-alert-analysis/types"
	"github.com/openshift/osd-alert-analysis/utils"
)

// DateLayout is the format of dates in dashboard URLs
const DateLayout = "2006-01-02"

// DefaultRangeDays is the length of date range shown when no range is
// selected
const DefaultRangeDays = 30

const (
	day              = 24 * time.Hour
	pingTimeout      = 5 * time.Second
	regionParameter  = "region"
	sinceParameter   = "since"
	untilParameter   = "until"
	pageTemplateName = "page.html"
)

// Regions lists regions offered by the region selector
var Regions = []types.Region{types.RegionGlobal, types.RegionAPAC, types.RegionEMEA, types.RegionNASA}

var templateFuncs = template.FuncMap{
	"cell": cell,
}

// cell formats one answer value, NULL is shown as an empty cell
func cell(value any) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

// section is one question shown on the page
type section struct {
	ID          string
	Description string
	Answer      questions.Answer
	Error       string
}

type page struct {
	Since    string
	Until    string
	MaxDate  string
	Region   types.Region
	Regions  []types.Region
	Sections []section
}

type errorResponse struct {
	Error string `json:"error"`
}

// defaultRange returns the last DefaultRangeDays whole days ending
// yesterday. Until is exclusive.
func (s *Server) defaultRange() (since, until time.Time) {
	until = s.now().UTC().Truncate(day)
	since = until.AddDate(0, 0, -DefaultRangeDays)
	return since, until
}

// parseRange parses dates of selected range. Until must be after since.
func parseRange(since, until string) (time.Time, time.Time, error) {
	s, err := utils.ParseTimestamp(since)
	if err != nil {
		return s, s, err
	}
	u, err := utils.ParseTimestamp(until)
	if err != nil {
		return s, u, err
	}
	if !s.Before(u) {
		return s, u, fmt.Errorf("since (%s) needs to be before until (%s)", since, until)
	}
	return s, u, nil
}

// rangePath returns path of page showing given range and region
func rangePath(since, until time.Time, region types.Region) string {
	path := "/" + since.Format(DateLayout) + "/" + until.Format(DateLayout)
	if region != types.RegionGlobal {
		path += "?" + url.Values{regionParameter: {string(region)}}.Encode()
	}
	return path
}

// regionParam reads region selected by the request, missing region means
// global one
func regionParam(r *http.Request) (types.Region, error) {
	return types.ParseRegion(r.URL.Query().Get(regionParameter))
}

func (s *Server) redirectToDefaultRange(w http.ResponseWriter, r *http.Request) {
	region, err := regionParam(r)
	if err != nil {
		region = types.RegionGlobal
	}
	since, until := s.defaultRange()
	http.Redirect(w, r, rangePath(since, until, region), http.StatusFound)
}

// redirectToSelectedRange handles the range selector form
func (s *Server) redirectToSelectedRange(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	region, err := regionParam(r)
	if err != nil {
		region = types.RegionGlobal
	}

	since, until, err := parseRange(query.Get(sinceParameter), query.Get(untilParameter))
	if err != nil {
		since, until = s.defaultRange()
	}
	http.Redirect(w, r, rangePath(since, until, region), http.StatusFound)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := s.source.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("Cache is not reachable")
		http.Error(w, "cache is not reachable", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

// answer answers one question and updates question metrics
func (s *Server) answer(ctx context.Context, question questions.Question, window questions.Window) (questions.Answer, error) {
	start := time.Now()
	answer, err := question.Answer(ctx, s.source, window)
	QuestionDuration.WithLabelValues(question.ID()).Observe(time.Since(start).Seconds())

	if err != nil {
		QuestionErrors.WithLabelValues(question.ID()).Inc()
		log.Error().Err(err).Str(questionLabel, question.ID()).Msg("Unable to answer question")
	}
	return answer, err
}

// showAnswers renders one table per active question. Invalid range is
// replaced by the default one.
func (s *Server) showAnswers(w http.ResponseWriter, r *http.Request) {
	region, err := regionParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	since, until, err := parseRange(chi.URLParam(r, sinceParameter), chi.URLParam(r, untilParameter))
	if err != nil {
		log.Debug().Err(err).Msg("Invalid date range, showing default one")
		since, until = s.defaultRange()
		http.Redirect(w, r, rangePath(since, until, region), http.StatusFound)
		return
	}

	_, maxDate := s.defaultRange()
	data := page{
		Since:    since.Format(DateLayout),
		Until:    until.Format(DateLayout),
		MaxDate:  maxDate.Format(DateLayout),
		Region:   region,
		Regions:  Regions,
		Sections: make([]section, 0, len(s.questions)),
	}

	window := questions.Window{Since: since, Until: until, Region: region}
	for _, question := range s.questions {
		answer, err := s.answer(r.Context(), question, window)
		sec := section{
			ID:          question.ID(),
			Description: question.Description(),
			Answer:      answer,
		}
		if err != nil {
			sec.Error = err.Error()
		}
		data.Sections = append(data.Sections, sec)
	}

	var buffer bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buffer, pageTemplateName, data); err != nil {
		log.Error().Err(err).Msg("Unable to render page")
		http.Error(w, "unable to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buffer.WriteTo(w)
}

// answerQuestion returns answer of one active question as JSON. Range
// defaults to the default one when not set.
func (s *Server) answerQuestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	question, found := s.activeQuestion(id)
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: (&questions.UnknownQuestionError{Name: id}).Error()})
		return
	}

	region, err := regionParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	since, until := s.defaultRange()
	query := r.URL.Query()
	if query.Has(sinceParameter) || query.Has(untilParameter) {
		sinceParam, untilParam := query.Get(sinceParameter), query.Get(untilParameter)
		if sinceParam == "" {
			sinceParam = since.Format(DateLayout)
		}
		if untilParam == "" {
			untilParam = until.Format(DateLayout)
		}
		since, until, err = parseRange(sinceParam, untilParam)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}

	answer, err := s.answer(r.Context(), question, questions.Window{Since: since, Until: until, Region: region})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// activeQuestion finds question shown by this dashboard by its ID or class
// name
func (s *Server) activeQuestion(name string) (questions.Question, bool) {
	known, found := questions.Lookup(name)
	if !found {
		return nil, false
	}
	for _, question := range s.questions {
		if question.ID() == known.ID() {
			return question, true
		}
	}
	return nil, false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("Unable to serialize response")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
