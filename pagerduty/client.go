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

// Package pagerduty contains a minimal client of PagerDuty REST API v2. Only
// the read-only endpoints needed to cache incidents and their alerts are
// implemented.
//
// All requests are spaced by a client-side rate limiter. Transient failures
// (HTTP 429, HTTP 5xx, network errors) are retried with exponential backoff,
// all other failures are reported immediately.
package pagerduty

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	httputils "github.com/RedHatInsights/insights-operator-utils/http"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/openshift/osd-alert-analysis/conf"
	"github.com/openshift/osd-alert-analysis/normalizer"
)

// HTTP headers required by PagerDuty REST API v2
const (
	acceptHeader  = "application/vnd.pagerduty+json;version=2"
	tokenTemplate = "Token token=%s"
)

// MaxPageSize is the maximum number of records returned by PagerDuty in one
// page of classic (offset based) pagination
const MaxPageSize = 100

// maxErrorBodyLength limits the part of error response included in errors
const maxErrorBodyLength = 512

// messages
const (
	requestRetryMessage = "Upstream request failed, retrying"
	pathAttribute       = "path"
	attemptAttribute    = "attempt"
	statusAttribute     = "status"
)

// TransientError is returned when all attempts of a retryable request
// failed
type TransientError struct {
	Path     string
	Attempts int
	Err      error
}

// Error returns a string representation of error
func (e *TransientError) Error() string {
	return fmt.Sprintf("request %s failed after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

// Unwrap returns the last underlying error
func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError is returned for requests that can not succeed when
// retried (bad credentials, wrong parameters, malformed response)
type PermanentError struct {
	Path       string
	StatusCode int
	Err        error
}

// Error returns a string representation of error
func (e *PermanentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request %s failed with HTTP status %d: %v", e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("request %s failed: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Client is a PagerDuty REST API client
type Client struct {
	baseURL        string
	token          string
	teams          []string
	httpClient     *http.Client
	limiter        *rate.Limiter
	maxAttempts    int
	retryBaseDelay time.Duration
	normalizer     *normalizer.Normalizer
}

// New constructs PagerDuty client from configuration. Alert names are
// standardized by given normalizer.
func New(configuration conf.PagerDutyConfiguration, n *normalizer.Normalizer) *Client {
	if n == nil {
		n = normalizer.New(nil)
	}

	maxAttempts := configuration.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = conf.DefaultMaxAttempts
	}

	requestsPerSecond := configuration.RequestsPerSecond
	if requestsPerSecond <= 0 {
		requestsPerSecond = conf.DefaultRequestsPerSecond
	}

	timeout := configuration.Timeout
	if timeout <= 0 {
		timeout = conf.DefaultPagerDutyTimeout
	}

	baseURL := configuration.URL
	if baseURL == "" {
		baseURL = conf.DefaultPagerDutyURL
	}

	return &Client{
		baseURL:        strings.TrimSuffix(httputils.SetHTTPPrefix(baseURL), "/"),
		token:          configuration.APIToken,
		teams:          configuration.Teams,
		httpClient:     &http.Client{Timeout: timeout},
		limiter:        rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		maxAttempts:    maxAttempts,
		retryBaseDelay: configuration.RetryBaseDelay,
		normalizer:     n,
	}
}

// get performs GET request with retries and decodes JSON response into
// target
func (c *Client) get(ctx context.Context, path string, params url.Values, target any) error {
	requestURL := c.baseURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		// spaces requests below upstream rate limit, returns error
		// when context is cancelled
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		RequestsCounter.Inc()

		delay, err := c.attempt(ctx, path, requestURL, target)
		if err == nil {
			return nil
		}

		var permanent *PermanentError
		if errors.As(err, &permanent) || ctx.Err() != nil {
			ErrorsCounter.Inc()
			return err
		}

		lastErr = err
		if attempt == c.maxAttempts-1 {
			break
		}

		// exponential backoff unless upstream said otherwise
		if delay == 0 {
			delay = c.retryBaseDelay * time.Duration(1<<uint(attempt))
		}

		RetriesCounter.Inc()
		log.Warn().
			Err(err).
			Str(pathAttribute, path).
			Int(attemptAttribute, attempt+1).
			Dur("delay", delay).
			Msg(requestRetryMessage)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ErrorsCounter.Inc()
	return &TransientError{Path: path, Attempts: c.maxAttempts, Err: lastErr}
}

// attempt performs one HTTP request. For retryable failures it returns the
// delay requested by upstream (zero when not specified).
func (c *Client) attempt(ctx context.Context, path, requestURL string, target any) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, http.NoBody)
	if err != nil {
		return 0, &PermanentError{Path: path, Err: err}
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf(tokenTemplate, c.token))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// network errors and timeouts are transient
		return 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Error().Err(err).Msg("Unable to close response body")
		}
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return 0, &PermanentError{Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("unable to decode response: %w", err)}
		}
		return 0, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return retryAfter(resp), fmt.Errorf("HTTP status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	default:
		log.Error().
			Str(pathAttribute, path).
			Int(statusAttribute, resp.StatusCode).
			Msg("Upstream refused request")
		return 0, &PermanentError{
			Path:       path,
			StatusCode: resp.StatusCode,
			Err:        errors.New(readErrorBody(resp.Body)),
		}
	}
}

// retryAfter returns delay specified by Retry-After header in seconds
func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func readErrorBody(body io.Reader) string {
	content, err := io.ReadAll(io.LimitReader(body, maxErrorBodyLength))
	if err != nil {
		return err.Error()
	}
	return strings.TrimSpace(string(content))
}
