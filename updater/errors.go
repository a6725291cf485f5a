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

package updater

// This source file contains errors that can be returned by the updater.
// Each of them is mapped to its own exit status.

import "fmt"

// ConfigurationError is returned for invalid command line arguments
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return e.Msg
}

// StorageError is related to any storage error
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %v", e.Err)
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Err
}

// UpstreamError is related to any error when reading from PagerDuty
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: %v", e.Err)
}

// Unwrap returns the underlying error
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// MetricsError is returned when metrics can not be pushed
type MetricsError struct {
	Err error
}

func (e *MetricsError) Error() string {
	return fmt.Sprintf("unable to push metrics: %v", e.Err)
}

// Unwrap returns the underlying error
func (e *MetricsError) Unwrap() error {
	return e.Err
}
