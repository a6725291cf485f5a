// Copyright 2022 Red Hat, Inc
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types_test

import (
	"testing"

	"github.com/openshift/osd-alert-analysis/types"
	"github.com/stretchr/testify/assert"
)

func TestParseRegion(t *testing.T) {
	var testScenarios = []struct {
		input    string
		expected types.Region
		isError  bool
	}{
		{"", types.RegionGlobal, false},
		{"global", types.RegionGlobal, false},
		{"APAC", types.RegionAPAC, false},
		{"emea", types.RegionEMEA, false},
		{" NASA ", types.RegionNASA, false},
		{"LATAM", types.RegionGlobal, true},
	}

	for _, scenario := range testScenarios {
		region, err := types.ParseRegion(scenario.input)
		assert.Equal(t, scenario.expected, region, scenario.input)
		if scenario.isError {
			assert.Error(t, err)
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestDBDriverString(t *testing.T) {
	assert.Equal(t, "sqlite3", types.DBDriverSQLite3.String())
	assert.Equal(t, "postgres", types.DBDriverPostgres.String())
	assert.Equal(t, "general", types.DBDriverGeneral.String())
}

func TestCacheWindowEmpty(t *testing.T) {
	assert.True(t, types.CacheWindow{}.Empty())
	assert.False(t, types.CacheWindow{Count: 1}.Empty())
}
