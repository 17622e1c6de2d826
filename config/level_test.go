// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLevel_IsEnabled(t *testing.T) {
	tests := []struct {
		name   string
		level  Level
		state  bool
		domain bool
		wakeup bool
		sleep  bool
	}{
		{"none", 0, false, false, false, false},
		{"state", MetricsLevelState, true, false, false, false},
		{"domain and sleep", MetricsLevelDomain | MetricsLevelSleep, false, true, false, true},
		{"all", MetricsLevelAll, true, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.state, tt.level.IsStateEnabled())
			assert.Equal(t, tt.domain, tt.level.IsDomainEnabled())
			assert.Equal(t, tt.wakeup, tt.level.IsWakeupEnabled())
			assert.Equal(t, tt.sleep, tt.level.IsSleepEnabled())
		})
	}
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "", Level(0).String())
	assert.Equal(t, "wakeup", MetricsLevelWakeup.String())
	assert.Equal(t, "state,domain,wakeup,sleep", MetricsLevelAll.String())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    Level
		wantErr bool
	}{
		{"empty means all", nil, MetricsLevelAll, false},
		{"single", []string{"sleep"}, MetricsLevelSleep, false},
		{"case and whitespace", []string{" STATE ", "Domain"}, MetricsLevelState | MetricsLevelDomain, false},
		{"unknown", []string{"state", "node"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidLevels(t *testing.T) {
	assert.Equal(t, []string{"state", "domain", "wakeup", "sleep"}, ValidLevels())
}

func TestBitPatterns(t *testing.T) {
	assert.Equal(t, Level(1), MetricsLevelState)
	assert.Equal(t, Level(2), MetricsLevelDomain)
	assert.Equal(t, Level(4), MetricsLevelWakeup)
	assert.Equal(t, Level(8), MetricsLevelSleep)
	assert.Equal(t, Level(15), MetricsLevelAll)
}

func TestLevel_YAML(t *testing.T) {
	type wrapper struct {
		Level Level `yaml:"level"`
	}

	tests := []struct {
		name  string
		level Level
		yaml  string
	}{
		{"single is a scalar", MetricsLevelDomain, "level: domain\n"},
		{"several are a list", MetricsLevelState | MetricsLevelSleep, "level:\n    - state\n    - sleep\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := yaml.Marshal(wrapper{Level: tt.level})
			require.NoError(t, err)
			assert.Equal(t, tt.yaml, string(out))

			var back wrapper
			require.NoError(t, yaml.Unmarshal(out, &back))
			assert.Equal(t, tt.level, back.Level)
		})
	}

	t.Run("unknown level", func(t *testing.T) {
		var w wrapper
		assert.Error(t, yaml.Unmarshal([]byte("level: gpu\n"), &w))
	})
	t.Run("wrong type", func(t *testing.T) {
		var w wrapper
		assert.Error(t, yaml.Unmarshal([]byte("level: {a: b}\n"), &w))
	})
}
