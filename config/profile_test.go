// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfiles(t *testing.T) {
	assert.Equal(t, []string{"esp32", "rtl8721csm", "rtl8730e"}, Profiles())

	for _, name := range Profiles() {
		t.Run(name, func(t *testing.T) {
			p, err := Profile(name)
			require.NoError(t, err)

			cfg, err := (&Builder{}).Merge(p).Build()
			require.NoError(t, err)
			assert.NotZero(t, cfg.Board.CounterHz)
		})
	}

	t.Run("rtl8730e overrides defaults", func(t *testing.T) {
		p, err := Profile("rtl8730e")
		require.NoError(t, err)

		cfg, err := (&Builder{}).Merge(p).Build()
		require.NoError(t, err)
		assert.Equal(t, time.Millisecond, cfg.PM.TickPeriod)
		assert.Equal(t, 2, cfg.PM.Cores)
		assert.Equal(t, uint64(1_000_000), cfg.Board.CounterHz)
		// untouched by the profile
		assert.Equal(t, 32, cfg.PM.MaxDomains)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Profile("artik")
		assert.ErrorContains(t, err, "unknown board profile")
	})
}
