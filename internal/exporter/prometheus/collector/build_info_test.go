// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBuildInfo(t *testing.T) {
	c := NewBuildInfoCollector()

	ch := make(chan *prometheus.Desc, 1)
	c.Describe(ch)
	assert.Len(t, ch, 1)

	assert.Equal(t, 1, testutil.CollectAndCount(c, "pm_build_info"))
}

func TestBuildInfoParallelCollect(t *testing.T) {
	c := NewBuildInfoCollector()
	const calls = 10

	ch := make(chan prometheus.Metric, calls)
	var wg sync.WaitGroup
	for range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Collect(ch)
		}()
	}
	wg.Wait()
	close(ch)

	n := 0
	for m := range ch {
		assert.Contains(t, m.Desc().String(), "pm_build_info")
		n++
	}
	assert.Equal(t, calls, n)
}
