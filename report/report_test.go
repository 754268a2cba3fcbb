// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/absmach/fluxbench/bench"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completed(seq int, d time.Duration) bench.Run {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return bench.Run{Seq: seq, Start: start, End: start.Add(d), Status: bench.StatusCompleted, Target: 1, Deliveries: 1}
}

func TestCompute(t *testing.T) {
	assert.Equal(t, Stats{}, Compute(nil))

	samples := make([]time.Duration, 0, 100)
	for i := 100; i >= 1; i-- {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	st := Compute(samples)
	assert.Equal(t, 100, st.Count)
	assert.Equal(t, time.Millisecond, st.Min)
	assert.Equal(t, 100*time.Millisecond, st.Max)
	assert.Equal(t, 50*time.Millisecond, st.P50)
	assert.Equal(t, 95*time.Millisecond, st.P95)
	assert.Equal(t, 99*time.Millisecond, st.P99)
	assert.Equal(t, 50500*time.Microsecond, st.Mean)
	// Input order untouched.
	assert.Equal(t, 100*time.Millisecond, samples[0])
}

func TestComputeSingle(t *testing.T) {
	st := Compute([]time.Duration{3 * time.Second})
	assert.Equal(t, 3*time.Second, st.Min)
	assert.Equal(t, 3*time.Second, st.P99)
	assert.Equal(t, 3*time.Second, st.Mean)
}

func TestReportRound(t *testing.T) {
	cases := []struct {
		name string
		mode bench.Mode
		run  bench.Run
		want string
	}{
		{
			name: "ring completed",
			mode: bench.ModeRing,
			run:  completed(1, 1500*time.Millisecond),
			want: "Round trip time for test 1: 1.5 seconds\n",
		},
		{
			name: "fanout completed",
			mode: bench.ModeFanOut,
			run:  completed(2, 250*time.Millisecond),
			want: "Total round trip time for test 2: 0.25 seconds\n",
		},
		{
			name: "timed out",
			mode: bench.ModeFanOut,
			run:  bench.Run{Seq: 3, Status: bench.StatusTimedOut, Timeout: 5 * time.Second, Target: 10, Deliveries: 7},
			want: "Test 3 timed out after 5s (7/10 deliveries)\n",
		},
		{
			name: "failed",
			mode: bench.ModeRing,
			run: bench.Run{Seq: 4, Status: bench.StatusFailed, Err: &bench.RoundError{
				Round: 4, ClientID: "c1", Topic: "t", Err: bench.ErrPublishFailure,
			}},
			want: "Test 4 failed: round 4 client c1 topic \"t\": publish failure\n",
		},
		{
			name: "cancelled",
			mode: bench.ModeRing,
			run:  bench.Run{Seq: 5, Status: bench.StatusCancelled},
			want: "Test 5 cancelled\n",
		},
		{
			name: "pending prints nothing",
			mode: bench.ModeRing,
			run:  bench.Run{Seq: 6},
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			New(&buf, tc.mode).ReportRound(tc.run)
			assert.Equal(t, tc.want, buf.String())
		})
	}
}

func TestReportSummaryAllCompleted(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, bench.ModeRing).ReportSummary(bench.Summary{
		Total: 2,
		Runs:  []bench.Run{completed(1, time.Second), completed(2, 3*time.Second)},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "All 2 tests completed", lines[0])
	assert.Equal(t, "Latency (s): min=1 mean=2 p50=1 p95=3 p99=3 max=3 n=2", lines[1])
}

func TestReportSummaryPartial(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, bench.ModeRing).ReportSummary(bench.Summary{
		Total: 3,
		Runs: []bench.Run{
			completed(1, time.Second),
			{Seq: 2, Status: bench.StatusTimedOut},
			{Seq: 3, Status: bench.StatusFailed, Err: errors.New("x")},
		},
	})
	assert.True(t, strings.HasPrefix(buf.String(), "1 of 3 tests completed (1 timed out, 1 failed)\n"))
}

func TestReportSummaryInterruptedNoRounds(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, bench.ModeRing).ReportSummary(bench.Summary{Total: 4, Interrupted: true})
	assert.Equal(t, "0 of 4 tests completed (0 timed out, 0 failed)\n", buf.String())
}

func TestReportExit(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, bench.ModeRing).ReportExit()
	assert.Equal(t, "Exiting...\n", buf.String())
}

func TestJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sum := bench.Summary{
		RunID:       "abc",
		Mode:        bench.ModeFanOut,
		QoS:         1,
		Clients:     10,
		PayloadSize: 16,
		Total:       2,
		Runs:        []bench.Run{completed(1, 2*time.Millisecond), {Seq: 2, Status: bench.StatusTimedOut}},
		Started:     start,
		Finished:    start.Add(3 * time.Second),
	}
	require.NoError(t, WriteJSONLine(path, sum))
	require.NoError(t, WriteJSONLine(path, sum))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	results, err := ReadResults(f)
	require.NoError(t, err)
	require.Len(t, results, 2)

	r := results[0]
	assert.Equal(t, "abc", r.RunID)
	assert.Equal(t, "fanout", r.Mode)
	assert.Equal(t, 1, r.QoS)
	assert.Equal(t, 1, r.Completed)
	assert.Equal(t, 1, r.TimedOut)
	assert.Equal(t, 2.0, r.MaxMS)
	assert.Equal(t, []float64{2}, r.RoundsMS)
	assert.Equal(t, []int{1, 0}, r.Deliveries)
	assert.Equal(t, int64(3000), r.DurationMS)
	assert.Equal(t, "2024-01-01T00:00:03Z", r.Timestamp)
}

func TestReadResultsSkipsGarbage(t *testing.T) {
	in := strings.NewReader("\nnot json\n{\"mode\":\"ring\",\"tests\":3}\n")
	results, err := ReadResults(in)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ring", results[0].Mode)
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	err := RenderTable(&buf, []Result{
		{Mode: "ring", RunID: "a", Tests: 2, Completed: 2, MeanMS: 1.5},
		{Mode: "fanout", RunID: "b", Interrupted: true},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "TIMESTAMP"))
	assert.Contains(t, lines[1], "1.500")
	assert.Contains(t, lines[2], "b (interrupted)")
}
