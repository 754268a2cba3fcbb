// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package report renders benchmark results for humans and for the JSON-lines
// result files consumed by fluxbench-report.
package report

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/absmach/fluxbench/bench"
)

// Reporter writes round and summary lines. It is safe for concurrent use.
type Reporter struct {
	mu   sync.Mutex
	w    io.Writer
	mode bench.Mode
}

// New returns a reporter writing to w.
func New(w io.Writer, mode bench.Mode) *Reporter {
	return &Reporter{w: w, mode: mode}
}

// ReportRound writes one line for a finished round.
func (r *Reporter) ReportRound(run bench.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch run.Status {
	case bench.StatusCompleted:
		label := "Round trip time"
		if r.mode == bench.ModeFanOut {
			label = "Total round trip time"
		}
		fmt.Fprintf(r.w, "%s for test %d: %s seconds\n", label, run.Seq, seconds(run.Elapsed()))
	case bench.StatusTimedOut:
		fmt.Fprintf(r.w, "Test %d timed out after %v (%d/%d deliveries)\n",
			run.Seq, run.Timeout, run.Deliveries, run.Target)
	case bench.StatusFailed:
		fmt.Fprintf(r.w, "Test %d failed: %v\n", run.Seq, run.Err)
	case bench.StatusCancelled:
		fmt.Fprintf(r.w, "Test %d cancelled\n", run.Seq)
	}
}

// ReportSummary writes the completion line and latency statistics.
func (r *Reporter) ReportSummary(sum bench.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	done := sum.Completed()
	if done == sum.Total && !sum.Interrupted {
		fmt.Fprintf(r.w, "All %d tests completed\n", sum.Total)
	} else {
		fmt.Fprintf(r.w, "%d of %d tests completed (%d timed out, %d failed)\n",
			done, sum.Total, sum.Count(bench.StatusTimedOut), sum.Count(bench.StatusFailed))
	}

	st := Compute(sum.Latencies())
	if st.Count == 0 {
		return
	}
	fmt.Fprintf(r.w, "Latency (s): min=%s mean=%s p50=%s p95=%s p99=%s max=%s n=%d\n",
		seconds(st.Min), seconds(st.Mean), seconds(st.P50),
		seconds(st.P95), seconds(st.P99), seconds(st.Max), st.Count)
}

// ReportExit writes the interrupt line.
func (r *Reporter) ReportExit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, "Exiting...")
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
