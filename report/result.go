// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/absmach/fluxbench/bench"
)

// Result is one JSON line of a results file.
type Result struct {
	Timestamp    string    `json:"timestamp"`
	RunID        string    `json:"run_id"`
	Mode         string    `json:"mode"`
	QoS          int       `json:"qos"`
	Clients      int       `json:"clients"`
	PayloadBytes int       `json:"payload_bytes"`
	Tests        int       `json:"tests"`
	Completed    int       `json:"completed"`
	TimedOut     int       `json:"timed_out"`
	Failed       int       `json:"failed"`
	Interrupted  bool      `json:"interrupted"`
	MinMS        float64   `json:"min_ms"`
	MeanMS       float64   `json:"mean_ms"`
	P50MS        float64   `json:"p50_ms"`
	P95MS        float64   `json:"p95_ms"`
	P99MS        float64   `json:"p99_ms"`
	MaxMS        float64   `json:"max_ms"`
	DurationMS   int64     `json:"duration_ms"`
	RoundsMS     []float64 `json:"rounds_ms,omitempty"`
	// Deliveries is the counted delivery total of each round, in order.
	Deliveries []int `json:"deliveries,omitempty"`
}

// FromSummary converts a summary into a result line.
func FromSummary(sum bench.Summary) Result {
	lat := sum.Latencies()
	st := Compute(lat)
	rounds := make([]float64, 0, len(lat))
	for _, d := range lat {
		rounds = append(rounds, ms(d))
	}
	deliveries := make([]int, 0, len(sum.Runs))
	for _, r := range sum.Runs {
		deliveries = append(deliveries, r.Deliveries)
	}

	ts := sum.Finished
	if ts.IsZero() {
		ts = time.Now()
	}
	var dur int64
	if !sum.Started.IsZero() && !sum.Finished.IsZero() {
		dur = sum.Finished.Sub(sum.Started).Milliseconds()
	}

	return Result{
		Timestamp:    ts.UTC().Format(time.RFC3339),
		RunID:        sum.RunID,
		Mode:         sum.Mode.String(),
		QoS:          int(sum.QoS),
		Clients:      sum.Clients,
		PayloadBytes: sum.PayloadSize,
		Tests:        sum.Total,
		Completed:    sum.Completed(),
		TimedOut:     sum.Count(bench.StatusTimedOut),
		Failed:       sum.Count(bench.StatusFailed),
		Interrupted:  sum.Interrupted,
		MinMS:        ms(st.Min),
		MeanMS:       ms(st.Mean),
		P50MS:        ms(st.P50),
		P95MS:        ms(st.P95),
		P99MS:        ms(st.P99),
		MaxMS:        ms(st.Max),
		DurationMS:   dur,
		RoundsMS:     rounds,
		Deliveries:   deliveries,
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// WriteJSONLine appends the summary as one JSON line to path.
func WriteJSONLine(path string, sum bench.Summary) error {
	line, err := json.Marshal(FromSummary(sum))
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return appendJSONLine(path, line)
}

func appendJSONLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open json output %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to write json line: %w", err)
	}
	if _, err := f.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// ReadResults decodes JSON lines from r. Blank and undecodable lines are
// skipped.
func ReadResults(r io.Reader) ([]Result, error) {
	var out []Result
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var res Result
		if err := json.Unmarshal(line, &res); err != nil {
			continue
		}
		out = append(out, res)
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// RenderTable writes results as an aligned table.
func RenderTable(w io.Writer, results []Result) error {
	tw := tabwriter.NewWriter(w, 2, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tMODE\tQOS\tCLIENTS\tMSG_SIZE\tTESTS\tDONE\tTIMEOUT\tFAILED\tMIN_MS\tMEAN_MS\tP50_MS\tP95_MS\tP99_MS\tMAX_MS\tRUN_ID")
	for _, r := range results {
		runID := r.RunID
		if r.Interrupted {
			runID += " (interrupted)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%dB\t%d\t%d\t%d\t%d\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%s\n",
			r.Timestamp,
			r.Mode,
			r.QoS,
			r.Clients,
			r.PayloadBytes,
			r.Tests,
			r.Completed,
			r.TimedOut,
			r.Failed,
			r.MinMS,
			r.MeanMS,
			r.P50MS,
			r.P95MS,
			r.P99MS,
			r.MaxMS,
			runID,
		)
	}
	return tw.Flush()
}
