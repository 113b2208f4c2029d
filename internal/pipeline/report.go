package pipeline

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
)

// Status is the outcome of one date within a stage.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped" // recoverable per-date data error
	StatusFailed  Status = "failed"  // unexpected error; the batch continued
)

// DateResult is the outcome of one date.
type DateResult struct {
	Date   time.Time `json:"date"`
	Status Status    `json:"status"`
	Reason string    `json:"reason,omitempty"`
}

// StageReport summarises one stage of a run.
type StageReport struct {
	Stage      Stage          `json:"stage"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Dates      []DateResult   `json:"dates,omitempty"`
	Counts     map[string]int `json:"counts,omitempty"`
	Error      string         `json:"error,omitempty"`

	mu sync.Mutex
}

// RunReport summarises a run of one or more stages.
type RunReport struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Stages     []*StageReport `json:"stages"`
	Error      string         `json:"error,omitempty"`
}

func newStageReport(stage Stage) *StageReport {
	return &StageReport{Stage: stage, StartedAt: domain.Now(), Counts: make(map[string]int)}
}

// record adds a date outcome. Safe for concurrent use.
func (s *StageReport) record(date time.Time, status Status, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Dates = append(s.Dates, DateResult{Date: date, Status: status, Reason: reason})
}

// count adds n to a named tally. Safe for concurrent use.
func (s *StageReport) count(name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Counts[name] += n
}

// finish sorts the date outcomes and stamps the finish time.
func (s *StageReport) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sort.SliceStable(s.Dates, func(i, j int) bool { return s.Dates[i].Date.Before(s.Dates[j].Date) })
	if err != nil {
		s.Error = err.Error()
	}
	s.FinishedAt = domain.Now()
}

// Tally returns how many dates ended in each status.
func (s *StageReport) Tally() (success, skipped, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.Dates {
		switch d.Status {
		case StatusSuccess:
			success++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
	}
	return success, skipped, failed
}

// Stage returns the report of the named stage, or nil if it did not run.
func (r *RunReport) Stage(stage Stage) *StageReport {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s
		}
	}
	return nil
}

// Render writes a human-readable summary of the run.
func (r *RunReport) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run started %s, finished %s (%s)\n",
		r.StartedAt.UTC().Format(time.RFC3339), r.FinishedAt.UTC().Format(time.RFC3339), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, s := range r.Stages {
		success, skipped, failed := s.Tally()
		fmt.Fprintf(tw, "\n[%s] %s\n", s.Stage, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
		if len(s.Dates) > 0 {
			fmt.Fprintf(tw, "dates\tsuccess %d\tskipped %d\tfailed %d\n", success, skipped, failed)
		}
		for _, name := range sortedCounts(s.Counts) {
			fmt.Fprintf(tw, "%s\t%d\n", name, s.Counts[name])
		}
		for _, d := range s.Dates {
			if d.Status == StatusSuccess {
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", domain.FormatDate(d.Date), d.Status, d.Reason)
		}
		if s.Error != "" {
			fmt.Fprintf(tw, "error\t%s\n", s.Error)
		}
	}
	if r.Error != "" {
		fmt.Fprintf(tw, "\nrun failed: %s\n", r.Error)
	}
	return tw.Flush()
}

// String renders the report, for logs.
func (r *RunReport) String() string {
	var b strings.Builder
	_ = r.Render(&b)
	return b.String()
}

func sortedCounts(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
