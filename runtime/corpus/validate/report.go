package validate

import (
	"fmt"
	"io"

	"goa.design/agentcorpus/runtime/corpus/failure"
)

// Report aggregates validation results for a batch of lines.
type Report struct {
	// Total is the number of lines examined, including blank lines.
	Total int
	// Errored is the number of lines with at least one error.
	Errored int
	// Errors lists every error in line order.
	Errors []Error
}

// Add records the errors found on one line.
func (r *Report) Add(errs []Error) {
	r.Total++
	if len(errs) > 0 {
		r.Errored++
		r.Errors = append(r.Errors, errs...)
	}
}

// Valid returns the number of lines without errors.
func (r *Report) Valid() int {
	return r.Total - r.Errored
}

// SuccessRate returns the share of valid lines as a percentage. An empty
// batch has a rate of 0.
func (r *Report) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Valid()) / float64(r.Total) * 100
}

// Err returns a failure.KindValidation error when any line has errors.
func (r *Report) Err() error {
	if r.Errored == 0 {
		return nil
	}
	return failure.Errorf(failure.KindValidation, "%d of %d lines failed validation", r.Errored, r.Total)
}

// Print writes the errors grouped by line followed by a summary.
func (r *Report) Print(w io.Writer) error {
	line := 0
	for _, e := range r.Errors {
		if e.Line != line {
			line = e.Line
			if _, err := fmt.Fprintf(w, "line %d:\n", line); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "  - %s\n", e.Message); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "total: %d\nvalid: %d\nerrored: %d\nsuccess rate: %.2f%%\n",
		r.Total, r.Valid(), r.Errored, r.SuccessRate())
	return err
}
