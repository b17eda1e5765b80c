package verify

import (
	"errors"
	"fmt"
	"time"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name     string        `json:"name" yaml:"name"`
	Passed   bool          `json:"passed" yaml:"passed"`
	Records  int64         `json:"records" yaml:"records"`
	Duration time.Duration `json:"duration_ns" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`

	err error
}

// Err returns the failure, or nil when the check passed.
func (c CheckResult) Err() error { return c.err }

// Report collects the checks run against one pipeline.
type Report struct {
	Scenario string        `json:"scenario" yaml:"scenario"`
	Expected int           `json:"expected" yaml:"expected"`
	Checks   []CheckResult `json:"checks" yaml:"checks"`
}

func (r *Report) add(res CheckResult) {
	res.Passed = res.err == nil
	if res.err != nil {
		res.Error = res.err.Error()
	}

	r.Checks = append(r.Checks, res)
}

// Passed reports whether every check passed.
func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}

	return true
}

// Failed returns the number of failed checks.
func (r *Report) Failed() int {
	n := 0

	for _, c := range r.Checks {
		if !c.Passed {
			n++
		}
	}

	return n
}

// Duration sums the check durations.
func (r *Report) Duration() time.Duration {
	var total time.Duration
	for _, c := range r.Checks {
		total += c.Duration
	}

	return total
}

// Err joins every check failure, each prefixed with its check name.
func (r *Report) Err() error {
	var errs []error

	for _, c := range r.Checks {
		if c.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, c.err))
		}
	}

	return errors.Join(errs...)
}
