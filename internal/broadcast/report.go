package broadcast

import (
	"fmt"
	"time"
)

// MaxFailureReasons caps how many failure lines a Report keeps.
const MaxFailureReasons = 10

// Report is the outcome of one broadcast run.
//
// Succeeded+Failed == Attempted, len(FailureReasons) == min(Failed, 10) and
// Truncated == (Failed > 10) hold for every Report this package returns.
type Report struct {
	RunID          string
	Template       string
	Test           bool
	Attempted      int
	Succeeded      int
	Failed         int
	FailureReasons []string
	Truncated      bool
	Duration       time.Duration
}

// Hidden is the number of failures not listed in FailureReasons.
func (r Report) Hidden() int { return r.Failed - len(r.FailureReasons) }

// accumulate folds one target's outcome into r and returns the new value.
// The input report is left untouched.
func accumulate(r Report, t Target, err error) Report {
	r.Attempted++
	if err == nil {
		r.Succeeded++
		return r
	}
	r.Failed++
	if len(r.FailureReasons) >= MaxFailureReasons {
		r.Truncated = true
		return r
	}
	n := len(r.FailureReasons)
	r.FailureReasons = append(r.FailureReasons[:n:n], fmt.Sprintf("%s: %v", t.label(), err))
	return r
}

func fold(targets []Target, outcomes []error) Report {
	var r Report
	for i, t := range targets {
		r = accumulate(r, t, outcomes[i])
	}
	return r
}
