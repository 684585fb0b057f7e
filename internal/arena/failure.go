package arena

import (
	"errors"
	"fmt"
)

// Reason classifies why a query stopped before producing a result.
type Reason int

const (
	ReasonUpstream Reason = iota + 1
	ReasonIdentityUnknown
	ReasonNoGuildRoster
	ReasonNotAMember
	ReasonDataNotReady
	ReasonNoMatchesInRange
	ReasonNoRankingsData
)

var reasonNames = map[Reason]string{
	ReasonUpstream:         "upstream_error",
	ReasonIdentityUnknown:  "identity_unknown",
	ReasonNoGuildRoster:    "no_guild_roster",
	ReasonNotAMember:       "not_a_member",
	ReasonDataNotReady:     "data_not_ready",
	ReasonNoMatchesInRange: "no_matches_in_range",
	ReasonNoRankingsData:   "no_rankings_data",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Failure is the terminal error of a stats or rankings query. Message is
// user-facing; Err holds the underlying gateway error when there is one.
type Failure struct {
	Reason  Reason
	Stage   string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s at %s: %s: %v", f.Reason, f.Stage, f.Message, f.Err)
	}
	return fmt.Sprintf("%s at %s: %s", f.Reason, f.Stage, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Domain reports whether the failure is an expected, user-facing outcome
// rather than a backend problem.
func (f *Failure) Domain() bool { return f.Reason != ReasonUpstream }

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

const upstreamMessage = "The stats service is not responding right now. Please try again in a few minutes."

func upstream(stage string, err error) *Failure {
	return &Failure{Reason: ReasonUpstream, Stage: stage, Message: upstreamMessage, Err: err}
}
