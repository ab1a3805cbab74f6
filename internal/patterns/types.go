// Package patterns surfaces historically relevant "pass" reasoning for a
// new opportunity.
//
// A pass pattern (sometimes called a ghost loss) is a prior decision to
// decline a deal that may be regretted later. The matcher retrieves such
// patterns from two sources: structured historical outcomes with documented
// rationale, and free-text memo chunks whose pass reasoning never made it
// into structured fields.
package patterns

import "time"

// Outcome is the recorded result of a prior decision.
type Outcome string

const (
	// OutcomePassed marks a deal the firm declined.
	OutcomePassed Outcome = "passed"
	// OutcomeOther marks any other recorded result.
	OutcomeOther Outcome = "other"
)

// Source discriminates the two candidate kinds.
type Source string

const (
	// SourcePassedOutcome marks a candidate from a structured historical outcome.
	SourcePassedOutcome Source = "passed_outcome"
	// SourceMemoChunk marks a candidate recovered from narrative memo text.
	SourceMemoChunk Source = "memo_chunk"
)

// Opportunity is the new deal under evaluation.
type Opportunity struct {
	ID          string
	CompanyName string
	OneLiner    string
	Description string
	Sector      string
}

// HistoricalOutcome is the read-only record of a prior decision.
type HistoricalOutcome struct {
	OpportunityID string
	CompanyName   string
	OneLiner      string
	Description   string
	Sector        string
	Outcome       Outcome
	Rationale     string
	DecidedAt     time.Time
}

// Fingerprint is the compact text embedded for structured comparison.
func (o *HistoricalOutcome) Fingerprint() string {
	return joinNonEmpty(o.CompanyName, o.OneLiner, o.Description, o.Sector)
}

// Fingerprint is the compact text embedded for structured comparison.
func (o *Opportunity) Fingerprint() string {
	return joinNonEmpty(o.CompanyName, o.OneLiner, o.Description, o.Sector)
}

// Candidate is a ranked piece of historical pass evidence. Derived, never
// persisted.
type Candidate struct {
	// Source discriminates which fields are meaningful.
	Source Source

	// OpportunityRef is the historical opportunity (structured source) or
	// source document (narrative source) identifier.
	OpportunityRef string

	// CompanyName is the historical company, empty when unresolvable.
	CompanyName string

	// Sector is the historical sector, when known.
	Sector string

	// Rationale is the documented or heuristically extracted pass reason.
	Rationale string

	// Excerpt is leading source content for narrative candidates.
	Excerpt string

	// Similarity is normalized cosine similarity in [0,1].
	Similarity float64

	// DecidedAt is the historical decision time, zero when unknown.
	DecidedAt time.Time
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}
