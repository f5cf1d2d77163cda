package domain

// Outcome reports what applying an event did to the order history.
// Only OutcomeApplied changes state. The others are routine results of
// at-least-once, unordered delivery and are not errors.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeUnknownAggregate Outcome = "unknown_aggregate"
	OutcomeNoChange         Outcome = "no_change"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeMalformed        Outcome = "malformed"
)

func (o Outcome) String() string { return string(o) }
func (o Outcome) Applied() bool  { return o == OutcomeApplied }
