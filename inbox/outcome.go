package inbox

import "fmt"

// OutcomeKind classifies what happened to one envelope.
type OutcomeKind int

const (
	Added OutcomeKind = iota
	Skipped
)

func (k OutcomeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

type Reason string

const (
	ReasonInvite     Reason = "new invite"
	ReasonDuplicate  Reason = "already seen"
	ReasonNotForUs   Reason = "cannot unwrap"
	ReasonNotWelcome Reason = "not a welcome"
	ReasonInactive   Reason = "manager inactive"
)

// Outcome is the per-envelope result of Process and Refresh.
type Outcome struct {
	EnvelopeID string
	Kind       OutcomeKind
	Reason     Reason
}

func applied(id string) Outcome           { return Outcome{EnvelopeID: id, Kind: Added, Reason: ReasonInvite} }
func skipped(id string, r Reason) Outcome { return Outcome{EnvelopeID: id, Kind: Skipped, Reason: r} }
