package groupsync

import "fmt"

// OutcomeKind classifies what happened to one raw event.
type OutcomeKind int

const (
	OK OutcomeKind = iota
	Skip
	Error
)

func (k OutcomeKind) String() string {
	switch k {
	case OK:
		return "ok"
	case Skip:
		return "skip"
	case Error:
		return "error"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Reason explains an Outcome.
type Reason string

const (
	ReasonMessage      Reason = "application message"
	ReasonTransition   Reason = "protocol transition"
	ReasonDuplicate    Reason = "already seen"
	ReasonInactive     Reason = "manager inactive"
	ReasonUnknownGroup Reason = "no subscription for group"
	ReasonIngest       Reason = "ingest failed"
	ReasonDecode       Reason = "malformed application message"
)

// Outcome is the per-item result of Process.
type Outcome struct {
	EventID string
	Kind    OutcomeKind
	Reason  Reason
	Err     error
}

func applied(id string, r Reason) Outcome           { return Outcome{EventID: id, Kind: OK, Reason: r} }
func skipped(id string, r Reason) Outcome           { return Outcome{EventID: id, Kind: Skip, Reason: r} }
func failed(id string, r Reason, err error) Outcome { return Outcome{EventID: id, Kind: Error, Reason: r, Err: err} }
