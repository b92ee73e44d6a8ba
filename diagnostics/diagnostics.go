// Package diagnostics implements structural validation and best-effort
// repair of a topology.Layout. There is no direct teacher equivalent;
// this is grounded loosely in the invariant-checking shape of
// sakayukari/runtime/main.go's Instance.Check (validate a graph's
// wiring before running it), generalized from actor wiring to layout
// wiring.
package diagnostics

import (
	"fmt"

	"github.com/google/uuid"

	"go.shisen.dev/unten/topology"
)

// Severity distinguishes findings that block safe operation from ones
// that are merely unusual.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Finding is one structural problem in a layout.
type Finding struct {
	Severity Severity
	Kind     string
	Message  string
}

// Run checks y (and, if non-nil, the trains riding it) for structural
// problems: duplicate ids/names/addresses, orphan sockets, transitions
// that don't resolve, blocks missing length/feedback-distance data,
// and trains missing a formation length.
func Run(y *topology.Layout, trains map[uuid.UUID]*topology.Train, formations map[uuid.UUID]*topology.Formation) []Finding {
	var findings []Finding
	if y != nil {
		findings = append(findings, duplicateFindings(y)...)
		findings = append(findings, orphanSocketFindings(y)...)
		findings = append(findings, invalidTransitionFindings(y)...)
		findings = append(findings, lengthFindings(y)...)
	}
	findings = append(findings, trainLengthFindings(trains, formations)...)
	return findings
}

func duplicateFindings(y *topology.Layout) []Finding {
	var findings []Finding

	seenID := make(map[uuid.UUID]string)
	seenName := make(map[string]bool)
	check := func(id uuid.UUID, kind, name string) {
		if prior, ok := seenID[id]; ok {
			findings = append(findings, Finding{SeverityError, "duplicate-id",
				fmt.Sprintf("%s %q reuses id %s already used by %s", kind, name, id, prior)})
		} else {
			seenID[id] = fmt.Sprintf("%s %q", kind, name)
		}
		key := kind + ":" + name
		if seenName[key] {
			findings = append(findings, Finding{SeverityWarning, "duplicate-name",
				fmt.Sprintf("%s name %q is used more than once", kind, name)})
		}
		seenName[key] = true
	}
	for _, b := range y.Blocks {
		check(b.ID, "block", b.Name)
	}
	for _, t := range y.Turnouts {
		check(t.ID, "turnout", t.Name)
	}

	seenAddr := make(map[int]string)
	for _, t := range y.Turnouts {
		for _, addr := range t.Addresses {
			if prior, ok := seenAddr[addr]; ok {
				findings = append(findings, Finding{SeverityError, "duplicate-address",
					fmt.Sprintf("turnout %q reuses decoder address %d already used by %s", t.Name, addr, prior)})
			} else {
				seenAddr[addr] = fmt.Sprintf("turnout %q", t.Name)
			}
		}
	}

	seenDC := make(map[string]string)
	for _, f := range y.Feedbacks {
		key := f.DeviceID + ":" + f.ContactID
		if prior, ok := seenDC[key]; ok {
			findings = append(findings, Finding{SeverityError, "duplicate-feedback-contact",
				fmt.Sprintf("feedback %s reuses device/contact %s already used by %s", f.ID, key, prior)})
		} else {
			seenDC[key] = f.ID.String()
		}
	}
	return findings
}

func orphanSocketFindings(y *topology.Layout) []Finding {
	var findings []Finding
	for _, e := range y.OrphanSockets() {
		kind, ok := y.ElementKind(e.ElementID)
		if !ok {
			continue
		}
		name := elementName(y, e.ElementID, kind)
		findings = append(findings, Finding{SeverityWarning, "orphan-socket",
			fmt.Sprintf("%s %q socket %d has no transition attached", kindName(kind), name, e.Socket)})
	}
	return findings
}

func invalidTransitionFindings(y *topology.Layout) []Finding {
	var findings []Finding
	for _, tr := range y.Transitions {
		for _, e := range []topology.Endpoint{tr.A, tr.B} {
			kind, ok := y.ElementKind(e.ElementID)
			if !ok {
				findings = append(findings, Finding{SeverityError, "invalid-transition",
					fmt.Sprintf("transition %s references unknown element %s", tr.ID, e.ElementID)})
				continue
			}
			if kind == topology.ElementTurnout {
				turnout, _ := y.Turnout(e.ElementID)
				valid := false
				for _, s := range turnout.Category.AllSockets() {
					if s == e.Socket {
						valid = true
						break
					}
				}
				if !valid {
					findings = append(findings, Finding{SeverityError, "invalid-transition",
						fmt.Sprintf("transition %s names socket %d on turnout %q, which has no such socket", tr.ID, e.Socket, turnout.Name)})
				}
			}
		}
	}
	return findings
}

func lengthFindings(y *topology.Layout) []Finding {
	var findings []Finding
	for _, b := range y.Blocks {
		if b.Length == nil {
			findings = append(findings, Finding{SeverityWarning, "missing-length",
				fmt.Sprintf("block %q has no length set", b.Name)})
			continue
		}
		if len(b.Feedbacks) > 0 && len(b.FeedbackDistances) != len(b.Feedbacks) {
			findings = append(findings, Finding{SeverityWarning, "missing-feedback-distance",
				fmt.Sprintf("block %q has %d feedbacks but %d feedback distances", b.Name, len(b.Feedbacks), len(b.FeedbackDistances))})
		}
	}
	return findings
}

func trainLengthFindings(trains map[uuid.UUID]*topology.Train, formations map[uuid.UUID]*topology.Formation) []Finding {
	var findings []Finding
	for _, t := range trains {
		f, ok := formations[t.FormationID]
		if !ok || f.Length <= 0 {
			findings = append(findings, Finding{SeverityWarning, "missing-train-length",
				fmt.Sprintf("train %q has no usable formation length, trailing reservation sizing will be approximate", t.Name)})
		}
	}
	return findings
}

func kindName(k topology.ElementKind) string {
	if k == topology.ElementTurnout {
		return "turnout"
	}
	return "block"
}

func elementName(y *topology.Layout, id uuid.UUID, kind topology.ElementKind) string {
	if kind == topology.ElementTurnout {
		if t, ok := y.Turnout(id); ok {
			return t.Name
		}
	}
	if b, ok := y.Block(id); ok {
		return b.Name
	}
	return id.String()
}

// Repair applies the fixes that are safe to make automatically: it
// drops transitions that are self-loops (both endpoints the same
// socket), clears block occupants and block/turnout reservations that
// name a train not in trains, and clears train BlockIDs that name a
// block no longer present in y. It returns what it changed, as
// findings with SeverityWarning (nothing it does is an error once
// applied).
func Repair(y *topology.Layout, trains map[uuid.UUID]*topology.Train) []Finding {
	var findings []Finding

	kept := make([]*topology.Transition, 0, len(y.Transitions))
	for _, tr := range y.Transitions {
		if tr.A == tr.B {
			findings = append(findings, Finding{SeverityWarning, "repaired-self-loop",
				fmt.Sprintf("dropped self-loop transition %s", tr.ID)})
			continue
		}
		kept = append(kept, tr)
	}
	y.Transitions = kept

	for _, b := range y.Blocks {
		if b.Occupant != nil {
			if _, ok := trains[b.Occupant.TrainID]; !ok {
				findings = append(findings, Finding{SeverityWarning, "repaired-dangling-occupant",
					fmt.Sprintf("cleared block %q occupant referencing unknown train %s", b.Name, b.Occupant.TrainID)})
				b.Occupant = nil
			}
		}
		if b.Reservation != nil {
			if _, ok := trains[b.Reservation.TrainID]; !ok {
				findings = append(findings, Finding{SeverityWarning, "repaired-dangling-reservation",
					fmt.Sprintf("cleared block %q reservation referencing unknown train %s", b.Name, b.Reservation.TrainID)})
				b.Reservation = nil
			}
		}
	}
	for _, to := range y.Turnouts {
		if to.Reservation != nil {
			if _, ok := trains[*to.Reservation]; !ok {
				findings = append(findings, Finding{SeverityWarning, "repaired-dangling-reservation",
					fmt.Sprintf("cleared turnout %q reservation referencing unknown train %s", to.Name, *to.Reservation)})
				to.Reservation = nil
			}
		}
	}
	for _, t := range trains {
		if t.BlockID != nil {
			if _, ok := y.Block(*t.BlockID); !ok {
				findings = append(findings, Finding{SeverityWarning, "repaired-dangling-train-block",
					fmt.Sprintf("cleared train %q's block reference to missing block %s", t.Name, *t.BlockID)})
				t.BlockID = nil
			}
		}
	}
	return findings
}
