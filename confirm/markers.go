package confirm

import (
	"slices"

	"github.com/effective-security/gohitl/chatmodel"
	"github.com/effective-security/gohitl/tools"
)

// Markers a chat client writes as the result of a pending invocation
// to report the user decision.
const (
	ApprovalYes = "Yes, confirmed."
	ApprovalNo  = "No, denied."
)

// ParseDecision maps a client marker to a decision
func ParseDecision(result any) (Decision, bool) {
	s, ok := result.(string)
	if !ok {
		return "", false
	}
	switch s {
	case ApprovalYes:
		return Approved, true
	case ApprovalNo:
		return Denied, true
	}
	return "", false
}

// ExtractDecisions converts decision markers of tools in confirmSet found
// in the last message back to call state and returns the decisions by tool call ID.
// Results of other tools are kept even when they read as a marker.
// The input is never mutated, when no marker is found it is returned as is.
func ExtractDecisions(messages []*chatmodel.Message, confirmSet tools.NameSet) ([]*chatmodel.Message, Decisions) {
	last := chatmodel.LastMessage(messages)
	if last == nil {
		return messages, nil
	}

	var decisions Decisions
	var copied *chatmodel.Message
	for i, p := range last.Parts {
		inv := p.ToolInvocation
		if p.Type != chatmodel.PartToolInvocation || inv == nil || inv.State != chatmodel.StateResult {
			continue
		}
		if !confirmSet.Has(inv.ToolName) {
			continue
		}
		d, ok := ParseDecision(inv.Result)
		if !ok {
			continue
		}
		if decisions == nil {
			decisions = make(Decisions)
			copied = last.Clone()
		}
		decisions[inv.ToolCallID] = d
		copied.Parts[i].ToolInvocation = inv.AsCall()
	}

	if copied == nil {
		return messages, nil
	}
	out := slices.Clone(messages)
	out[len(out)-1] = copied
	return out, decisions
}
