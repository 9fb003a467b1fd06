// ABOUTME: Call-to-action variant attached to assistant replies
// ABOUTME: Closed set of actions dispatched through an exhaustive handler interface

package assistant

import (
	"bytes"
	"encoding/json"
	"strings"
)

// CTA tags as sent by the assistant
const (
	TagProfessionalHelp = "professional_help"
	TagHumanHandoff     = "human_handoff"
)

// DefaultHandoffReason is used when the assistant asks for a human without saying why
const DefaultHandoffReason = "User requested human handoff."

// Action is the follow-up the assistant requested. The set is closed:
// NoAction, ProfessionalHelp and HumanHandoff are the only implementations.
type Action interface {
	// Kind returns a stable label for logs and metrics
	Kind() string
	// Accept dispatches to the matching ActionHandler method
	Accept(h ActionHandler) error
	isAction()
}

// ActionHandler handles every action kind. Adding an action adds a method
// here, so every handler fails to compile until it covers the new case.
type ActionHandler interface {
	HandleNone(NoAction) error
	HandleProfessionalHelp(ProfessionalHelp) error
	HandleHumanHandoff(HumanHandoff) error
}

// NoAction means the reply passes through unchanged
type NoAction struct{}

// ProfessionalHelp asks for escalation to a paid service.
// Payload is the text handed to the escalation summarizer and may be empty.
type ProfessionalHelp struct {
	Payload string
}

// HumanHandoff asks for routing to a human agent
type HumanHandoff struct {
	Reason string
}

func (NoAction) Kind() string         { return "none" }
func (ProfessionalHelp) Kind() string { return TagProfessionalHelp }
func (HumanHandoff) Kind() string     { return TagHumanHandoff }

func (a NoAction) Accept(h ActionHandler) error         { return h.HandleNone(a) }
func (a ProfessionalHelp) Accept(h ActionHandler) error { return h.HandleProfessionalHelp(a) }
func (a HumanHandoff) Accept(h ActionHandler) error     { return h.HandleHumanHandoff(a) }

func (NoAction) isAction()         {}
func (ProfessionalHelp) isAction() {}
func (HumanHandoff) isAction()     {}

// ParseAction maps the assistant's cta tag and ctaData onto an Action.
// Unknown or empty tags become NoAction.
func ParseAction(tag string, data json.RawMessage) Action {
	payload := payloadText(data)
	switch strings.TrimSpace(tag) {
	case TagProfessionalHelp:
		return ProfessionalHelp{Payload: payload}
	case TagHumanHandoff:
		if payload == "" {
			payload = DefaultHandoffReason
		}
		return HumanHandoff{Reason: payload}
	default:
		return NoAction{}
	}
}

// payloadText returns ctaData as text: JSON strings are unquoted,
// other JSON values are kept in their compact encoded form.
func payloadText(data json.RawMessage) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return string(data)
	}
	return buf.String()
}
