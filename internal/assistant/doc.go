// Package assistant talks to the external conversational assistant and its
// two follow-up services.
//
// Client.Send forwards a user turn. Requests without files go out as JSON;
// requests with files go out as multipart/form-data with history encoded in
// the previousMessages field. When the caller supplies no history and a chat
// id is known, the most recent turns are read from the store, excluding
// internal interactions.
//
// The reply's cta tag becomes an Action: NoAction, ProfessionalHelp or
// HumanHandoff. Callers implement ActionHandler to process all three.
//
// EscalationClient and HandoffClient are the follow-up services. Their error
// policies differ on purpose at the call site: escalation failures degrade to
// EmptyEscalation, handoff failures surface as *HandoffError.
package assistant
