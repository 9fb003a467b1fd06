// Package conversation records chat exchanges between users and the assistant.
//
// # Send
//
// Service.Send handles one user turn:
//
//  1. Validate userId and message before any network or storage call
//  2. Forward the turn to the assistant (history is backfilled there)
//  3. Resolve the conversation id: assistant id, then request id, then a new UUID
//  4. Apply the reply's call-to-action
//  5. Upload attachments under a reserved user message id and reconcile them
//     with the assistant's file map
//  6. Write the user and assistant messages in one batch
//  7. Add 2 to the conversation aggregate
//
// # Calls to Action
//
// ProfessionalHelp asks the escalation service for a summary and tags the
// reply with the requestService event. If the service is down the summary is
// empty and the request still succeeds.
//
// HumanHandoff notifies the routing service. A failed notification fails the
// request. Outside business hours the visible reply becomes a localized
// offline notice, and that notice is what gets stored.
//
// # Insert
//
// Service.Insert writes a single internal message (human agent replies,
// system notices) and adds 1 to the aggregate. Inserted messages are flagged
// IsCxInteraction and never reach the assistant as context.
package conversation
