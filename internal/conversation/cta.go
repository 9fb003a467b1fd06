// ABOUTME: Call-to-action handling for assistant replies
// ABOUTME: Escalation degrades to an empty summary, handoff failures propagate

package conversation

import (
	"context"
	"log/slog"

	"github.com/dingdoor/chat-gateway/internal/assistant"
)

// ctaOutcome applies one Action and collects what it contributes to the reply
type ctaOutcome struct {
	svc            *Service
	ctx            context.Context
	conversationID string
	locale         string
	logger         *slog.Logger

	event         string
	eventData     map[string]any
	offlineNotice string
}

var _ assistant.ActionHandler = (*ctaOutcome)(nil)

func (o *ctaOutcome) HandleNone(assistant.NoAction) error {
	return nil
}

// HandleProfessionalHelp never fails: an unavailable summarizer yields the empty placeholder.
func (o *ctaOutcome) HandleProfessionalHelp(a assistant.ProfessionalHelp) error {
	o.event = EventRequestService

	esc := assistant.EmptyEscalation()
	if a.Payload != "" && o.svc.escalator != nil {
		resolved, err := o.svc.escalator.Resolve(o.ctx, a.Payload, o.locale)
		o.svc.metrics.OutboundCall("escalation", err)
		if err != nil {
			o.logger.Error("escalation summary unavailable, continuing without it", "error", err)
		} else {
			esc = resolved
		}
	}

	category := esc.InferredCategory
	if category == nil {
		category = map[string]any{}
	}
	o.eventData = map[string]any{
		"summary":          esc.Summary,
		"inferredCategory": category,
	}
	return nil
}

// HandleHumanHandoff returns the notifier's error unchanged.
func (o *ctaOutcome) HandleHumanHandoff(a assistant.HumanHandoff) error {
	if o.svc.handoff == nil {
		return &assistant.HandoffError{ChatID: o.conversationID, Err: errNoHandoffNotifier}
	}

	err := o.svc.handoff.Notify(o.ctx, o.conversationID, a.Reason)
	o.svc.metrics.OutboundCall("handoff", err)
	if err != nil {
		return err
	}

	now := o.svc.now()
	o.logger.Info("human handoff requested", "reason", a.Reason, "at", now.UTC())
	if o.svc.hours.Contains(now) {
		return nil
	}

	notice, err := o.svc.hours.OfflineNotice(o.locale)
	if err != nil {
		return err
	}
	o.logger.Info("outside business hours, sending offline notice", "locale", o.locale)
	o.offlineNotice = notice
	return nil
}
