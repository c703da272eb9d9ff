package dispatch

import (
	"context"
	"fmt"
	"log"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/lead"
	"github.com/inmobot/leadflow/pkg/kernel"
)

// MessageSender transporte de salida hacia el lead (WhatsApp)
type MessageSender interface {
	SendText(ctx context.Context, leadID kernel.LeadID, text string, buttons []flow.Button) error
}

// OpsAlerter recibe las banderas de asignación degradada
type OpsAlerter interface {
	AssignmentFailed(ctx context.Context, leadID kernel.LeadID, flowID kernel.FlowID, strategy flow.AssignStrategy)
}

// Dispatcher aplica los efectos declarativos del motor en el orden en que
// fueron emitidos. El motor ya persistió su estado cuando esto corre: un
// efecto fallido se reporta pero no revierte el avance del flow.
type Dispatcher struct {
	sender   MessageSender
	notifier lead.AdvisorNotifier
	crm      *CRMApplier
	alerter  OpsAlerter
	history  ConversationLog
}

var _ flow.EffectDispatcher = (*Dispatcher)(nil)

func NewDispatcher(sender MessageSender, notifier lead.AdvisorNotifier, crm *CRMApplier, alerter OpsAlerter, history ConversationLog) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		notifier: notifier,
		crm:      crm,
		alerter:  alerter,
		history:  history,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, effects []flow.Effect) error {
	for _, effect := range effects {
		if err := d.dispatchOne(ctx, effect); err != nil {
			return errx.Wrap(err, "failed to dispatch effect", errx.TypeExternal).
				WithDetail("effect_kind", string(effect.Kind()))
		}
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, effect flow.Effect) error {
	switch e := effect.(type) {
	case flow.SendMessageEffect:
		log.Printf("📤 Sending message to lead %s", e.LeadID)
		if err := d.sender.SendText(ctx, e.LeadID, e.Text, e.Buttons); err != nil {
			return err
		}
		if d.history != nil {
			if err := d.history.Record(ctx, e.LeadID, RoleAssistant, e.Text); err != nil {
				log.Printf("⚠️  Failed to record outbound turn for lead %s: %v", e.LeadID, err)
			}
		}
		return nil

	case flow.NotifyAdvisorEffect:
		log.Printf("🔔 Notifying advisor %s about lead %s", e.AdvisorID, e.LeadID)
		return d.notifier.Notify(ctx, e.AdvisorID, e.LeadID, e.Template)

	case flow.UpdateCRMEffect:
		return d.crm.Apply(ctx, e)

	case flow.AssignmentFailedEffect:
		log.Printf("🚩 Assignment failed for lead %s (flow %s, strategy %s)", e.LeadID, e.FlowID, e.Strategy)
		if d.alerter != nil {
			d.alerter.AssignmentFailed(ctx, e.LeadID, e.FlowID, e.Strategy)
		}
		return nil

	default:
		return fmt.Errorf("unknown effect kind: %s", effect.Kind())
	}
}

// ============================================================================
// CRM application
// ============================================================================

// CRMApplier traduce UpdateCRMEffect al espejo local y al CRM externo
type CRMApplier struct {
	leads lead.LeadRepository
	vars  *lead.VariableStore
	crm   lead.CrmUpdater
}

func NewCRMApplier(leads lead.LeadRepository, vars *lead.VariableStore, crm lead.CrmUpdater) *CRMApplier {
	return &CRMApplier{leads: leads, vars: vars, crm: crm}
}

func (a *CRMApplier) Apply(ctx context.Context, effect flow.UpdateCRMEffect) error {
	switch effect.Field {
	case flow.CRMFieldVariable:
		// El variable store decide si la clave propaga al CRM
		return a.vars.Set(ctx, effect.LeadID, effect.Key, effect.Value)

	case flow.CRMFieldTag:
		l, err := a.leads.FindByID(ctx, effect.LeadID)
		if err != nil {
			return err
		}
		l.AddTag(effect.Value)
		if err := a.leads.Save(ctx, *l); err != nil {
			return err
		}
		log.Printf("🏷️  Tagged lead %s with %q", effect.LeadID, effect.Value)
		return a.crm.AddTag(ctx, effect.LeadID, effect.Value)

	case flow.CRMFieldStage:
		l, err := a.leads.FindByID(ctx, effect.LeadID)
		if err != nil {
			return err
		}
		l.MoveToStage(effect.Value)
		if err := a.leads.Save(ctx, *l); err != nil {
			return err
		}
		log.Printf("📊 Moved lead %s to stage %q", effect.LeadID, effect.Value)
		return a.crm.MoveStage(ctx, effect.LeadID, effect.Value)

	case flow.CRMFieldAdvisor:
		l, err := a.leads.FindByID(ctx, effect.LeadID)
		if err != nil {
			return err
		}
		l.AssignAdvisor(kernel.AdvisorID(effect.Value))
		if err := a.leads.Save(ctx, *l); err != nil {
			return err
		}
		return a.crm.AssignAdvisor(ctx, effect.LeadID, kernel.AdvisorID(effect.Value))

	default:
		return fmt.Errorf("unknown CRM field: %s", effect.Field)
	}
}
