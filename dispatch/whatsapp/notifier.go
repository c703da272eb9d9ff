package whatsapp

import (
	"context"
	"fmt"
	"log"

	"github.com/inmobot/leadflow/lead"
	"github.com/inmobot/leadflow/pkg/kernel"
)

// Notifier avisa a los asesores por WhatsApp cuando se les asigna un lead
type Notifier struct {
	adapter  *Adapter
	advisors lead.AdvisorRepository
	leads    lead.LeadRepository
}

var _ lead.AdvisorNotifier = (*Notifier)(nil)

func NewNotifier(adapter *Adapter, advisors lead.AdvisorRepository, leads lead.LeadRepository) *Notifier {
	return &Notifier{adapter: adapter, advisors: advisors, leads: leads}
}

func (n *Notifier) Notify(ctx context.Context, advisorID kernel.AdvisorID, leadID kernel.LeadID, template string) error {
	advisor, err := n.advisors.FindByID(ctx, advisorID)
	if err != nil {
		return fmt.Errorf("failed to resolve advisor: %w", err)
	}

	l, err := n.leads.FindByID(ctx, leadID)
	if err != nil {
		return fmt.Errorf("failed to resolve lead: %w", err)
	}

	text := template
	if text == "" {
		text = "Nuevo lead asignado"
	}
	text = fmt.Sprintf("%s\n\nLead: %s\nTeléfono: %s", text, l.Name, l.Phone)

	payload := n.adapter.buildMessagePayload(advisor.Phone, text, nil)
	if err := n.adapter.post(ctx, payload); err != nil {
		return fmt.Errorf("failed to notify advisor %s: %w", advisorID, err)
	}

	log.Printf("🔔 Advisor %s notified about lead %s", advisorID, leadID)
	return nil
}
