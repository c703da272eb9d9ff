package flow

import (
	"fmt"
	"time"

	"github.com/inmobot/leadflow/pkg/kernel"
)

// ============================================================================
// Triggers
// ============================================================================

// TriggerKind tipo de evento que despierta al motor
type TriggerKind string

const (
	TriggerKindMessage TriggerKind = "MESSAGE"
	TriggerKindTimer   TriggerKind = "TIMER"
)

// InboundMessage mensaje entrante normalizado del transporte de WhatsApp
type InboundMessage struct {
	MessageID  kernel.MessageID `json:"message_id"`
	LeadID     kernel.LeadID    `json:"lead_id"`
	Text       string           `json:"text"`
	ButtonID   string           `json:"button_id,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
}

// TimerFired evento del scheduler para una instancia suspendida
type TimerFired struct {
	InstanceID kernel.InstanceID `json:"instance_id"`
	Epoch      int               `json:"epoch"`
	WakeAt     time.Time         `json:"wake_at"`
	FiredAt    time.Time         `json:"fired_at"`
}

// Trigger evento que el motor procesa en una llamada a Advance.
// Exactamente uno de Message o Timer está presente según Kind.
type Trigger struct {
	ID      kernel.TriggerID `json:"id"`
	Kind    TriggerKind      `json:"kind"`
	Message *InboundMessage  `json:"message,omitempty"`
	Timer   *TimerFired      `json:"timer,omitempty"`
}

// NewMessageTrigger crea un trigger a partir de un mensaje entrante.
// El trigger ID deriva del message ID para que los reintentos del
// transporte dedupliquen contra el mismo registro.
func NewMessageTrigger(msg InboundMessage) Trigger {
	return Trigger{
		ID:      kernel.TriggerID("msg:" + msg.MessageID.String()),
		Kind:    TriggerKindMessage,
		Message: &msg,
	}
}

// NewTimerTrigger crea un trigger a partir de un timer disparado. El ID
// deriva de la instancia, la época y la hora programada, de modo que una
// entrega repetida del mismo despertar deduplique contra el mismo registro.
func NewTimerTrigger(fired TimerFired) Trigger {
	return Trigger{
		ID: kernel.TriggerID(fmt.Sprintf("timer:%s:%d:%d",
			fired.InstanceID, fired.Epoch, fired.WakeAt.Unix())),
		Kind:  TriggerKindTimer,
		Timer: &fired,
	}
}

// IsValid verifica la consistencia interna del trigger
func (t Trigger) IsValid() bool {
	switch t.Kind {
	case TriggerKindMessage:
		return t.Message != nil && !t.Message.LeadID.IsEmpty()
	case TriggerKindTimer:
		return t.Timer != nil && !t.Timer.InstanceID.IsEmpty()
	default:
		return false
	}
}

// MessageText retorna el texto del mensaje entrante o cadena vacía
func (t Trigger) MessageText() string {
	if t.Message != nil {
		return t.Message.Text
	}
	return ""
}
