package flow

import (
	"github.com/inmobot/leadflow/pkg/kernel"
)

// ============================================================================
// Effects
// ============================================================================

// EffectKind tipo de efecto declarativo
type EffectKind string

const (
	EffectKindSendMessage      EffectKind = "SEND_MESSAGE"
	EffectKindNotifyAdvisor    EffectKind = "NOTIFY_ADVISOR"
	EffectKindUpdateCRM        EffectKind = "UPDATE_CRM"
	EffectKindAssignmentFailed EffectKind = "ASSIGNMENT_FAILED"
)

// Effect descripción declarativa del trabajo lateral que el motor quiere
// ejecutado. El motor no hace I/O: retorna efectos y el dispatcher los aplica.
type Effect interface {
	Kind() EffectKind
}

// SendMessageEffect mensaje saliente de WhatsApp para un lead
type SendMessageEffect struct {
	LeadID  kernel.LeadID `json:"lead_id"`
	Text    string        `json:"text"`
	Buttons []Button      `json:"buttons,omitempty"`
}

func (e SendMessageEffect) Kind() EffectKind { return EffectKindSendMessage }

// NotifyAdvisorEffect notificación al asesor asignado
type NotifyAdvisorEffect struct {
	AdvisorID kernel.AdvisorID `json:"advisor_id"`
	LeadID    kernel.LeadID    `json:"lead_id"`
	Template  string           `json:"template,omitempty"`
}

func (e NotifyAdvisorEffect) Kind() EffectKind { return EffectKindNotifyAdvisor }

// CRMField campos del lead que el CRM sincroniza
type CRMField string

const (
	CRMFieldTag      CRMField = "tag"
	CRMFieldStage    CRMField = "stage"
	CRMFieldAdvisor  CRMField = "advisor"
	CRMFieldVariable CRMField = "variable"
)

// UpdateCRMEffect actualización idempotente sobre el registro del lead
type UpdateCRMEffect struct {
	LeadID kernel.LeadID `json:"lead_id"`
	Field  CRMField      `json:"field"`
	Key    string        `json:"key,omitempty"`
	Value  string        `json:"value"`
}

func (e UpdateCRMEffect) Kind() EffectKind { return EffectKindUpdateCRM }

// AssignmentFailedEffect bandera para operaciones: ningún asesor disponible.
// El flow continúa; esto es un resultado degradado, no fatal.
type AssignmentFailedEffect struct {
	LeadID   kernel.LeadID  `json:"lead_id"`
	FlowID   kernel.FlowID  `json:"flow_id"`
	NodeID   kernel.NodeID  `json:"node_id"`
	Strategy AssignStrategy `json:"strategy"`
}

func (e AssignmentFailedEffect) Kind() EffectKind { return EffectKindAssignmentFailed }
