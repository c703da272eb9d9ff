package flow

import (
	"time"

	"github.com/inmobot/leadflow/pkg/kernel"
)

// ============================================================================
// Flow Instance Entity
// ============================================================================

// InstanceStatus estado de una instancia de flow
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "RUNNING"
	InstanceStatusSuspended InstanceStatus = "SUSPENDED"
	InstanceStatusCompleted InstanceStatus = "COMPLETED"
	InstanceStatusFailed    InstanceStatus = "FAILED"
	InstanceStatusAbandoned InstanceStatus = "ABANDONED"
)

// SuspendReason motivo por el que una instancia está suspendida
type SuspendReason string

const (
	SuspendAwaitingReply SuspendReason = "AWAITING_REPLY"
	SuspendAwaitingTimer SuspendReason = "AWAITING_TIMER"
)

// FailReason motivo de fallo preservado para inspección del operador
type FailReason string

const (
	FailGenerationUnavailable FailReason = "GENERATION_UNAVAILABLE"
	FailMissingFalsePort      FailReason = "MISSING_FALSE_PORT"
	FailFlowLoopDetected      FailReason = "FLOW_LOOP_DETECTED"
	FailNodeNotFound          FailReason = "NODE_NOT_FOUND"
	FailInvalidNodePayload    FailReason = "INVALID_NODE_PAYLOAD"
	FailCrmUnavailable        FailReason = "CRM_UNAVAILABLE"
)

// FlowInstance estado de ejecución resumible de un lead dentro de un flow.
// Una instancia por par (lead, flow) en progreso.
type FlowInstance struct {
	ID            kernel.InstanceID `db:"id" json:"id"`
	LeadID        kernel.LeadID     `db:"lead_id" json:"lead_id"`
	FlowID        kernel.FlowID     `db:"flow_id" json:"flow_id"`
	FlowVersion   int               `db:"flow_version" json:"flow_version"`
	Epoch         int               `db:"epoch" json:"epoch"`
	CursorNodeID  kernel.NodeID     `db:"cursor_node_id" json:"cursor_node_id"`
	Status        InstanceStatus    `db:"status" json:"status"`
	SuspendReason SuspendReason     `db:"suspend_reason" json:"suspend_reason,omitempty"`
	FailReason    FailReason        `db:"fail_reason" json:"fail_reason,omitempty"`
	FailDetail    string            `db:"fail_detail" json:"fail_detail,omitempty"`
	Variables     map[string]string `db:"variables" json:"variables"`
	WakeAt        *time.Time        `db:"wake_at" json:"wake_at,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// ============================================================================
// Domain Methods - FlowInstance
// ============================================================================

// IsValid verifica si la instancia es válida
func (i *FlowInstance) IsValid() bool {
	return !i.ID.IsEmpty() && !i.LeadID.IsEmpty() && !i.FlowID.IsEmpty()
}

// IsInProgress indica si la instancia sigue viva (Running o Suspended)
func (i *FlowInstance) IsInProgress() bool {
	return i.Status == InstanceStatusRunning || i.Status == InstanceStatusSuspended
}

// IsAwaitingReply indica si la instancia espera un mensaje del lead
func (i *FlowInstance) IsAwaitingReply() bool {
	return i.Status == InstanceStatusSuspended && i.SuspendReason == SuspendAwaitingReply
}

// Suspend marca la instancia como suspendida en el nodo actual
func (i *FlowInstance) Suspend(reason SuspendReason, wakeAt *time.Time) {
	i.Status = InstanceStatusSuspended
	i.SuspendReason = reason
	i.WakeAt = wakeAt
	i.UpdatedAt = time.Now()
}

// Resume vuelve a Running al recibir el evento esperado
func (i *FlowInstance) Resume() {
	i.Status = InstanceStatusRunning
	i.SuspendReason = ""
	i.WakeAt = nil
	i.UpdatedAt = time.Now()
}

// Complete marca la instancia como completada (nodo terminal alcanzado)
func (i *FlowInstance) Complete() {
	i.Status = InstanceStatusCompleted
	i.SuspendReason = ""
	i.WakeAt = nil
	i.UpdatedAt = time.Now()
}

// Fail marca la instancia como fallida preservando el motivo.
// El lead deja de recibir mensajes automáticos; un humano interviene.
func (i *FlowInstance) Fail(reason FailReason, detail string) {
	i.Status = InstanceStatusFailed
	i.FailReason = reason
	i.FailDetail = detail
	i.SuspendReason = ""
	i.WakeAt = nil
	i.UpdatedAt = time.Now()
}

// Abandon archiva la instancia porque un nuevo trigger la reemplazó
func (i *FlowInstance) Abandon() {
	i.Status = InstanceStatusAbandoned
	i.Epoch++
	i.SuspendReason = ""
	i.WakeAt = nil
	i.UpdatedAt = time.Now()
}

// SetVariable escribe una variable capturada en la instancia
func (i *FlowInstance) SetVariable(key, value string) {
	if i.Variables == nil {
		i.Variables = make(map[string]string)
	}
	i.Variables[key] = value
	i.UpdatedAt = time.Now()
}

// GetVariable lee una variable capturada
func (i *FlowInstance) GetVariable(key string) (string, bool) {
	if i.Variables == nil {
		return "", false
	}
	val, ok := i.Variables[key]
	return val, ok
}

// MoveCursor avanza el cursor al siguiente nodo
func (i *FlowInstance) MoveCursor(nodeID kernel.NodeID) {
	i.CursorNodeID = nodeID
	i.UpdatedAt = time.Now()
}

// Clone copia profunda de la instancia (el motor retorna estado nuevo,
// nunca muta el estado de entrada)
func (i *FlowInstance) Clone() *FlowInstance {
	clone := *i
	if i.Variables != nil {
		clone.Variables = make(map[string]string, len(i.Variables))
		for k, v := range i.Variables {
			clone.Variables[k] = v
		}
	}
	if i.WakeAt != nil {
		wakeAt := *i.WakeAt
		clone.WakeAt = &wakeAt
	}
	return &clone
}
