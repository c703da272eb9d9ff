package flow

import (
	"context"
	"time"

	"github.com/inmobot/leadflow/pkg/kernel"
)

// ============================================================================
// Repository Interfaces
// ============================================================================

// FlowRepository persistencia de definiciones de flows
type FlowRepository interface {
	// CRUD básico
	Save(ctx context.Context, f Flow) error
	FindByID(ctx context.Context, id kernel.FlowID) (*Flow, error)
	Delete(ctx context.Context, id kernel.FlowID) error

	// Versionado: las instancias quedan ancladas a la versión con la que
	// arrancaron, una edición publica una versión nueva
	FindByIDAndVersion(ctx context.Context, id kernel.FlowID, version int) (*Flow, error)

	// Búsquedas
	FindActive(ctx context.Context) ([]*Flow, error)
	FindByName(ctx context.Context, name string) (*Flow, error)

	// List con paginación
	List(ctx context.Context, req FlowListRequest) (FlowListResponse, error)
}

// InstanceRepository persistencia de instancias de ejecución
type InstanceRepository interface {
	// CRUD básico
	Save(ctx context.Context, instance FlowInstance) error
	FindByID(ctx context.Context, id kernel.InstanceID) (*FlowInstance, error)

	// Búsquedas
	FindInProgressByLead(ctx context.Context, leadID kernel.LeadID) (*FlowInstance, error)
	FindByLeadAndFlow(ctx context.Context, leadID kernel.LeadID, flowID kernel.FlowID) (*FlowInstance, error)
	FindFailed(ctx context.Context) ([]*FlowInstance, error)

	// List con paginación
	List(ctx context.Context, req InstanceListRequest) (InstanceListResponse, error)

	// Mantenimiento
	DeleteArchivedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// TriggerRecord resultado memorizado de un trigger ya procesado. El avance de
// cursor y la emisión de efectos son una unidad atómica: un reintento del
// transporte con el mismo trigger ID recibe el resultado grabado, sin
// re-ejecutar nodos ni duplicar mensajes.
type TriggerRecord struct {
	TriggerID   kernel.TriggerID  `db:"trigger_id" json:"trigger_id"`
	InstanceID  kernel.InstanceID `db:"instance_id" json:"instance_id"`
	Instance    []byte            `db:"instance" json:"instance"`
	Effects     []byte            `db:"effects" json:"effects"`
	ProcessedAt time.Time         `db:"processed_at" json:"processed_at"`
}

// TriggerDedupRepository registro de triggers procesados para idempotencia
type TriggerDedupRepository interface {
	Find(ctx context.Context, triggerID kernel.TriggerID) (*TriggerRecord, error)
	Save(ctx context.Context, record TriggerRecord) error

	// Mantenimiento
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ============================================================================
// Collaborator Interfaces
// ============================================================================

// AssignmentResolver colaborador externo que resuelve la asignación de un
// asesor según la estrategia. ok=false significa "sin asesor disponible":
// un resultado degradado, no un error.
type AssignmentResolver interface {
	Resolve(ctx context.Context, strategy AssignStrategy, manualAdvisorID string, leadID kernel.LeadID) (advisorID kernel.AdvisorID, ok bool, err error)
}

// HistoryEntry turno de conversación para el contexto del generador
type HistoryEntry struct {
	Role string `json:"role"` // user, assistant
	Text string `json:"text"`
}

// TextGenerator colaborador de generación de texto. Una llamada sincrónica
// con un resultado definitivo; la política de reintentos vive del otro lado.
type TextGenerator interface {
	Generate(ctx context.Context, systemPrompt, prompt string, history []HistoryEntry) (string, error)
}

// ConversationHistory acceso al historial reciente de un lead
type ConversationHistory interface {
	Recent(ctx context.Context, leadID kernel.LeadID, limit int) ([]HistoryEntry, error)
}

// TimerScheduler arma y desarma timers de instancias suspendidas
type TimerScheduler interface {
	// Arm programa (o reprograma, reemplazando) el despertar de una instancia
	Arm(ctx context.Context, instanceID kernel.InstanceID, epoch int, wakeAt time.Time) error
	// Disarm cancela el timer pendiente de una instancia
	Disarm(ctx context.Context, instanceID kernel.InstanceID) error
}

// EffectDispatcher aplica los efectos declarativos que retorna el motor
type EffectDispatcher interface {
	Dispatch(ctx context.Context, effects []Effect) error
}

// ============================================================================
// Engine Interface
// ============================================================================

// Engine motor de ejecución de flows. Sin estado propio por llamada: recibe
// la instancia, retorna la instancia resultante y los efectos a aplicar.
type Engine interface {
	// Advance ejecuta nodos desde el cursor hasta suspensión, terminal o fallo
	Advance(ctx context.Context, instance *FlowInstance, trigger Trigger) (*FlowInstance, []Effect, error)

	// Start crea y avanza una instancia nueva desde el nodo inicial del flow
	Start(ctx context.Context, f *Flow, leadID kernel.LeadID, trigger Trigger, seed map[string]string) (*FlowInstance, []Effect, error)
}
