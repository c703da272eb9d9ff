package lead

import (
	"context"

	"github.com/inmobot/leadflow/pkg/kernel"
)

// ============================================================================
// Repository Interfaces
// ============================================================================

// LeadRepository persistencia del espejo local de leads
type LeadRepository interface {
	Save(ctx context.Context, l Lead) error
	FindByID(ctx context.Context, id kernel.LeadID) (*Lead, error)
	FindByPhone(ctx context.Context, phone string) (*Lead, error)
}

// AdvisorRepository catálogo de asesores para asignación
type AdvisorRepository interface {
	Save(ctx context.Context, a Advisor) error
	FindByID(ctx context.Context, id kernel.AdvisorID) (*Advisor, error)
	FindAvailable(ctx context.Context) ([]*Advisor, error)
	IncrementAssigned(ctx context.Context, id kernel.AdvisorID) error
}

// VariableRepository persistencia del Variable Store, upsert por (lead, key)
type VariableRepository interface {
	Upsert(ctx context.Context, v Variable) error
	Find(ctx context.Context, leadID kernel.LeadID, key string) (*Variable, error)
	Snapshot(ctx context.Context, leadID kernel.LeadID) (map[string]string, error)
}

// ============================================================================
// Collaborator Interfaces
// ============================================================================

// CrmUpdater colaborador externo que refleja cambios en el CRM
type CrmUpdater interface {
	UpdateField(ctx context.Context, leadID kernel.LeadID, field, value string) error
	AddTag(ctx context.Context, leadID kernel.LeadID, tag string) error
	MoveStage(ctx context.Context, leadID kernel.LeadID, stage string) error
	AssignAdvisor(ctx context.Context, leadID kernel.LeadID, advisorID kernel.AdvisorID) error
}

// AdvisorNotifier colaborador que avisa al asesor del lead asignado
type AdvisorNotifier interface {
	Notify(ctx context.Context, advisorID kernel.AdvisorID, leadID kernel.LeadID, template string) error
}
