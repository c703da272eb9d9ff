package leadinfra

import (
	"context"
	"sort"
	"sync"

	"github.com/inmobot/leadflow/lead"
	"github.com/inmobot/leadflow/pkg/kernel"
)

// ============================================================================
// In-memory repositories (tests y desarrollo local)
// ============================================================================

type MemoryLeadRepository struct {
	mu    sync.RWMutex
	leads map[string]lead.Lead
}

var _ lead.LeadRepository = (*MemoryLeadRepository)(nil)

func NewMemoryLeadRepository() *MemoryLeadRepository {
	return &MemoryLeadRepository{leads: make(map[string]lead.Lead)}
}

func (r *MemoryLeadRepository) Save(ctx context.Context, l lead.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leads[l.ID.String()] = l
	return nil
}

func (r *MemoryLeadRepository) FindByID(ctx context.Context, id kernel.LeadID) (*lead.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.leads[id.String()]
	if !ok {
		return nil, lead.ErrLeadNotFound().WithDetail("lead_id", id.String())
	}
	clone := l
	return &clone, nil
}

func (r *MemoryLeadRepository) FindByPhone(ctx context.Context, phone string) (*lead.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.leads {
		if l.Phone == phone {
			clone := l
			return &clone, nil
		}
	}
	return nil, lead.ErrLeadNotFound().WithDetail("phone", phone)
}

// ============================================================================

type MemoryAdvisorRepository struct {
	mu       sync.RWMutex
	advisors map[string]lead.Advisor
}

var _ lead.AdvisorRepository = (*MemoryAdvisorRepository)(nil)

func NewMemoryAdvisorRepository() *MemoryAdvisorRepository {
	return &MemoryAdvisorRepository{advisors: make(map[string]lead.Advisor)}
}

func (r *MemoryAdvisorRepository) Save(ctx context.Context, a lead.Advisor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advisors[a.ID.String()] = a
	return nil
}

func (r *MemoryAdvisorRepository) FindByID(ctx context.Context, id kernel.AdvisorID) (*lead.Advisor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.advisors[id.String()]
	if !ok {
		return nil, lead.ErrAdvisorNotFound().WithDetail("advisor_id", id.String())
	}
	clone := a
	return &clone, nil
}

func (r *MemoryAdvisorRepository) FindAvailable(ctx context.Context) ([]*lead.Advisor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var available []*lead.Advisor
	for _, a := range r.advisors {
		if a.IsAvailable {
			clone := a
			available = append(available, &clone)
		}
	}
	sort.Slice(available, func(i, j int) bool {
		return available[i].ID.String() < available[j].ID.String()
	})
	return available, nil
}

func (r *MemoryAdvisorRepository) IncrementAssigned(ctx context.Context, id kernel.AdvisorID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.advisors[id.String()]
	if !ok {
		return lead.ErrAdvisorNotFound().WithDetail("advisor_id", id.String())
	}
	a.AssignedCount++
	r.advisors[id.String()] = a
	return nil
}

// ============================================================================

type MemoryVariableRepository struct {
	mu   sync.RWMutex
	vars map[string]map[string]lead.Variable // lead_id -> key -> variable
}

var _ lead.VariableRepository = (*MemoryVariableRepository)(nil)

func NewMemoryVariableRepository() *MemoryVariableRepository {
	return &MemoryVariableRepository{vars: make(map[string]map[string]lead.Variable)}
}

func (r *MemoryVariableRepository) Upsert(ctx context.Context, v lead.Variable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKey, ok := r.vars[v.LeadID.String()]
	if !ok {
		byKey = make(map[string]lead.Variable)
		r.vars[v.LeadID.String()] = byKey
	}
	// Last-writer-wins por updatedAt
	if existing, exists := byKey[v.Key]; exists && existing.UpdatedAt.After(v.UpdatedAt) {
		return nil
	}
	byKey[v.Key] = v
	return nil
}

func (r *MemoryVariableRepository) Find(ctx context.Context, leadID kernel.LeadID, key string) (*lead.Variable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byKey, ok := r.vars[leadID.String()]
	if !ok {
		return nil, nil
	}
	v, ok := byKey[key]
	if !ok {
		return nil, nil
	}
	clone := v
	return &clone, nil
}

func (r *MemoryVariableRepository) Snapshot(ctx context.Context, leadID kernel.LeadID) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]string)
	for key, v := range r.vars[leadID.String()] {
		snapshot[key] = v.Value
	}
	return snapshot, nil
}
