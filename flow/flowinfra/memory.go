package flowinfra

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Abraxas-365/craftable/storex"
	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/pkg/kernel"
)

// ============================================================================
// In-memory repositories (tests y desarrollo local)
// ============================================================================

type MemoryFlowRepository struct {
	mu    sync.RWMutex
	flows map[string]flow.Flow // clave "id:version"
}

var _ flow.FlowRepository = (*MemoryFlowRepository)(nil)

func NewMemoryFlowRepository() *MemoryFlowRepository {
	return &MemoryFlowRepository{flows: make(map[string]flow.Flow)}
}

func flowKey(id kernel.FlowID, version int) string {
	return fmt.Sprintf("%s:%d", id, version)
}

func (r *MemoryFlowRepository) Save(ctx context.Context, f flow.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[flowKey(f.ID, f.Version)] = f
	return nil
}

func (r *MemoryFlowRepository) FindByID(ctx context.Context, id kernel.FlowID) (*flow.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *flow.Flow
	for _, f := range r.flows {
		if f.ID == id && (latest == nil || f.Version > latest.Version) {
			clone := f
			latest = &clone
		}
	}
	if latest == nil {
		return nil, flow.ErrFlowNotFound().WithDetail("flow_id", id.String())
	}
	return latest, nil
}

func (r *MemoryFlowRepository) FindByIDAndVersion(ctx context.Context, id kernel.FlowID, version int) (*flow.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[flowKey(id, version)]
	if !ok {
		return nil, flow.ErrFlowNotFound().
			WithDetail("flow_id", id.String()).
			WithDetail("version", fmt.Sprintf("%d", version))
	}
	clone := f
	return &clone, nil
}

func (r *MemoryFlowRepository) FindActive(ctx context.Context) ([]*flow.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var active []*flow.Flow
	for _, f := range r.flows {
		if f.IsActive {
			clone := f
			active = append(active, &clone)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	return active, nil
}

func (r *MemoryFlowRepository) FindByName(ctx context.Context, name string) (*flow.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *flow.Flow
	for _, f := range r.flows {
		if f.Name == name && (latest == nil || f.Version > latest.Version) {
			clone := f
			latest = &clone
		}
	}
	if latest == nil {
		return nil, flow.ErrFlowNotFound().WithDetail("name", name)
	}
	return latest, nil
}

func (r *MemoryFlowRepository) Delete(ctx context.Context, id kernel.FlowID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := false
	for key, f := range r.flows {
		if f.ID == id {
			delete(r.flows, key)
			deleted = true
		}
	}
	if !deleted {
		return flow.ErrFlowNotFound().WithDetail("flow_id", id.String())
	}
	return nil
}

func (r *MemoryFlowRepository) List(ctx context.Context, req flow.FlowListRequest) (flow.FlowListResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := make(map[kernel.FlowID]flow.Flow)
	for _, f := range r.flows {
		if cur, ok := latest[f.ID]; !ok || f.Version > cur.Version {
			latest[f.ID] = f
		}
	}

	var matched []flow.Flow
	for _, f := range latest {
		if req.IsActive != nil && f.IsActive != *req.IsActive {
			continue
		}
		if req.Search != "" && !strings.Contains(strings.ToLower(f.Name), strings.ToLower(req.Search)) {
			continue
		}
		matched = append(matched, f)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	total := len(matched)
	start := req.GetOffset()
	if start > total {
		start = total
	}
	end := start + req.PageSize
	if end > total {
		end = total
	}
	return storex.NewPaginated(matched[start:end], total, req.Page, req.PageSize), nil
}

// ============================================================================

type MemoryInstanceRepository struct {
	mu        sync.RWMutex
	instances map[string]flow.FlowInstance
}

var _ flow.InstanceRepository = (*MemoryInstanceRepository)(nil)

func NewMemoryInstanceRepository() *MemoryInstanceRepository {
	return &MemoryInstanceRepository{instances: make(map[string]flow.FlowInstance)}
}

func (r *MemoryInstanceRepository) Save(ctx context.Context, instance flow.FlowInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[instance.ID.String()] = *instance.Clone()
	return nil
}

func (r *MemoryInstanceRepository) FindByID(ctx context.Context, id kernel.InstanceID) (*flow.FlowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instance, ok := r.instances[id.String()]
	if !ok {
		return nil, flow.ErrInstanceNotFound().WithDetail("instance_id", id.String())
	}
	return instance.Clone(), nil
}

func (r *MemoryInstanceRepository) FindInProgressByLead(ctx context.Context, leadID kernel.LeadID) (*flow.FlowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var newest *flow.FlowInstance
	for _, instance := range r.instances {
		if instance.LeadID == leadID && instance.IsInProgress() {
			if newest == nil || instance.UpdatedAt.After(newest.UpdatedAt) {
				newest = instance.Clone()
			}
		}
	}
	return newest, nil
}

func (r *MemoryInstanceRepository) FindByLeadAndFlow(ctx context.Context, leadID kernel.LeadID, flowID kernel.FlowID) (*flow.FlowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var newest *flow.FlowInstance
	for _, instance := range r.instances {
		if instance.LeadID == leadID && instance.FlowID == flowID {
			if newest == nil || instance.UpdatedAt.After(newest.UpdatedAt) {
				newest = instance.Clone()
			}
		}
	}
	if newest == nil {
		return nil, flow.ErrInstanceNotFound().
			WithDetail("lead_id", leadID.String()).
			WithDetail("flow_id", flowID.String())
	}
	return newest, nil
}

func (r *MemoryInstanceRepository) FindFailed(ctx context.Context) ([]*flow.FlowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var failed []*flow.FlowInstance
	for _, instance := range r.instances {
		if instance.Status == flow.InstanceStatusFailed {
			failed = append(failed, instance.Clone())
		}
	}
	return failed, nil
}

func (r *MemoryInstanceRepository) List(ctx context.Context, req flow.InstanceListRequest) (flow.InstanceListResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []flow.FlowInstance
	for _, instance := range r.instances {
		if !req.LeadID.IsEmpty() && instance.LeadID != req.LeadID {
			continue
		}
		if !req.FlowID.IsEmpty() && instance.FlowID != req.FlowID {
			continue
		}
		if req.Status != "" && instance.Status != req.Status {
			continue
		}
		matched = append(matched, *instance.Clone())
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].UpdatedAt.After(matched[j].UpdatedAt) })

	total := len(matched)
	start := req.GetOffset()
	if start > total {
		start = total
	}
	end := start + req.PageSize
	if end > total {
		end = total
	}
	return storex.NewPaginated(matched[start:end], total, req.Page, req.PageSize), nil
}

func (r *MemoryInstanceRepository) DeleteArchivedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for key, instance := range r.instances {
		archived := instance.Status == flow.InstanceStatusCompleted ||
			instance.Status == flow.InstanceStatusAbandoned
		if archived && instance.UpdatedAt.Before(cutoff) {
			delete(r.instances, key)
			deleted++
		}
	}
	return deleted, nil
}

// ============================================================================

type MemoryDedupRepository struct {
	mu      sync.RWMutex
	records map[string]flow.TriggerRecord
}

var _ flow.TriggerDedupRepository = (*MemoryDedupRepository)(nil)

func NewMemoryDedupRepository() *MemoryDedupRepository {
	return &MemoryDedupRepository{records: make(map[string]flow.TriggerRecord)}
}

func (r *MemoryDedupRepository) Find(ctx context.Context, triggerID kernel.TriggerID) (*flow.TriggerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[triggerID.String()]
	if !ok {
		return nil, nil
	}
	clone := record
	return &clone, nil
}

func (r *MemoryDedupRepository) Save(ctx context.Context, record flow.TriggerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.TriggerID.String()]; exists {
		return nil
	}
	r.records[record.TriggerID.String()] = record
	return nil
}

func (r *MemoryDedupRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for key, record := range r.records {
		if record.ProcessedAt.Before(cutoff) {
			delete(r.records, key)
			deleted++
		}
	}
	return deleted, nil
}
