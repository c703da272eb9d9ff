package flow

import (
	"context"
	"log"
	"time"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/inmobot/leadflow/pkg/kernel"
)

// Service operaciones de gestión de flows: publicar, activar, consultar.
// Los flows publicados son inmutables; editar uno publica una versión nueva
// y las instancias en vuelo siguen ancladas a la versión con la que
// arrancaron.
type Service struct {
	repo     FlowRepository
	validate *validator.Validate
}

func NewService(repo FlowRepository) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(),
	}
}

// ============================================================================
// Publish
// ============================================================================

// Publish valida el documento y el grafo, y persiste el flow. Si ya existe
// un flow con el mismo nombre, se publica como la versión siguiente; la
// versión anterior queda desactivada.
func (s *Service) Publish(ctx context.Context, req PublishFlowRequest) (*PublishFlowResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errx.Wrap(err, "invalid publish request", errx.TypeValidation)
	}

	f := ImportFlow(req.Document)
	if err := ValidateGraph(f); err != nil {
		log.Printf("❌ Flow %q rejected at publish: %v", req.Document.Name, err)
		return nil, err
	}

	now := time.Now()
	prior, err := s.repo.FindByName(ctx, f.Name)
	if err != nil && !errx.IsType(err, errx.TypeNotFound) {
		return nil, errx.Wrap(err, "failed to look up prior version", errx.TypeInternal)
	}

	if prior != nil {
		f.ID = prior.ID
		f.Version = prior.Version + 1
		f.CreatedAt = prior.CreatedAt
		// La versión anterior deja de atender triggers nuevos; las
		// instancias ancladas a ella siguen resolviéndola por versión
		if prior.IsActive {
			prior.Deactivate()
			if err := s.repo.Save(ctx, *prior); err != nil {
				return nil, errx.Wrap(err, "failed to deactivate prior version", errx.TypeInternal)
			}
		}
	} else {
		f.ID = kernel.NewFlowID(uuid.New().String())
		f.Version = 1
		f.CreatedAt = now
	}

	f.UpdatedAt = now
	f.MarkPublished()
	if req.Activate {
		f.Activate()
	}

	if err := s.repo.Save(ctx, *f); err != nil {
		return nil, errx.Wrap(err, "failed to save flow", errx.TypeInternal)
	}

	log.Printf("✅ Published flow %q v%d (active=%v)", f.Name, f.Version, f.IsActive)
	return &PublishFlowResponse{Flow: f.Export(), ID: f.ID}, nil
}

// ============================================================================
// Queries & lifecycle
// ============================================================================

func (s *Service) GetFlow(ctx context.Context, id kernel.FlowID) (*Flow, error) {
	f, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, ErrFlowNotFound().WithDetail("flow_id", id.String())
	}
	return f, nil
}

func (s *Service) ListFlows(ctx context.Context, req FlowListRequest) (FlowListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	return s.repo.List(ctx, req)
}

// ExportFlow retorna el documento serializable de un flow
func (s *Service) ExportFlow(ctx context.Context, id kernel.FlowID) (*FlowDocument, error) {
	f, err := s.GetFlow(ctx, id)
	if err != nil {
		return nil, err
	}
	doc := f.Export()
	return &doc, nil
}

func (s *Service) ActivateFlow(ctx context.Context, id kernel.FlowID) error {
	f, err := s.GetFlow(ctx, id)
	if err != nil {
		return err
	}
	if !f.IsPublished() {
		return ErrFlowImmutable().WithDetail("reason", "flow has never been published")
	}
	f.Activate()
	return s.repo.Save(ctx, *f)
}

func (s *Service) DeactivateFlow(ctx context.Context, id kernel.FlowID) error {
	f, err := s.GetFlow(ctx, id)
	if err != nil {
		return err
	}
	f.Deactivate()
	return s.repo.Save(ctx, *f)
}

func (s *Service) DeleteFlow(ctx context.Context, id kernel.FlowID) error {
	f, err := s.GetFlow(ctx, id)
	if err != nil {
		return err
	}
	if f.IsActive {
		return ErrFlowImmutable().WithDetail("reason", "deactivate the flow before deleting it")
	}
	return s.repo.Delete(ctx, id)
}

// ============================================================================
// Instance queries
// ============================================================================

// InstanceService consultas de instancias para la API de operación: las
// instancias fallidas quedan preservadas para inspección manual
type InstanceService struct {
	repo InstanceRepository
}

func NewInstanceService(repo InstanceRepository) *InstanceService {
	return &InstanceService{repo: repo}
}

func (s *InstanceService) GetInstance(ctx context.Context, id kernel.InstanceID) (*FlowInstance, error) {
	instance, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, ErrInstanceNotFound().WithDetail("instance_id", id.String())
	}
	return instance, nil
}

func (s *InstanceService) ListInstances(ctx context.Context, req InstanceListRequest) (InstanceListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	return s.repo.List(ctx, req)
}

func (s *InstanceService) ListFailed(ctx context.Context) ([]*FlowInstance, error) {
	return s.repo.FindFailed(ctx)
}
