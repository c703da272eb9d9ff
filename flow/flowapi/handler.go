package flowapi

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/flow/msgproc"
	"github.com/inmobot/leadflow/pkg/kernel"
)

// FlowHandler maneja las peticiones HTTP de gestión de flows
type FlowHandler struct {
	flows     *flow.Service
	instances *flow.InstanceService
	processor *msgproc.MessageProcessor
}

func NewFlowHandler(
	flows *flow.Service,
	instances *flow.InstanceService,
	processor *msgproc.MessageProcessor,
) *FlowHandler {
	return &FlowHandler{
		flows:     flows,
		instances: instances,
		processor: processor,
	}
}

// ============================================================================
// Flow management
// ============================================================================

// PublishFlow publica (o re-publica como versión nueva) un flow
// POST /api/flows
func (h *FlowHandler) PublishFlow(c *fiber.Ctx) error {
	var req flow.PublishFlowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	resp, err := h.flows.Publish(c.Context(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// ListFlows lista flows paginados
// GET /api/flows?page=1&page_size=20&is_active=true&search=...
func (h *FlowHandler) ListFlows(c *fiber.Ctx) error {
	req := flow.FlowListRequest{
		Search: c.Query("search"),
	}
	req.Page = c.QueryInt("page", 1)
	req.PageSize = c.QueryInt("page_size", 20)
	if raw := c.Query("is_active"); raw != "" {
		isActive := raw == "true"
		req.IsActive = &isActive
	}

	resp, err := h.flows.ListFlows(c.Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// GetFlow retorna la última versión de un flow
// GET /api/flows/:flowId
func (h *FlowHandler) GetFlow(c *fiber.Ctx) error {
	f, err := h.flows.GetFlow(c.Context(), kernel.NewFlowID(c.Params("flowId")))
	if err != nil {
		return err
	}
	return c.JSON(f)
}

// ExportFlow retorna el documento serializado de un flow
// GET /api/flows/:flowId/export
func (h *FlowHandler) ExportFlow(c *fiber.Ctx) error {
	doc, err := h.flows.ExportFlow(c.Context(), kernel.NewFlowID(c.Params("flowId")))
	if err != nil {
		return err
	}
	return c.JSON(doc)
}

// ActivateFlow habilita un flow publicado para atender triggers
// POST /api/flows/:flowId/activate
func (h *FlowHandler) ActivateFlow(c *fiber.Ctx) error {
	flowID := kernel.NewFlowID(c.Params("flowId"))
	if err := h.flows.ActivateFlow(c.Context(), flowID); err != nil {
		return err
	}
	log.Printf("✅ Flow activated: %s", flowID)
	return c.JSON(fiber.Map{"status": "active"})
}

// DeactivateFlow deja de atender triggers nuevos; las instancias en vuelo
// no se tocan
// POST /api/flows/:flowId/deactivate
func (h *FlowHandler) DeactivateFlow(c *fiber.Ctx) error {
	flowID := kernel.NewFlowID(c.Params("flowId"))
	if err := h.flows.DeactivateFlow(c.Context(), flowID); err != nil {
		return err
	}
	log.Printf("⏸️  Flow deactivated: %s", flowID)
	return c.JSON(fiber.Map{"status": "inactive"})
}

// DeleteFlow elimina un flow inactivo
// DELETE /api/flows/:flowId
func (h *FlowHandler) DeleteFlow(c *fiber.Ctx) error {
	if err := h.flows.DeleteFlow(c.Context(), kernel.NewFlowID(c.Params("flowId"))); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ============================================================================
// Instance operations
// ============================================================================

// StartFlow arranca un flow explícitamente para un lead, cancelando la
// instancia en vuelo si la hay
// POST /api/flows/:flowId/start
func (h *FlowHandler) StartFlow(c *fiber.Ctx) error {
	var req struct {
		LeadID string `json:"lead_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.LeadID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "lead_id is required",
		})
	}

	flowID := kernel.NewFlowID(c.Params("flowId"))
	leadID := kernel.NewLeadID(req.LeadID)

	// Trigger sintético: un arranque por API se comporta como un mensaje
	// entrante con su propio ID de deduplicación
	trigger := flow.NewMessageTrigger(flow.InboundMessage{
		MessageID:  kernel.NewMessageID(uuid.NewString()),
		LeadID:     leadID,
		ReceivedAt: time.Now(),
	})

	if err := h.processor.StartFlowForLead(c.Context(), flowID, leadID, trigger); err != nil {
		return err
	}
	log.Printf("🚀 Flow %s started for lead %s via API", flowID, leadID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":  "started",
		"flow_id": flowID,
		"lead_id": leadID,
	})
}

// GetInstance retorna una instancia por ID
// GET /api/instances/:instanceId
func (h *FlowHandler) GetInstance(c *fiber.Ctx) error {
	instance, err := h.instances.GetInstance(c.Context(), kernel.NewInstanceID(c.Params("instanceId")))
	if err != nil {
		return err
	}
	return c.JSON(instance)
}

// ListInstances lista instancias paginadas con filtros opcionales
// GET /api/instances?lead_id=...&flow_id=...&status=...
func (h *FlowHandler) ListInstances(c *fiber.Ctx) error {
	req := flow.InstanceListRequest{
		LeadID: kernel.NewLeadID(c.Query("lead_id")),
		FlowID: kernel.NewFlowID(c.Query("flow_id")),
		Status: flow.InstanceStatus(c.Query("status")),
	}
	req.Page = c.QueryInt("page", 1)
	req.PageSize = c.QueryInt("page_size", 20)

	resp, err := h.instances.ListInstances(c.Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// ListFailedInstances retorna las instancias fallidas preservadas para
// inspección
// GET /api/instances/failed
func (h *FlowHandler) ListFailedInstances(c *fiber.Ctx) error {
	failed, err := h.instances.ListFailed(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"instances": failed,
		"count":     len(failed),
	})
}
