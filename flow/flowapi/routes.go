package flowapi

import (
	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes configura las rutas de la API de gestión
func (h *FlowHandler) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api")

	flows := api.Group("/flows")
	flows.Post("/", h.PublishFlow)
	flows.Get("/", h.ListFlows)
	flows.Get("/:flowId", h.GetFlow)
	flows.Get("/:flowId/export", h.ExportFlow)
	flows.Post("/:flowId/activate", h.ActivateFlow)
	flows.Post("/:flowId/deactivate", h.DeactivateFlow)
	flows.Post("/:flowId/start", h.StartFlow)
	flows.Delete("/:flowId", h.DeleteFlow)

	instances := api.Group("/instances")
	instances.Get("/", h.ListInstances)
	instances.Get("/failed", h.ListFailedInstances)
	instances.Get("/:instanceId", h.GetInstance)
}
