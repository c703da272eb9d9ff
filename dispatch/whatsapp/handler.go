package whatsapp

import (
	"log"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/inmobot/leadflow/dispatch"
	"github.com/inmobot/leadflow/flow/msgproc"
)

// WebhookHandler endpoints del webhook de Meta: verificación del challenge
// y recepción de mensajes entrantes
type WebhookHandler struct {
	adapter   *Adapter
	processor *msgproc.MessageProcessor
	history   dispatch.ConversationLog
}

func NewWebhookHandler(adapter *Adapter, processor *msgproc.MessageProcessor, history dispatch.ConversationLog) *WebhookHandler {
	return &WebhookHandler{adapter: adapter, processor: processor, history: history}
}

// VerifyWebhook responde el challenge de verificación de Meta
// GET /webhooks/whatsapp
func (h *WebhookHandler) VerifyWebhook(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == h.adapter.config.WebhookVerifyToken {
		log.Printf("✅ Webhook verified successfully")
		return c.SendString(challenge)
	}

	log.Printf("❌ Webhook verification failed - invalid token")
	return fiber.NewError(http.StatusForbidden, "Verification failed")
}

// ReceiveWebhook procesa un webhook entrante. Siempre responde 200 para que
// Meta no reintente: la idempotencia por message ID absorbe los reintentos
// que sí lleguen.
// POST /webhooks/whatsapp
func (h *WebhookHandler) ReceiveWebhook(c *fiber.Ctx) error {
	body := c.Body()

	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})

	msg, err := h.adapter.ParseWebhook(c.Context(), body, headers)
	if err != nil {
		log.Printf("❌ Failed to parse webhook: %v", err)
		return c.SendStatus(fiber.StatusOK)
	}
	if msg == nil {
		return c.SendStatus(fiber.StatusOK)
	}

	if h.history != nil && msg.Text != "" {
		if err := h.history.Record(c.Context(), msg.LeadID, dispatch.RoleUser, msg.Text); err != nil {
			log.Printf("⚠️  Failed to record inbound turn for lead %s: %v", msg.LeadID, err)
		}
	}

	if err := h.processor.ProcessMessage(c.Context(), *msg); err != nil {
		log.Printf("❌ Failed to process message %s: %v", msg.MessageID, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

// RegisterRoutes registra las rutas del webhook
func (h *WebhookHandler) RegisterRoutes(app *fiber.App) {
	webhooks := app.Group("/webhooks/whatsapp")
	webhooks.Get("/", h.VerifyWebhook)
	webhooks.Post("/", h.ReceiveWebhook)
}
