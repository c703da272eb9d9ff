package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/inmobot/leadflow/dispatch"
	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/lead"
	"github.com/inmobot/leadflow/pkg/config"
	"github.com/inmobot/leadflow/pkg/kernel"
)

const (
	defaultAPIBaseURL = "https://graph.facebook.com"
	defaultAPIVersion = "v24.0"
)

// Adapter transporte de WhatsApp Business API: envío de mensajes de texto y
// de botones de respuesta rápida, y parseo de webhooks entrantes
type Adapter struct {
	config     config.WhatsAppConfig
	leads      lead.LeadRepository
	httpClient *http.Client
	apiURL     string
}

var _ dispatch.MessageSender = (*Adapter)(nil)

func NewAdapter(cfg config.WhatsAppConfig, leads lead.LeadRepository) *Adapter {
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}

	return &Adapter{
		config:     cfg,
		leads:      leads,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiURL:     fmt.Sprintf("%s/%s/%s", baseURL, apiVersion, cfg.PhoneNumberID),
	}
}

// ============================================================================
// Outbound
// ============================================================================

// SendText envía un mensaje al lead; con botones el mensaje sale como
// interactivo de respuestas rápidas (máximo 3, límite de la API)
func (a *Adapter) SendText(ctx context.Context, leadID kernel.LeadID, text string, buttons []flow.Button) error {
	l, err := a.leads.FindByID(ctx, leadID)
	if err != nil {
		return fmt.Errorf("failed to resolve lead phone: %w", err)
	}

	payload := a.buildMessagePayload(l.Phone, text, buttons)
	return a.post(ctx, payload)
}

func (a *Adapter) post(ctx context.Context, payload map[string]any) error {
	url := fmt.Sprintf("%s/messages", a.apiURL)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.config.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		log.Printf("❌ WhatsApp API Error - Status: %d, Body: %s", resp.StatusCode, string(body))
		return fmt.Errorf("whatsapp API error %d: %s", resp.StatusCode, string(body))
	}

	log.Printf("✅ WhatsApp message sent - Response: %s", string(body))
	return nil
}

func (a *Adapter) buildMessagePayload(to, text string, buttons []flow.Button) map[string]any {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
	}

	if len(buttons) == 0 {
		payload["type"] = "text"
		payload["text"] = map[string]any{"body": text}
		return payload
	}

	replyButtons := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		replyButtons = append(replyButtons, map[string]any{
			"type": "reply",
			"reply": map[string]any{
				"id":    b.ID,
				"title": b.Label,
			},
		})
	}

	payload["type"] = "interactive"
	payload["interactive"] = map[string]any{
		"type":   "button",
		"body":   map[string]any{"text": text},
		"action": map[string]any{"buttons": replyButtons},
	}
	return payload
}

// ============================================================================
// Inbound
// ============================================================================

// ParseWebhook verifica la firma y extrae el mensaje entrante normalizado.
// Retorna nil cuando el webhook no trae mensajes (status updates)
func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte, headers map[string]string) (*flow.InboundMessage, error) {
	if err := a.verifySignature(payload, headers); err != nil {
		return nil, err
	}

	var webhook Webhook
	if err := json.Unmarshal(payload, &webhook); err != nil {
		return nil, fmt.Errorf("failed to parse webhook: %w", err)
	}

	for _, entry := range webhook.Entry {
		for _, change := range entry.Changes {
			if change.Value.MessagingProduct != "whatsapp" {
				continue
			}
			for _, msg := range change.Value.Messages {
				l, err := a.resolveLead(ctx, msg.From)
				if err != nil {
					return nil, err
				}
				return &flow.InboundMessage{
					MessageID:  kernel.MessageID(msg.ID),
					LeadID:     l.ID,
					Text:       extractText(msg),
					ButtonID:   extractButtonID(msg),
					ReceivedAt: time.Unix(msg.Timestamp, 0),
				}, nil
			}
		}
	}
	return nil, nil
}

// resolveLead espeja al remitente como lead local; el primer contacto crea
// el registro
func (a *Adapter) resolveLead(ctx context.Context, phone string) (*lead.Lead, error) {
	l, err := a.leads.FindByPhone(ctx, phone)
	if err == nil {
		return l, nil
	}

	now := time.Now()
	created := lead.Lead{
		ID:        kernel.NewLeadID(phone),
		Phone:     phone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.leads.Save(ctx, created); err != nil {
		return nil, fmt.Errorf("failed to create lead for %s: %w", phone, err)
	}
	log.Printf("👤 New lead created for phone %s", phone)
	return &created, nil
}

func (a *Adapter) verifySignature(payload []byte, headers map[string]string) error {
	if a.config.AppSecret == "" {
		return nil
	}

	signature := headers["X-Hub-Signature-256"]
	if signature == "" {
		signature = headers["x-hub-signature-256"]
	}
	if signature == "" {
		return fmt.Errorf("missing webhook signature")
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(a.config.AppSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("invalid webhook signature")
	}
	return nil
}

func extractText(msg WebhookMessage) string {
	if msg.Text != nil {
		return msg.Text.Body
	}
	if msg.Interactive != nil && msg.Interactive.ButtonReply != nil {
		return msg.Interactive.ButtonReply.Title
	}
	if msg.Image != nil && msg.Image.Caption != "" {
		return msg.Image.Caption
	}
	return ""
}

func extractButtonID(msg WebhookMessage) string {
	if msg.Interactive != nil && msg.Interactive.ButtonReply != nil {
		return msg.Interactive.ButtonReply.ID
	}
	return ""
}

// ============================================================================
// Webhook structures
// ============================================================================

type Webhook struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Value WebhookValue `json:"value"`
	Field string       `json:"field"`
}

type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         WebhookMetadata  `json:"metadata"`
	Messages         []WebhookMessage `json:"messages"`
	Statuses         []WebhookStatus  `json:"statuses"`
}

type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WebhookMessage struct {
	ID          string              `json:"id"`
	From        string              `json:"from"`
	Timestamp   int64               `json:"timestamp,string"`
	Type        string              `json:"type"`
	Text        *WebhookText        `json:"text,omitempty"`
	Interactive *WebhookInteractive `json:"interactive,omitempty"`
	Image       *WebhookMedia       `json:"image,omitempty"`
}

type WebhookText struct {
	Body string `json:"body"`
}

type WebhookInteractive struct {
	Type        string              `json:"type"`
	ButtonReply *WebhookButtonReply `json:"button_reply,omitempty"`
}

type WebhookButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type WebhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

type WebhookStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   int64  `json:"timestamp,string"`
	RecipientID string `json:"recipient_id"`
}
