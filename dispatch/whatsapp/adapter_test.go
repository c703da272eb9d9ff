package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/lead"
	"github.com/inmobot/leadflow/lead/leadinfra"
	"github.com/inmobot/leadflow/pkg/config"
	"github.com/inmobot/leadflow/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "app-secret"
	testPhone  = "5215512345678"
)

func newTestAdapter(t *testing.T) (*Adapter, *leadinfra.MemoryLeadRepository) {
	t.Helper()
	leads := leadinfra.NewMemoryLeadRepository()
	adapter := NewAdapter(config.WhatsAppConfig{
		PhoneNumberID: "12345",
		AccessToken:   "token",
		AppSecret:     testSecret,
	}, leads)
	return adapter, leads
}

func sign(payload []byte) map[string]string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(payload)
	return map[string]string{
		"X-Hub-Signature-256": "sha256=" + hex.EncodeToString(mac.Sum(nil)),
	}
}

func textWebhook(messageID, from, body string) []byte {
	return []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"phone_number_id": "12345"},
					"messages": [{
						"id": "` + messageID + `",
						"from": "` + from + `",
						"timestamp": "1756600000",
						"type": "text",
						"text": {"body": "` + body + `"}
					}]
				}
			}]
		}]
	}`)
}

func TestParseWebhookTextMessage(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	payload := textWebhook("wamid.1", testPhone, "info")

	msg, err := adapter.ParseWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, kernel.MessageID("wamid.1"), msg.MessageID)
	assert.Equal(t, "info", msg.Text)
	assert.Empty(t, msg.ButtonID)
	assert.Equal(t, int64(1756600000), msg.ReceivedAt.Unix())
}

func TestParseWebhookCreatesLeadOnFirstContact(t *testing.T) {
	adapter, leads := newTestAdapter(t)
	payload := textWebhook("wamid.1", testPhone, "hola")

	msg, err := adapter.ParseWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	require.NotNil(t, msg)

	created, err := leads.FindByPhone(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, created.ID, msg.LeadID)

	// Un segundo mensaje reutiliza el mismo lead
	payload2 := textWebhook("wamid.2", testPhone, "sigo aquí")
	msg2, err := adapter.ParseWebhook(context.Background(), payload2, sign(payload2))
	require.NoError(t, err)
	require.NotNil(t, msg2)
	assert.Equal(t, created.ID, msg2.LeadID)
}

func TestParseWebhookButtonReply(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	payload := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"changes": [{
				"value": {
					"messaging_product": "whatsapp",
					"messages": [{
						"id": "wamid.3",
						"from": "` + testPhone + `",
						"timestamp": "1756600000",
						"type": "interactive",
						"interactive": {
							"type": "button_reply",
							"button_reply": {"id": "house", "title": "Casa"}
						}
					}]
				}
			}]
		}]
	}`)

	msg, err := adapter.ParseWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "house", msg.ButtonID)
	assert.Equal(t, "Casa", msg.Text)
}

func TestParseWebhookStatusUpdateIsIgnored(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	payload := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"changes": [{
				"value": {
					"messaging_product": "whatsapp",
					"statuses": [{"id": "wamid.9", "status": "delivered", "timestamp": "1756600000"}]
				}
			}]
		}]
	}`)

	msg, err := adapter.ParseWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestParseWebhookSignature(t *testing.T) {
	t.Run("rejects a bad signature", func(t *testing.T) {
		adapter, _ := newTestAdapter(t)
		payload := textWebhook("wamid.1", testPhone, "info")

		_, err := adapter.ParseWebhook(context.Background(), payload, map[string]string{
			"X-Hub-Signature-256": "sha256=deadbeef",
		})
		assert.Error(t, err)
	})

	t.Run("rejects a missing signature", func(t *testing.T) {
		adapter, _ := newTestAdapter(t)
		payload := textWebhook("wamid.1", testPhone, "info")

		_, err := adapter.ParseWebhook(context.Background(), payload, map[string]string{})
		assert.Error(t, err)
	})

	t.Run("skips verification without an app secret", func(t *testing.T) {
		leads := leadinfra.NewMemoryLeadRepository()
		adapter := NewAdapter(config.WhatsAppConfig{PhoneNumberID: "12345"}, leads)
		payload := textWebhook("wamid.1", testPhone, "info")

		msg, err := adapter.ParseWebhook(context.Background(), payload, map[string]string{})
		require.NoError(t, err)
		assert.NotNil(t, msg)
	})
}

func TestNewAdapterAPIBaseURL(t *testing.T) {
	leads := leadinfra.NewMemoryLeadRepository()

	t.Run("honors a configured base URL", func(t *testing.T) {
		adapter := NewAdapter(config.WhatsAppConfig{
			APIBaseURL:    "http://localhost:8080",
			APIVersion:    "v21.0",
			PhoneNumberID: "12345",
		}, leads)
		assert.Equal(t, "http://localhost:8080/v21.0/12345", adapter.apiURL)
	})

	t.Run("falls back to the Graph API by default", func(t *testing.T) {
		adapter := NewAdapter(config.WhatsAppConfig{PhoneNumberID: "12345"}, leads)
		assert.Equal(t, "https://graph.facebook.com/v24.0/12345", adapter.apiURL)
	})
}

func TestBuildMessagePayload(t *testing.T) {
	adapter, leads := newTestAdapter(t)
	require.NoError(t, leads.Save(context.Background(), lead.Lead{
		ID:    kernel.NewLeadID(testPhone),
		Phone: testPhone,
	}))

	t.Run("plain text", func(t *testing.T) {
		payload := adapter.buildMessagePayload(testPhone, "Hola", nil)
		assert.Equal(t, "text", payload["type"])
		assert.Equal(t, testPhone, payload["to"])
	})

	t.Run("buttons become an interactive message", func(t *testing.T) {
		payload := adapter.buildMessagePayload(testPhone, "¿Casa o depto?", []flow.Button{
			{ID: "house", Label: "Casa"},
			{ID: "apartment", Label: "Depto"},
		})
		assert.Equal(t, "interactive", payload["type"])
		interactive := payload["interactive"].(map[string]any)
		action := interactive["action"].(map[string]any)
		assert.Len(t, action["buttons"], 2)
	})
}
