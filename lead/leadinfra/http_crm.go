package leadinfra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/inmobot/leadflow/lead"
	"github.com/inmobot/leadflow/pkg/config"
	"github.com/inmobot/leadflow/pkg/kernel"
)

// ============================================================================
// HTTP CRM client
// ============================================================================

// HTTPCrmClient refleja los cambios de lead en el CRM externo vía su API REST
type HTTPCrmClient struct {
	config     config.CRMConfig
	httpClient *http.Client
}

var _ lead.CrmUpdater = (*HTTPCrmClient)(nil)

func NewHTTPCrmClient(cfg config.CRMConfig) *HTTPCrmClient {
	return &HTTPCrmClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPCrmClient) UpdateField(ctx context.Context, leadID kernel.LeadID, field, value string) error {
	return c.post(ctx, fmt.Sprintf("/leads/%s/fields", leadID), map[string]string{
		"field": field,
		"value": value,
	})
}

func (c *HTTPCrmClient) AddTag(ctx context.Context, leadID kernel.LeadID, tag string) error {
	return c.post(ctx, fmt.Sprintf("/leads/%s/tags", leadID), map[string]string{
		"tag": tag,
	})
}

func (c *HTTPCrmClient) MoveStage(ctx context.Context, leadID kernel.LeadID, stage string) error {
	return c.post(ctx, fmt.Sprintf("/leads/%s/stage", leadID), map[string]string{
		"stage": stage,
	})
}

func (c *HTTPCrmClient) AssignAdvisor(ctx context.Context, leadID kernel.LeadID, advisorID kernel.AdvisorID) error {
	return c.post(ctx, fmt.Sprintf("/leads/%s/advisor", leadID), map[string]string{
		"advisor_id": advisorID.String(),
	})
}

func (c *HTTPCrmClient) post(ctx context.Context, path string, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal CRM payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create CRM request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("CRM request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		log.Printf("❌ CRM API error %d on %s: %s", resp.StatusCode, path, string(respBody))
		return fmt.Errorf("CRM API returned status %d", resp.StatusCode)
	}
	return nil
}

// ============================================================================
// Local-only fallback
// ============================================================================

// LocalCrmUpdater no-op para entornos sin CRM configurado: los cambios viven
// solo en el espejo local
type LocalCrmUpdater struct{}

var _ lead.CrmUpdater = (*LocalCrmUpdater)(nil)

func NewLocalCrmUpdater() *LocalCrmUpdater {
	return &LocalCrmUpdater{}
}

func (u *LocalCrmUpdater) UpdateField(ctx context.Context, leadID kernel.LeadID, field, value string) error {
	log.Printf("📋 [local CRM] lead %s field %s = %q", leadID, field, value)
	return nil
}

func (u *LocalCrmUpdater) AddTag(ctx context.Context, leadID kernel.LeadID, tag string) error {
	log.Printf("📋 [local CRM] lead %s tag %q", leadID, tag)
	return nil
}

func (u *LocalCrmUpdater) MoveStage(ctx context.Context, leadID kernel.LeadID, stage string) error {
	log.Printf("📋 [local CRM] lead %s stage %q", leadID, stage)
	return nil
}

func (u *LocalCrmUpdater) AssignAdvisor(ctx context.Context, leadID kernel.LeadID, advisorID kernel.AdvisorID) error {
	log.Printf("📋 [local CRM] lead %s advisor %s", leadID, advisorID)
	return nil
}
