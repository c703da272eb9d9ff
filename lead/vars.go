package lead

import (
	"context"
	"log"
	"time"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/inmobot/leadflow/pkg/kernel"
)

// VariableStore servicio del almacén de variables por lead. Las claves
// predefinidas (name, email, phone, budget) sincronizan con el CRM; las
// claves custom son locales a los flows del lead.
type VariableStore struct {
	vars  VariableRepository
	leads LeadRepository
	crm   CrmUpdater
}

func NewVariableStore(vars VariableRepository, leads LeadRepository, crm CrmUpdater) *VariableStore {
	return &VariableStore{vars: vars, leads: leads, crm: crm}
}

// Set escribe una variable. Para claves predefinidas actualiza el espejo
// local y propaga al CRM; last-writer-wins a nivel de campo.
func (s *VariableStore) Set(ctx context.Context, leadID kernel.LeadID, key, value string) error {
	if err := s.vars.Upsert(ctx, Variable{
		LeadID:    leadID,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}); err != nil {
		return errx.Wrap(err, "failed to upsert variable", errx.TypeInternal).
			WithDetail("lead_id", leadID.String()).
			WithDetail("key", key)
	}

	if !IsPredefinedKey(key) {
		return nil
	}

	if err := s.syncPredefined(ctx, leadID, key, value); err != nil {
		return err
	}

	log.Printf("🔄 Variable %s=%q synced to CRM for lead %s", key, value, leadID)
	return nil
}

func (s *VariableStore) syncPredefined(ctx context.Context, leadID kernel.LeadID, key, value string) error {
	l, err := s.leads.FindByID(ctx, leadID)
	if err != nil {
		return ErrLeadNotFound().WithDetail("lead_id", leadID.String())
	}

	switch key {
	case KeyName:
		l.Name = value
	case KeyEmail:
		l.Email = value
	case KeyPhone:
		l.Phone = value
	case KeyBudget:
		l.Budget = value
	}
	l.UpdatedAt = time.Now()

	if err := s.leads.Save(ctx, *l); err != nil {
		return errx.Wrap(err, "failed to save lead", errx.TypeInternal).
			WithDetail("lead_id", leadID.String())
	}

	if err := s.crm.UpdateField(ctx, leadID, key, value); err != nil {
		return ErrCrmSyncFailed().
			WithDetail("lead_id", leadID.String()).
			WithDetail("field", key)
	}
	return nil
}

func (s *VariableStore) Get(ctx context.Context, leadID kernel.LeadID, key string) (string, error) {
	v, err := s.vars.Find(ctx, leadID, key)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", ErrVariableNotFound().
			WithDetail("lead_id", leadID.String()).
			WithDetail("key", key)
	}
	return v.Value, nil
}

// Snapshot retorna todas las variables del lead, con las predefinidas
// refrescadas desde el espejo local. Es el seed de una instancia nueva.
func (s *VariableStore) Snapshot(ctx context.Context, leadID kernel.LeadID) (map[string]string, error) {
	snapshot, err := s.vars.Snapshot(ctx, leadID)
	if err != nil {
		return nil, errx.Wrap(err, "failed to snapshot variables", errx.TypeInternal).
			WithDetail("lead_id", leadID.String())
	}

	l, err := s.leads.FindByID(ctx, leadID)
	if err != nil {
		// Lead aún no espejado: el snapshot de variables alcanza
		return snapshot, nil
	}
	if l.Name != "" {
		snapshot[KeyName] = l.Name
	}
	if l.Email != "" {
		snapshot[KeyEmail] = l.Email
	}
	if l.Phone != "" {
		snapshot[KeyPhone] = l.Phone
	}
	if l.Budget != "" {
		snapshot[KeyBudget] = l.Budget
	}
	return snapshot, nil
}

// Seed implementa el seeding de variables del pipeline de mensajes
func (s *VariableStore) Seed(ctx context.Context, leadID kernel.LeadID) (map[string]string, error) {
	return s.Snapshot(ctx, leadID)
}
