package lead_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inmobot/leadflow/lead"
	"github.com/inmobot/leadflow/lead/leadinfra"
	"github.com/inmobot/leadflow/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLead = kernel.LeadID("lead-1")

type recordingCrm struct {
	fields map[string]string
	err    error
}

func newRecordingCrm() *recordingCrm {
	return &recordingCrm{fields: make(map[string]string)}
}

func (c *recordingCrm) UpdateField(ctx context.Context, leadID kernel.LeadID, field, value string) error {
	if c.err != nil {
		return c.err
	}
	c.fields[field] = value
	return nil
}

func (c *recordingCrm) AddTag(ctx context.Context, leadID kernel.LeadID, tag string) error { return nil }
func (c *recordingCrm) MoveStage(ctx context.Context, leadID kernel.LeadID, stage string) error {
	return nil
}
func (c *recordingCrm) AssignAdvisor(ctx context.Context, leadID kernel.LeadID, advisorID kernel.AdvisorID) error {
	return nil
}

func newTestStore(t *testing.T) (*lead.VariableStore, *leadinfra.MemoryLeadRepository, *recordingCrm) {
	t.Helper()
	leads := leadinfra.NewMemoryLeadRepository()
	require.NoError(t, leads.Save(context.Background(), lead.Lead{
		ID:        testLead,
		Phone:     "+5215512345678",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}))
	crm := newRecordingCrm()
	store := lead.NewVariableStore(leadinfra.NewMemoryVariableRepository(), leads, crm)
	return store, leads, crm
}

func TestVariableStoreSet(t *testing.T) {
	ctx := context.Background()

	t.Run("predefined key propagates to lead and CRM", func(t *testing.T) {
		store, leads, crm := newTestStore(t)

		require.NoError(t, store.Set(ctx, testLead, lead.KeyName, "Ana"))

		l, err := leads.FindByID(ctx, testLead)
		require.NoError(t, err)
		assert.Equal(t, "Ana", l.Name)
		assert.Equal(t, "Ana", crm.fields[lead.KeyName])

		value, err := store.Get(ctx, testLead, lead.KeyName)
		require.NoError(t, err)
		assert.Equal(t, "Ana", value)
	})

	t.Run("custom key stays local", func(t *testing.T) {
		store, _, crm := newTestStore(t)

		require.NoError(t, store.Set(ctx, testLead, "zone", "Polanco"))

		assert.Empty(t, crm.fields)
		value, err := store.Get(ctx, testLead, "zone")
		require.NoError(t, err)
		assert.Equal(t, "Polanco", value)
	})

	t.Run("CRM failure surfaces as error", func(t *testing.T) {
		store, _, crm := newTestStore(t)
		crm.err = errors.New("crm timeout")

		err := store.Set(ctx, testLead, lead.KeyBudget, "3M")
		assert.Error(t, err)
	})

	t.Run("custom key ignores CRM failures", func(t *testing.T) {
		store, _, crm := newTestStore(t)
		crm.err = errors.New("crm timeout")

		assert.NoError(t, store.Set(ctx, testLead, "zone", "Roma Norte"))
	})
}

func TestVariableStoreGetMissing(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.Get(context.Background(), testLead, "ghost")
	assert.Error(t, err)
}

func TestVariableStoreSnapshot(t *testing.T) {
	ctx := context.Background()
	store, leads, _ := newTestStore(t)

	require.NoError(t, store.Set(ctx, testLead, "zone", "Polanco"))
	require.NoError(t, store.Set(ctx, testLead, lead.KeyName, "Ana"))

	// El espejo local pisa al snapshot de variables para claves predefinidas
	l, err := leads.FindByID(ctx, testLead)
	require.NoError(t, err)
	l.Name = "Ana María"
	require.NoError(t, leads.Save(ctx, *l))

	snapshot, err := store.Snapshot(ctx, testLead)
	require.NoError(t, err)
	assert.Equal(t, "Polanco", snapshot["zone"])
	assert.Equal(t, "Ana María", snapshot[lead.KeyName])
	assert.Equal(t, "+5215512345678", snapshot[lead.KeyPhone])
}

func TestIsPredefinedKey(t *testing.T) {
	assert.True(t, lead.IsPredefinedKey(lead.KeyName))
	assert.True(t, lead.IsPredefinedKey(lead.KeyBudget))
	assert.False(t, lead.IsPredefinedKey("zone"))
	assert.False(t, lead.IsPredefinedKey("NAME"))
}
