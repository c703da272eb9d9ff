package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/lead"
	"github.com/inmobot/leadflow/lead/leadinfra"
	"github.com/inmobot/leadflow/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLead = kernel.LeadID("lead-1")

// ============================================================================
// Stubs
// ============================================================================

type fakeSender struct {
	sent []string
	err  error
}

func (s *fakeSender) SendText(ctx context.Context, leadID kernel.LeadID, text string, buttons []flow.Button) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

type fakeNotifier struct {
	notified []kernel.AdvisorID
}

func (n *fakeNotifier) Notify(ctx context.Context, advisorID kernel.AdvisorID, leadID kernel.LeadID, template string) error {
	n.notified = append(n.notified, advisorID)
	return nil
}

type fakeCrm struct {
	tags     []string
	stages   []string
	advisors []string
	fields   map[string]string
}

func newFakeCrm() *fakeCrm {
	return &fakeCrm{fields: make(map[string]string)}
}

func (c *fakeCrm) UpdateField(ctx context.Context, leadID kernel.LeadID, field, value string) error {
	c.fields[field] = value
	return nil
}

func (c *fakeCrm) AddTag(ctx context.Context, leadID kernel.LeadID, tag string) error {
	c.tags = append(c.tags, tag)
	return nil
}

func (c *fakeCrm) MoveStage(ctx context.Context, leadID kernel.LeadID, stage string) error {
	c.stages = append(c.stages, stage)
	return nil
}

func (c *fakeCrm) AssignAdvisor(ctx context.Context, leadID kernel.LeadID, advisorID kernel.AdvisorID) error {
	c.advisors = append(c.advisors, advisorID.String())
	return nil
}

type fakeAlerter struct {
	alerts int
}

func (a *fakeAlerter) AssignmentFailed(ctx context.Context, leadID kernel.LeadID, flowID kernel.FlowID, strategy flow.AssignStrategy) {
	a.alerts++
}

// ============================================================================
// Fixture
// ============================================================================

type dispatcherFixture struct {
	dispatcher *Dispatcher
	sender     *fakeSender
	notifier   *fakeNotifier
	crm        *fakeCrm
	alerter    *fakeAlerter
	leads      *leadinfra.MemoryLeadRepository
	history    *MemoryConversationLog
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	fx := &dispatcherFixture{
		sender:   &fakeSender{},
		notifier: &fakeNotifier{},
		crm:      newFakeCrm(),
		alerter:  &fakeAlerter{},
		leads:    leadinfra.NewMemoryLeadRepository(),
		history:  NewMemoryConversationLog(),
	}
	require.NoError(t, fx.leads.Save(context.Background(), lead.Lead{
		ID:        testLead,
		Phone:     "+5215512345678",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}))
	vars := lead.NewVariableStore(leadinfra.NewMemoryVariableRepository(), fx.leads, fx.crm)
	applier := NewCRMApplier(fx.leads, vars, fx.crm)
	fx.dispatcher = NewDispatcher(fx.sender, fx.notifier, applier, fx.alerter, fx.history)
	return fx
}

// ============================================================================
// Dispatcher
// ============================================================================

func TestDispatcherAppliesEffectsInOrder(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()

	effects := []flow.Effect{
		flow.SendMessageEffect{LeadID: testLead, Text: "Hola"},
		flow.UpdateCRMEffect{LeadID: testLead, Field: flow.CRMFieldTag, Value: "interesado"},
		flow.UpdateCRMEffect{LeadID: testLead, Field: flow.CRMFieldStage, Value: "calificado"},
		flow.NotifyAdvisorEffect{AdvisorID: "adv-1", LeadID: testLead},
	}
	require.NoError(t, fx.dispatcher.Dispatch(ctx, effects))

	assert.Equal(t, []string{"Hola"}, fx.sender.sent)
	assert.Equal(t, []string{"interesado"}, fx.crm.tags)
	assert.Equal(t, []string{"calificado"}, fx.crm.stages)
	assert.Equal(t, []kernel.AdvisorID{"adv-1"}, fx.notifier.notified)

	l, err := fx.leads.FindByID(ctx, testLead)
	require.NoError(t, err)
	assert.Contains(t, l.Tags, "interesado")
	assert.Equal(t, "calificado", l.Stage)
}

func TestDispatcherRecordsOutboundTurns(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.dispatcher.Dispatch(ctx, []flow.Effect{
		flow.SendMessageEffect{LeadID: testLead, Text: "Hola"},
		flow.SendMessageEffect{LeadID: testLead, Text: "¿Zona de interés?"},
	}))

	turns, err := fx.history.Recent(ctx, testLead, 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, RoleAssistant, turns[0].Role)
	assert.Equal(t, "Hola", turns[0].Text)
	assert.Equal(t, "¿Zona de interés?", turns[1].Text)
}

func TestDispatcherStopsOnFirstFailure(t *testing.T) {
	fx := newDispatcherFixture(t)
	fx.sender.err = errors.New("whatsapp unavailable")

	err := fx.dispatcher.Dispatch(context.Background(), []flow.Effect{
		flow.SendMessageEffect{LeadID: testLead, Text: "Hola"},
		flow.UpdateCRMEffect{LeadID: testLead, Field: flow.CRMFieldTag, Value: "interesado"},
	})

	require.Error(t, err)
	// El efecto posterior al fallido no se aplica
	assert.Empty(t, fx.crm.tags)
}

func TestDispatcherRoutesAssignmentFlags(t *testing.T) {
	fx := newDispatcherFixture(t)

	require.NoError(t, fx.dispatcher.Dispatch(context.Background(), []flow.Effect{
		flow.AssignmentFailedEffect{
			LeadID:   testLead,
			FlowID:   "welcome",
			NodeID:   "assign",
			Strategy: flow.StrategyRoundRobin,
		},
	}))
	assert.Equal(t, 1, fx.alerter.alerts)
}

// ============================================================================
// CRM applier
// ============================================================================

func TestCRMApplierVariableField(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()

	t.Run("predefined key reaches the CRM", func(t *testing.T) {
		require.NoError(t, fx.dispatcher.Dispatch(ctx, []flow.Effect{
			flow.UpdateCRMEffect{LeadID: testLead, Field: flow.CRMFieldVariable, Key: "name", Value: "Ana"},
		}))
		assert.Equal(t, "Ana", fx.crm.fields["name"])
	})

	t.Run("custom key stays local", func(t *testing.T) {
		require.NoError(t, fx.dispatcher.Dispatch(ctx, []flow.Effect{
			flow.UpdateCRMEffect{LeadID: testLead, Field: flow.CRMFieldVariable, Key: "zone", Value: "Polanco"},
		}))
		_, synced := fx.crm.fields["zone"]
		assert.False(t, synced)
	})
}

func TestCRMApplierAdvisorField(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.dispatcher.Dispatch(ctx, []flow.Effect{
		flow.UpdateCRMEffect{LeadID: testLead, Field: flow.CRMFieldAdvisor, Value: "adv-9"},
	}))

	l, err := fx.leads.FindByID(ctx, testLead)
	require.NoError(t, err)
	assert.Equal(t, kernel.AdvisorID("adv-9"), l.AssignedAdvisorID)
	assert.Equal(t, []string{"adv-9"}, fx.crm.advisors)
}

func TestCRMApplierTagIsIdempotent(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()

	tag := flow.UpdateCRMEffect{LeadID: testLead, Field: flow.CRMFieldTag, Value: "interesado"}
	require.NoError(t, fx.dispatcher.Dispatch(ctx, []flow.Effect{tag, tag}))

	l, err := fx.leads.FindByID(ctx, testLead)
	require.NoError(t, err)
	assert.Equal(t, []string{"interesado"}, l.Tags)
}
