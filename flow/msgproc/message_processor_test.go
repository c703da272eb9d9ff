package msgproc

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/flow/flowexec"
	"github.com/inmobot/leadflow/flow/flowinfra"
	"github.com/inmobot/leadflow/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLead = kernel.LeadID("lead-1")

// ============================================================================
// Collaborator stubs
// ============================================================================

type fakeScheduler struct {
	ops      *[]string
	armed    map[string]time.Time
	disarmed []string
}

func newFakeScheduler(ops *[]string) *fakeScheduler {
	return &fakeScheduler{ops: ops, armed: make(map[string]time.Time)}
}

func (s *fakeScheduler) Arm(ctx context.Context, instanceID kernel.InstanceID, epoch int, wakeAt time.Time) error {
	*s.ops = append(*s.ops, "arm")
	s.armed[instanceID.String()] = wakeAt
	return nil
}

func (s *fakeScheduler) Disarm(ctx context.Context, instanceID kernel.InstanceID) error {
	*s.ops = append(*s.ops, "disarm")
	s.disarmed = append(s.disarmed, instanceID.String())
	delete(s.armed, instanceID.String())
	return nil
}

type fakeDispatcher struct {
	ops     *[]string
	batches [][]flow.Effect
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, effects []flow.Effect) error {
	*d.ops = append(*d.ops, "dispatch")
	d.batches = append(d.batches, effects)
	return nil
}

func (d *fakeDispatcher) allEffects() []flow.Effect {
	var all []flow.Effect
	for _, batch := range d.batches {
		all = append(all, batch...)
	}
	return all
}

type fakeSeeder struct {
	vars map[string]string
}

func (s *fakeSeeder) Seed(ctx context.Context, leadID kernel.LeadID) (map[string]string, error) {
	return s.vars, nil
}

// trackingInstanceRepo registra el orden de los Save junto a los demás pasos
type trackingInstanceRepo struct {
	*flowinfra.MemoryInstanceRepository
	ops *[]string
}

func (r *trackingInstanceRepo) Save(ctx context.Context, instance flow.FlowInstance) error {
	*r.ops = append(*r.ops, "save")
	return r.MemoryInstanceRepository.Save(ctx, instance)
}

// concurrencyGauge mide cuántas operaciones del pipeline corren a la vez
type concurrencyGauge struct {
	mu     sync.Mutex
	active int
	max    int
}

func (g *concurrencyGauge) enter() {
	g.mu.Lock()
	g.active++
	if g.active > g.max {
		g.max = g.active
	}
	g.mu.Unlock()
}

func (g *concurrencyGauge) exit() {
	g.mu.Lock()
	g.active--
	g.mu.Unlock()
}

func (g *concurrencyGauge) peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}

type gaugedInstanceRepo struct {
	*flowinfra.MemoryInstanceRepository
	gauge *concurrencyGauge
}

func (r *gaugedInstanceRepo) Save(ctx context.Context, instance flow.FlowInstance) error {
	r.gauge.enter()
	defer r.gauge.exit()
	time.Sleep(2 * time.Millisecond)
	return r.MemoryInstanceRepository.Save(ctx, instance)
}

type gaugedDispatcher struct {
	gauge *concurrencyGauge
}

func (d *gaugedDispatcher) Dispatch(ctx context.Context, effects []flow.Effect) error {
	d.gauge.enter()
	defer d.gauge.exit()
	time.Sleep(2 * time.Millisecond)
	return nil
}

// ============================================================================
// Fixture
// ============================================================================

type processorFixture struct {
	processor  *MessageProcessor
	flows      *flowinfra.MemoryFlowRepository
	instances  *trackingInstanceRepo
	scheduler  *fakeScheduler
	dispatcher *fakeDispatcher
	ops        []string
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	fx := &processorFixture{
		flows: flowinfra.NewMemoryFlowRepository(),
	}
	fx.instances = &trackingInstanceRepo{
		MemoryInstanceRepository: flowinfra.NewMemoryInstanceRepository(),
		ops:                      &fx.ops,
	}
	fx.scheduler = newFakeScheduler(&fx.ops)
	fx.dispatcher = &fakeDispatcher{ops: &fx.ops}

	dedup := flowinfra.NewMemoryDedupRepository()
	engine := flowexec.NewDefaultEngine(fx.flows, dedup, nil, nil, nil, nil)
	fx.processor = NewMessageProcessor(
		fx.flows, fx.instances, dedup, engine, fx.scheduler, fx.dispatcher,
		&fakeSeeder{vars: map[string]string{"name": "Ana"}})
	return fx
}

func (fx *processorFixture) saveFlow(t *testing.T, f *flow.Flow) {
	t.Helper()
	require.NoError(t, fx.flows.Save(context.Background(), *f))
}

func (fx *processorFixture) inProgress(t *testing.T) *flow.FlowInstance {
	t.Helper()
	instance, err := fx.instances.FindInProgressByLead(context.Background(), testLead)
	require.NoError(t, err)
	return instance
}

func inbound(id, text string) flow.InboundMessage {
	return flow.InboundMessage{
		MessageID:  kernel.NewMessageID(id),
		LeadID:     testLead,
		Text:       text,
		ReceivedAt: time.Now(),
	}
}

func askFlow(id, keyword string) *flow.Flow {
	return &flow.Flow{
		ID:              kernel.NewFlowID(id),
		Name:            id,
		Version:         1,
		TriggerKeywords: []string{keyword},
		IsActive:        true,
		StartNodeID:     "greet",
		Nodes: []flow.Node{
			{ID: "greet", Kind: flow.NodeKindMessage, Config: map[string]any{"text": "Hola {{name}}"}},
			{ID: "ask", Kind: flow.NodeKindQuestion, Config: map[string]any{"text": "¿Zona de interés?", "variable_name": "zone"}},
		},
		Edges: []flow.Edge{
			{ID: "e1", SourceNodeID: "greet", SourcePort: flow.PortMain, TargetNodeID: "ask"},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func twoQuestionFlow(id, keyword string) *flow.Flow {
	return &flow.Flow{
		ID:              kernel.NewFlowID(id),
		Name:            id,
		Version:         1,
		TriggerKeywords: []string{keyword},
		IsActive:        true,
		StartNodeID:     "q1",
		Nodes: []flow.Node{
			{ID: "q1", Kind: flow.NodeKindQuestion, Config: map[string]any{"text": "¿Zona de interés?", "variable_name": "zone"}},
			{ID: "q2", Kind: flow.NodeKindQuestion, Config: map[string]any{"text": "¿Presupuesto?", "variable_name": "budget"}},
		},
		Edges: []flow.Edge{
			{ID: "e1", SourceNodeID: "q1", SourcePort: flow.PortMain, TargetNodeID: "q2"},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func waitFlow(id, keyword string) *flow.Flow {
	return &flow.Flow{
		ID:              kernel.NewFlowID(id),
		Name:            id,
		Version:         1,
		TriggerKeywords: []string{keyword},
		IsActive:        true,
		StartNodeID:     "pause",
		Nodes: []flow.Node{
			{ID: "pause", Kind: flow.NodeKindWait, Config: map[string]any{"relative_amount": 30, "unit": "minutes"}},
			{ID: "follow", Kind: flow.NodeKindMessage, Config: map[string]any{"text": "¿Sigues interesado?"}},
		},
		Edges: []flow.Edge{
			{ID: "e1", SourceNodeID: "pause", SourcePort: flow.PortMain, TargetNodeID: "follow"},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// ============================================================================
// Inbound messages
// ============================================================================

func TestProcessMessageStartsFlowOnKeyword(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.saveFlow(t, askFlow("welcome", "info"))

	require.NoError(t, fx.processor.ProcessMessage(context.Background(), inbound("m1", "info")))

	instance := fx.inProgress(t)
	require.NotNil(t, instance)
	assert.True(t, instance.IsAwaitingReply())
	assert.Equal(t, kernel.NodeID("ask"), instance.CursorNodeID)

	// Las variables del lead se sembraron antes de ejecutar el primer nodo
	effects := fx.dispatcher.allEffects()
	require.Len(t, effects, 2)
	assert.Equal(t, "Hola Ana", effects[0].(flow.SendMessageEffect).Text)
}

func TestProcessMessageIgnoresUnmatched(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.saveFlow(t, askFlow("welcome", "info"))

	require.NoError(t, fx.processor.ProcessMessage(context.Background(), inbound("m1", "buenas tardes")))

	assert.Nil(t, fx.inProgress(t))
	assert.Empty(t, fx.dispatcher.batches)
}

func TestProcessMessageResumePrecedesKeyword(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.saveFlow(t, askFlow("welcome", "info"))
	fx.saveFlow(t, askFlow("pricing", "precio"))

	require.NoError(t, fx.processor.ProcessMessage(context.Background(), inbound("m1", "info")))
	started := fx.inProgress(t)
	require.NotNil(t, started)

	// "precio" matchea otro flow, pero la instancia esperando respuesta
	// consume el mensaje como respuesta
	require.NoError(t, fx.processor.ProcessMessage(context.Background(), inbound("m2", "precio")))

	resumed, err := fx.instances.FindByID(context.Background(), started.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.InstanceStatusCompleted, resumed.Status)
	assert.Equal(t, "precio", resumed.Variables["zone"])
	assert.Nil(t, fx.inProgress(t))
}

func TestProcessMessageSupersedesTimerSleeper(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.saveFlow(t, waitFlow("followup", "seguimiento"))
	fx.saveFlow(t, askFlow("welcome", "info"))

	require.NoError(t, fx.processor.ProcessMessage(context.Background(), inbound("m1", "seguimiento")))
	sleeping := fx.inProgress(t)
	require.NotNil(t, sleeping)
	assert.Equal(t, flow.SuspendAwaitingTimer, sleeping.SuspendReason)
	assert.Contains(t, fx.scheduler.armed, sleeping.ID.String())

	// Un keyword nuevo supera a la instancia dormida: desarmar, archivar, arrancar
	require.NoError(t, fx.processor.ProcessMessage(context.Background(), inbound("m2", "info")))

	assert.Contains(t, fx.scheduler.disarmed, sleeping.ID.String())
	abandoned, err := fx.instances.FindByID(context.Background(), sleeping.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.InstanceStatusAbandoned, abandoned.Status)
	assert.Equal(t, 1, abandoned.Epoch)

	current := fx.inProgress(t)
	require.NotNil(t, current)
	assert.Equal(t, kernel.NewFlowID("welcome"), current.FlowID)
}

func TestProcessMessageRedeliveryIsNoop(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.saveFlow(t, twoQuestionFlow("qualify", "info"))
	ctx := context.Background()

	require.NoError(t, fx.processor.ProcessMessage(ctx, inbound("m1", "info")))
	require.NoError(t, fx.processor.ProcessMessage(ctx, inbound("m2", "norte")))

	instance := fx.inProgress(t)
	require.NotNil(t, instance)
	assert.Equal(t, kernel.NodeID("q2"), instance.CursorNodeID)
	assert.Equal(t, "norte", instance.Variables["zone"])

	dispatchedBefore := len(fx.dispatcher.batches)
	opsBefore := len(fx.ops)

	// El transporte reentrega el mismo mensaje: ni el prompt de q2 ni el
	// sync al CRM salen una segunda vez
	require.NoError(t, fx.processor.ProcessMessage(ctx, inbound("m2", "norte")))

	assert.Len(t, fx.dispatcher.batches, dispatchedBefore)
	assert.Len(t, fx.ops, opsBefore)

	after := fx.inProgress(t)
	require.NotNil(t, after)
	assert.Equal(t, kernel.NodeID("q2"), after.CursorNodeID)
	assert.Equal(t, instance.UpdatedAt, after.UpdatedAt)
}

func TestProcessMessageSerializesPerLead(t *testing.T) {
	gauge := &concurrencyGauge{}
	flows := flowinfra.NewMemoryFlowRepository()
	instances := &gaugedInstanceRepo{
		MemoryInstanceRepository: flowinfra.NewMemoryInstanceRepository(),
		gauge:                    gauge,
	}
	dedup := flowinfra.NewMemoryDedupRepository()
	engine := flowexec.NewDefaultEngine(flows, dedup, nil, nil, nil, nil)
	var schedOps []string
	processor := NewMessageProcessor(
		flows, instances, dedup, engine, newFakeScheduler(&schedOps),
		&gaugedDispatcher{gauge: gauge}, nil)

	ctx := context.Background()
	require.NoError(t, flows.Save(ctx, *twoQuestionFlow("qualify", "info")))
	require.NoError(t, processor.ProcessMessage(ctx, inbound("m1", "info")))

	started, err := instances.FindInProgressByLead(ctx, testLead)
	require.NoError(t, err)
	require.NotNil(t, started)

	// Dos respuestas del mismo lead en paralelo: el lock por lead debe
	// serializarlas, una contesta q1 y la otra q2
	var wg sync.WaitGroup
	for _, msg := range []flow.InboundMessage{inbound("m2", "norte"), inbound("m3", "3M")} {
		wg.Add(1)
		go func(m flow.InboundMessage) {
			defer wg.Done()
			assert.NoError(t, processor.ProcessMessage(context.Background(), m))
		}(msg)
	}
	wg.Wait()

	assert.Equal(t, 1, gauge.peak())

	final, err := instances.FindByID(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.InstanceStatusCompleted, final.Status)

	// El orden de llegada no es determinista, pero ambas respuestas quedan
	// capturadas en variables distintas
	got := []string{final.Variables["zone"], final.Variables["budget"]}
	sort.Strings(got)
	assert.Equal(t, []string{"3M", "norte"}, got)
}

func TestProcessMessagePersistsBeforeDispatching(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.saveFlow(t, waitFlow("followup", "seguimiento"))

	require.NoError(t, fx.processor.ProcessMessage(context.Background(), inbound("m1", "seguimiento")))

	// Orden estricto: persistir, armar el timer y recién entonces despachar.
	// Acá la instancia durmió sin efectos, así que no hay dispatch.
	assert.Equal(t, []string{"save", "arm"}, fx.ops)
}

// ============================================================================
// Timer wakes
// ============================================================================

func TestOnTimerFiredAdvancesSleeper(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.saveFlow(t, waitFlow("followup", "seguimiento"))

	require.NoError(t, fx.processor.ProcessMessage(context.Background(), inbound("m1", "seguimiento")))
	sleeping := fx.inProgress(t)
	require.NotNil(t, sleeping)

	fired := flow.TimerFired{
		InstanceID: sleeping.ID,
		Epoch:      sleeping.Epoch,
		WakeAt:     *sleeping.WakeAt,
		FiredAt:    time.Now(),
	}
	require.NoError(t, fx.processor.OnTimerFired(context.Background(), fired))

	woken, err := fx.instances.FindByID(context.Background(), sleeping.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.InstanceStatusCompleted, woken.Status)

	effects := fx.dispatcher.allEffects()
	require.Len(t, effects, 1)
	assert.Equal(t, "¿Sigues interesado?", effects[0].(flow.SendMessageEffect).Text)
}

func TestOnTimerFiredStaleIsNoop(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.saveFlow(t, waitFlow("followup", "seguimiento"))
	fx.saveFlow(t, askFlow("welcome", "info"))

	require.NoError(t, fx.processor.ProcessMessage(context.Background(), inbound("m1", "seguimiento")))
	sleeping := fx.inProgress(t)
	require.NotNil(t, sleeping)
	wakeAt := *sleeping.WakeAt

	// La instancia dormida es superada antes de que el timer dispare
	require.NoError(t, fx.processor.ProcessMessage(context.Background(), inbound("m2", "info")))
	dispatchedBefore := len(fx.dispatcher.batches)

	fired := flow.TimerFired{
		InstanceID: sleeping.ID,
		Epoch:      sleeping.Epoch,
		WakeAt:     wakeAt,
		FiredAt:    time.Now(),
	}
	require.NoError(t, fx.processor.OnTimerFired(context.Background(), fired))

	// No-op: nada nuevo se despachó y la instancia sigue archivada
	assert.Len(t, fx.dispatcher.batches, dispatchedBefore)
	archived, err := fx.instances.FindByID(context.Background(), sleeping.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.InstanceStatusAbandoned, archived.Status)
}

func TestOnTimerFiredUnknownInstanceIsNoop(t *testing.T) {
	fx := newProcessorFixture(t)

	fired := flow.TimerFired{
		InstanceID: kernel.NewInstanceID("ghost"),
		Epoch:      0,
		WakeAt:     time.Now(),
		FiredAt:    time.Now(),
	}
	assert.NoError(t, fx.processor.OnTimerFired(context.Background(), fired))
}

// ============================================================================
// Explicit starts
// ============================================================================

func TestStartFlowForLead(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.saveFlow(t, askFlow("welcome", "info"))
	fx.saveFlow(t, askFlow("pricing", "precio"))

	t.Run("cancels the in-progress instance", func(t *testing.T) {
		require.NoError(t, fx.processor.ProcessMessage(context.Background(), inbound("m1", "info")))
		previous := fx.inProgress(t)
		require.NotNil(t, previous)

		trigger := flow.NewMessageTrigger(inbound("op-1", ""))
		require.NoError(t, fx.processor.StartFlowForLead(
			context.Background(), kernel.NewFlowID("pricing"), testLead, trigger))

		archived, err := fx.instances.FindByID(context.Background(), previous.ID)
		require.NoError(t, err)
		assert.Equal(t, flow.InstanceStatusAbandoned, archived.Status)

		current := fx.inProgress(t)
		require.NotNil(t, current)
		assert.Equal(t, kernel.NewFlowID("pricing"), current.FlowID)
	})

	t.Run("rejects unknown flow", func(t *testing.T) {
		trigger := flow.NewMessageTrigger(inbound("op-2", ""))
		err := fx.processor.StartFlowForLead(
			context.Background(), kernel.NewFlowID("ghost"), testLead, trigger)
		assert.Error(t, err)
	})

	t.Run("rejects inactive flow", func(t *testing.T) {
		f := askFlow("dormant", "zzz")
		f.IsActive = false
		fx.saveFlow(t, f)

		trigger := flow.NewMessageTrigger(inbound("op-3", ""))
		err := fx.processor.StartFlowForLead(
			context.Background(), kernel.NewFlowID("dormant"), testLead, trigger)
		assert.Error(t, err)
	})
}
