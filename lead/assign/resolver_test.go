package assign

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/lead"
	"github.com/inmobot/leadflow/lead/leadinfra"
	"github.com/inmobot/leadflow/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLead = kernel.LeadID("lead-1")

func newTestResolver(t *testing.T) (*Resolver, *leadinfra.MemoryAdvisorRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	advisors := leadinfra.NewMemoryAdvisorRepository()
	return NewResolver(advisors, client), advisors
}

func saveAdvisor(t *testing.T, repo *leadinfra.MemoryAdvisorRepository, id string, available bool, share float64, assigned int) {
	t.Helper()
	require.NoError(t, repo.Save(context.Background(), lead.Advisor{
		ID:            kernel.AdvisorID(id),
		Name:          "Asesor " + id,
		IsAvailable:   available,
		TargetShare:   share,
		AssignedCount: assigned,
	}))
}

func TestResolverRoundRobin(t *testing.T) {
	resolver, advisors := newTestResolver(t)
	ctx := context.Background()
	saveAdvisor(t, advisors, "adv-a", true, 0.5, 0)
	saveAdvisor(t, advisors, "adv-b", true, 0.5, 0)
	saveAdvisor(t, advisors, "adv-off", false, 0.5, 0)

	// La rotación alterna entre los disponibles, nunca el no disponible
	var picks []string
	for i := 0; i < 4; i++ {
		advisorID, ok, err := resolver.Resolve(ctx, flow.StrategyRoundRobin, "", testLead)
		require.NoError(t, err)
		require.True(t, ok)
		picks = append(picks, advisorID.String())
	}
	assert.Equal(t, []string{"adv-b", "adv-a", "adv-b", "adv-a"}, picks)

	// Cada asignación incrementa el contador del elegido
	a, err := advisors.FindByID(ctx, "adv-a")
	require.NoError(t, err)
	assert.Equal(t, 2, a.AssignedCount)
}

func TestResolverRoundRobinNoAdvisors(t *testing.T) {
	resolver, advisors := newTestResolver(t)
	saveAdvisor(t, advisors, "adv-off", false, 0.5, 0)

	advisorID, ok, err := resolver.Resolve(context.Background(), flow.StrategyRoundRobin, "", testLead)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, advisorID.String())
}

func TestResolverQuotaDeficit(t *testing.T) {
	resolver, advisors := newTestResolver(t)
	ctx := context.Background()

	// adv-a debería tener el 70% pero sólo tiene 2 de 10: el mayor déficit
	saveAdvisor(t, advisors, "adv-a", true, 0.7, 2)
	saveAdvisor(t, advisors, "adv-b", true, 0.3, 8)

	advisorID, ok, err := resolver.Resolve(ctx, flow.StrategyQuotaDeficit, "", testLead)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, kernel.AdvisorID("adv-a"), advisorID)
}

func TestResolverManual(t *testing.T) {
	t.Run("picks the preselected advisor", func(t *testing.T) {
		resolver, advisors := newTestResolver(t)
		saveAdvisor(t, advisors, "adv-m", true, 0.5, 0)

		advisorID, ok, err := resolver.Resolve(context.Background(), flow.StrategyManual, "adv-m", testLead)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, kernel.AdvisorID("adv-m"), advisorID)
	})

	t.Run("unknown advisor degrades instead of substituting", func(t *testing.T) {
		resolver, _ := newTestResolver(t)

		_, ok, err := resolver.Resolve(context.Background(), flow.StrategyManual, "ghost", testLead)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unavailable advisor degrades", func(t *testing.T) {
		resolver, advisors := newTestResolver(t)
		saveAdvisor(t, advisors, "adv-m", false, 0.5, 0)

		_, ok, err := resolver.Resolve(context.Background(), flow.StrategyManual, "adv-m", testLead)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestResolverUnknownStrategy(t *testing.T) {
	resolver, _ := newTestResolver(t)

	_, _, err := resolver.Resolve(context.Background(), flow.AssignStrategy("COIN_FLIP"), "", testLead)
	assert.Error(t, err)
}
