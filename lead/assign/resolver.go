package assign

import (
	"context"
	"log"
	"sort"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/go-redis/redis/v8"
	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/lead"
	"github.com/inmobot/leadflow/pkg/kernel"
)

const roundRobinCursorKey = "leadflow:assign:round_robin_cursor"

// Resolver implementa las estrategias de asignación de asesores. "Sin asesor
// disponible" es un resultado degradado (ok=false), nunca un error: el flow
// continúa y operaciones recibe la alerta.
type Resolver struct {
	advisors lead.AdvisorRepository
	redis    *redis.Client
}

var _ flow.AssignmentResolver = (*Resolver)(nil)

func NewResolver(advisors lead.AdvisorRepository, redisClient *redis.Client) *Resolver {
	return &Resolver{advisors: advisors, redis: redisClient}
}

func (r *Resolver) Resolve(
	ctx context.Context,
	strategy flow.AssignStrategy,
	manualAdvisorID string,
	leadID kernel.LeadID,
) (kernel.AdvisorID, bool, error) {
	var advisor *lead.Advisor
	var err error

	switch strategy {
	case flow.StrategyRoundRobin:
		advisor, err = r.roundRobin(ctx)
	case flow.StrategyQuotaDeficit:
		advisor, err = r.quotaDeficit(ctx)
	case flow.StrategyManual:
		advisor, err = r.manual(ctx, manualAdvisorID)
	default:
		return "", false, errx.New("unknown assignment strategy", errx.TypeValidation).
			WithDetail("strategy", string(strategy))
	}
	if err != nil {
		return "", false, err
	}
	if advisor == nil {
		return "", false, nil
	}

	if err := r.advisors.IncrementAssigned(ctx, advisor.ID); err != nil {
		log.Printf("⚠️  Failed to bump assigned count for advisor %s: %v", advisor.ID, err)
	}
	return advisor.ID, true, nil
}

// roundRobin rota sobre los asesores disponibles; el cursor vive en Redis
// para que la rotación sobreviva reinicios y se comparta entre réplicas
func (r *Resolver) roundRobin(ctx context.Context) (*lead.Advisor, error) {
	available, err := r.availableSorted(ctx)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, nil
	}

	cursor, err := r.redis.Incr(ctx, roundRobinCursorKey).Result()
	if err != nil {
		return nil, errx.Wrap(err, "failed to advance round-robin cursor", errx.TypeInternal)
	}
	return available[int(cursor)%len(available)], nil
}

// quotaDeficit elige al asesor más lejos por debajo de su cuota objetivo
func (r *Resolver) quotaDeficit(ctx context.Context) (*lead.Advisor, error) {
	available, err := r.availableSorted(ctx)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, nil
	}

	totalAssigned := 0
	for _, a := range available {
		totalAssigned += a.AssignedCount
	}

	var best *lead.Advisor
	bestDeficit := 0.0
	for _, a := range available {
		expected := a.TargetShare * float64(totalAssigned+1)
		deficit := expected - float64(a.AssignedCount)
		if best == nil || deficit > bestDeficit {
			best = a
			bestDeficit = deficit
		}
	}
	return best, nil
}

// manual usa el asesor preseleccionado; si ya no es válido o no está
// disponible retorna "ninguno" en lugar de sustituirlo en silencio
func (r *Resolver) manual(ctx context.Context, manualAdvisorID string) (*lead.Advisor, error) {
	if manualAdvisorID == "" {
		return nil, nil
	}

	advisor, err := r.advisors.FindByID(ctx, kernel.AdvisorID(manualAdvisorID))
	if err != nil {
		if errx.IsType(err, errx.TypeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !advisor.IsAvailable {
		return nil, nil
	}
	return advisor, nil
}

func (r *Resolver) availableSorted(ctx context.Context) ([]*lead.Advisor, error) {
	available, err := r.advisors.FindAvailable(ctx)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load available advisors", errx.TypeInternal)
	}
	// Orden estable para que la rotación sea determinista
	sort.Slice(available, func(i, j int) bool {
		return available[i].ID.String() < available[j].ID.String()
	})
	return available, nil
}
