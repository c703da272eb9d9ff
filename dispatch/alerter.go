package dispatch

import (
	"context"
	"log"

	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/pkg/kernel"
)

// LogOpsAlerter deja las banderas de asignación degradada en el log del
// servicio para seguimiento manual
type LogOpsAlerter struct{}

var _ OpsAlerter = (*LogOpsAlerter)(nil)

func NewLogOpsAlerter() *LogOpsAlerter {
	return &LogOpsAlerter{}
}

func (a *LogOpsAlerter) AssignmentFailed(ctx context.Context, leadID kernel.LeadID, flowID kernel.FlowID, strategy flow.AssignStrategy) {
	log.Printf("🚨 [OPS] Unassigned lead %s: flow %s could not resolve an advisor (strategy %s)",
		leadID, flowID, strategy)
}
