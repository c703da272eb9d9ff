package flowinfra

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/Abraxas-365/craftable/storex"
	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/pkg/kernel"
	"github.com/jmoiron/sqlx"
)

type PostgresInstanceRepository struct {
	db *sqlx.DB
}

var _ flow.InstanceRepository = (*PostgresInstanceRepository)(nil)

func NewPostgresInstanceRepository(db *sqlx.DB) *PostgresInstanceRepository {
	return &PostgresInstanceRepository{db: db}
}

// dbInstance is an intermediate struct for database operations
type dbInstance struct {
	ID            string          `db:"id"`
	LeadID        string          `db:"lead_id"`
	FlowID        string          `db:"flow_id"`
	FlowVersion   int             `db:"flow_version"`
	Epoch         int             `db:"epoch"`
	CursorNodeID  string          `db:"cursor_node_id"`
	Status        string          `db:"status"`
	SuspendReason sql.NullString  `db:"suspend_reason"`
	FailReason    sql.NullString  `db:"fail_reason"`
	FailDetail    sql.NullString  `db:"fail_detail"`
	Variables     json.RawMessage `db:"variables"`
	WakeAt        sql.NullTime    `db:"wake_at"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func toDBInstance(instance flow.FlowInstance) (*dbInstance, error) {
	variablesJSON := []byte("{}")
	if len(instance.Variables) > 0 {
		var err error
		variablesJSON, err = json.Marshal(instance.Variables)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal variables: %w", err)
		}
	}

	dbI := &dbInstance{
		ID:           instance.ID.String(),
		LeadID:       instance.LeadID.String(),
		FlowID:       instance.FlowID.String(),
		FlowVersion:  instance.FlowVersion,
		Epoch:        instance.Epoch,
		CursorNodeID: instance.CursorNodeID.String(),
		Status:       string(instance.Status),
		Variables:    variablesJSON,
		CreatedAt:    instance.CreatedAt,
		UpdatedAt:    instance.UpdatedAt,
	}
	if instance.SuspendReason != "" {
		dbI.SuspendReason = sql.NullString{String: string(instance.SuspendReason), Valid: true}
	}
	if instance.FailReason != "" {
		dbI.FailReason = sql.NullString{String: string(instance.FailReason), Valid: true}
	}
	if instance.FailDetail != "" {
		dbI.FailDetail = sql.NullString{String: instance.FailDetail, Valid: true}
	}
	if instance.WakeAt != nil {
		dbI.WakeAt = sql.NullTime{Time: *instance.WakeAt, Valid: true}
	}
	return dbI, nil
}

func toDomainInstance(dbI *dbInstance) (*flow.FlowInstance, error) {
	variables := map[string]string{}
	if len(dbI.Variables) > 0 && string(dbI.Variables) != "null" {
		if err := json.Unmarshal(dbI.Variables, &variables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
		}
	}

	instance := &flow.FlowInstance{
		ID:           kernel.InstanceID(dbI.ID),
		LeadID:       kernel.LeadID(dbI.LeadID),
		FlowID:       kernel.FlowID(dbI.FlowID),
		FlowVersion:  dbI.FlowVersion,
		Epoch:        dbI.Epoch,
		CursorNodeID: kernel.NodeID(dbI.CursorNodeID),
		Status:       flow.InstanceStatus(dbI.Status),
		Variables:    variables,
		CreatedAt:    dbI.CreatedAt,
		UpdatedAt:    dbI.UpdatedAt,
	}
	if dbI.SuspendReason.Valid {
		instance.SuspendReason = flow.SuspendReason(dbI.SuspendReason.String)
	}
	if dbI.FailReason.Valid {
		instance.FailReason = flow.FailReason(dbI.FailReason.String)
	}
	if dbI.FailDetail.Valid {
		instance.FailDetail = dbI.FailDetail.String
	}
	if dbI.WakeAt.Valid {
		t := dbI.WakeAt.Time
		instance.WakeAt = &t
	}
	return instance, nil
}

const instanceColumns = `
	id, lead_id, flow_id, flow_version, epoch, cursor_node_id, status,
	suspend_reason, fail_reason, fail_detail, variables, wake_at,
	created_at, updated_at`

func (r *PostgresInstanceRepository) Save(ctx context.Context, instance flow.FlowInstance) error {
	dbI, err := toDBInstance(instance)
	if err != nil {
		return errx.Wrap(err, "failed to convert instance", errx.TypeInternal).
			WithDetail("instance_id", instance.ID.String())
	}

	query := `
		INSERT INTO flow_instances (
			id, lead_id, flow_id, flow_version, epoch, cursor_node_id, status,
			suspend_reason, fail_reason, fail_detail, variables, wake_at,
			created_at, updated_at
		) VALUES (
			:id, :lead_id, :flow_id, :flow_version, :epoch, :cursor_node_id, :status,
			:suspend_reason, :fail_reason, :fail_detail, :variables, :wake_at,
			:created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			epoch = EXCLUDED.epoch,
			cursor_node_id = EXCLUDED.cursor_node_id,
			status = EXCLUDED.status,
			suspend_reason = EXCLUDED.suspend_reason,
			fail_reason = EXCLUDED.fail_reason,
			fail_detail = EXCLUDED.fail_detail,
			variables = EXCLUDED.variables,
			wake_at = EXCLUDED.wake_at,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, dbI); err != nil {
		return errx.Wrap(err, "failed to save instance", errx.TypeInternal).
			WithDetail("instance_id", instance.ID.String())
	}
	return nil
}

func (r *PostgresInstanceRepository) FindByID(ctx context.Context, id kernel.InstanceID) (*flow.FlowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM flow_instances
		WHERE id = $1`

	var dbI dbInstance
	err := r.db.GetContext(ctx, &dbI, query, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, flow.ErrInstanceNotFound().WithDetail("instance_id", id.String())
		}
		return nil, errx.Wrap(err, "failed to find instance by id", errx.TypeInternal).
			WithDetail("instance_id", id.String())
	}
	return toDomainInstance(&dbI)
}

// FindInProgressByLead retorna la instancia viva del lead, o nil si no hay
func (r *PostgresInstanceRepository) FindInProgressByLead(ctx context.Context, leadID kernel.LeadID) (*flow.FlowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM flow_instances
		WHERE lead_id = $1 AND status IN ('RUNNING', 'SUSPENDED')
		ORDER BY updated_at DESC
		LIMIT 1`

	var dbI dbInstance
	err := r.db.GetContext(ctx, &dbI, query, leadID.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to find in-progress instance", errx.TypeInternal).
			WithDetail("lead_id", leadID.String())
	}
	return toDomainInstance(&dbI)
}

func (r *PostgresInstanceRepository) FindByLeadAndFlow(ctx context.Context, leadID kernel.LeadID, flowID kernel.FlowID) (*flow.FlowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM flow_instances
		WHERE lead_id = $1 AND flow_id = $2
		ORDER BY updated_at DESC
		LIMIT 1`

	var dbI dbInstance
	err := r.db.GetContext(ctx, &dbI, query, leadID.String(), flowID.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, flow.ErrInstanceNotFound().
				WithDetail("lead_id", leadID.String()).
				WithDetail("flow_id", flowID.String())
		}
		return nil, errx.Wrap(err, "failed to find instance by lead and flow", errx.TypeInternal)
	}
	return toDomainInstance(&dbI)
}

// FindFailed retorna las instancias fallidas preservadas para inspección
func (r *PostgresInstanceRepository) FindFailed(ctx context.Context) ([]*flow.FlowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM flow_instances
		WHERE status = 'FAILED'
		ORDER BY updated_at DESC`

	var dbInstances []dbInstance
	if err := r.db.SelectContext(ctx, &dbInstances, query); err != nil {
		return nil, errx.Wrap(err, "failed to find failed instances", errx.TypeInternal)
	}

	instances := make([]*flow.FlowInstance, 0, len(dbInstances))
	for i := range dbInstances {
		instance, err := toDomainInstance(&dbInstances[i])
		if err != nil {
			return nil, errx.Wrap(err, "failed to convert instance", errx.TypeInternal)
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

func (r *PostgresInstanceRepository) List(ctx context.Context, req flow.InstanceListRequest) (flow.InstanceListResponse, error) {
	where := "WHERE 1=1"
	args := []any{}
	argPos := 1

	if !req.LeadID.IsEmpty() {
		where += fmt.Sprintf(" AND lead_id = $%d", argPos)
		args = append(args, req.LeadID.String())
		argPos++
	}
	if !req.FlowID.IsEmpty() {
		where += fmt.Sprintf(" AND flow_id = $%d", argPos)
		args = append(args, req.FlowID.String())
		argPos++
	}
	if req.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(req.Status))
		argPos++
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM flow_instances ` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return flow.InstanceListResponse{}, errx.Wrap(err, "failed to count instances", errx.TypeInternal)
	}

	query := `SELECT ` + instanceColumns + ` FROM flow_instances ` + where +
		fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, req.PageSize, req.GetOffset())

	var dbInstances []dbInstance
	if err := r.db.SelectContext(ctx, &dbInstances, query, args...); err != nil {
		return flow.InstanceListResponse{}, errx.Wrap(err, "failed to list instances", errx.TypeInternal)
	}

	instances := make([]flow.FlowInstance, 0, len(dbInstances))
	for i := range dbInstances {
		instance, err := toDomainInstance(&dbInstances[i])
		if err != nil {
			return flow.InstanceListResponse{}, errx.Wrap(err, "failed to convert instance", errx.TypeInternal)
		}
		instances = append(instances, *instance)
	}

	return storex.NewPaginated(instances, total, req.Page, req.PageSize), nil
}

// DeleteArchivedBefore borra instancias terminales viejas
func (r *PostgresInstanceRepository) DeleteArchivedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM flow_instances
		WHERE status IN ('COMPLETED', 'ABANDONED') AND updated_at < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, errx.Wrap(err, "failed to delete archived instances", errx.TypeInternal)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	return int(rowsAffected), nil
}
