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
	"github.com/lib/pq"
)

// PostgresFlowRepository persistencia de flows sobre Postgres. La clave
// primaria es (id, version): publicar una edición inserta una fila nueva y
// las instancias ancladas siguen resolviendo su versión original.
type PostgresFlowRepository struct {
	db *sqlx.DB
}

var _ flow.FlowRepository = (*PostgresFlowRepository)(nil)

func NewPostgresFlowRepository(db *sqlx.DB) *PostgresFlowRepository {
	return &PostgresFlowRepository{db: db}
}

// dbFlow is an intermediate struct for database operations
type dbFlow struct {
	ID              string          `db:"id"`
	Name            string          `db:"name"`
	Version         int             `db:"version"`
	TriggerKeywords pq.StringArray  `db:"trigger_keywords"`
	IsActive        bool            `db:"is_active"`
	StartNodeID     string          `db:"start_node_id"`
	Nodes           json.RawMessage `db:"nodes"`
	Edges           json.RawMessage `db:"edges"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
	PublishedAt     sql.NullTime    `db:"published_at"`
}

func toDBFlow(f flow.Flow) (*dbFlow, error) {
	nodesJSON, err := json.Marshal(f.Nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(f.Edges)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal edges: %w", err)
	}

	dbF := &dbFlow{
		ID:              f.ID.String(),
		Name:            f.Name,
		Version:         f.Version,
		TriggerKeywords: pq.StringArray(f.TriggerKeywords),
		IsActive:        f.IsActive,
		StartNodeID:     f.StartNodeID.String(),
		Nodes:           nodesJSON,
		Edges:           edgesJSON,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
	if f.PublishedAt != nil {
		dbF.PublishedAt = sql.NullTime{Time: *f.PublishedAt, Valid: true}
	}
	return dbF, nil
}

func toDomainFlow(dbF *dbFlow) (*flow.Flow, error) {
	var nodes []flow.Node
	if len(dbF.Nodes) > 0 && string(dbF.Nodes) != "null" {
		if err := json.Unmarshal(dbF.Nodes, &nodes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
		}
	}
	var edges []flow.Edge
	if len(dbF.Edges) > 0 && string(dbF.Edges) != "null" {
		if err := json.Unmarshal(dbF.Edges, &edges); err != nil {
			return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
		}
	}

	f := &flow.Flow{
		ID:              kernel.FlowID(dbF.ID),
		Name:            dbF.Name,
		Version:         dbF.Version,
		TriggerKeywords: []string(dbF.TriggerKeywords),
		IsActive:        dbF.IsActive,
		StartNodeID:     kernel.NodeID(dbF.StartNodeID),
		Nodes:           nodes,
		Edges:           edges,
		CreatedAt:       dbF.CreatedAt,
		UpdatedAt:       dbF.UpdatedAt,
	}
	if dbF.PublishedAt.Valid {
		t := dbF.PublishedAt.Time
		f.PublishedAt = &t
	}
	return f, nil
}

const flowColumns = `
	id, name, version, trigger_keywords, is_active, start_node_id,
	nodes, edges, created_at, updated_at, published_at`

func (r *PostgresFlowRepository) Save(ctx context.Context, f flow.Flow) error {
	dbF, err := toDBFlow(f)
	if err != nil {
		return errx.Wrap(err, "failed to convert flow", errx.TypeInternal).
			WithDetail("flow_id", f.ID.String())
	}

	query := `
		INSERT INTO flows (
			id, name, version, trigger_keywords, is_active, start_node_id,
			nodes, edges, created_at, updated_at, published_at
		) VALUES (
			:id, :name, :version, :trigger_keywords, :is_active, :start_node_id,
			:nodes, :edges, :created_at, :updated_at, :published_at
		)
		ON CONFLICT (id, version) DO UPDATE SET
			name = EXCLUDED.name,
			trigger_keywords = EXCLUDED.trigger_keywords,
			is_active = EXCLUDED.is_active,
			start_node_id = EXCLUDED.start_node_id,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at`

	_, err = r.db.NamedExecContext(ctx, query, dbF)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" && pqErr.Constraint == "flows_name_version_key" {
				return flow.ErrFlowAlreadyExists().
					WithDetail("name", f.Name).
					WithDetail("version", fmt.Sprintf("%d", f.Version))
			}
		}
		return errx.Wrap(err, "failed to save flow", errx.TypeInternal).
			WithDetail("flow_id", f.ID.String())
	}
	return nil
}

// FindByID retorna la última versión publicada del flow
func (r *PostgresFlowRepository) FindByID(ctx context.Context, id kernel.FlowID) (*flow.Flow, error) {
	query := `
		SELECT ` + flowColumns + `
		FROM flows
		WHERE id = $1
		ORDER BY version DESC
		LIMIT 1`

	var dbF dbFlow
	err := r.db.GetContext(ctx, &dbF, query, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, flow.ErrFlowNotFound().WithDetail("flow_id", id.String())
		}
		return nil, errx.Wrap(err, "failed to find flow by id", errx.TypeInternal).
			WithDetail("flow_id", id.String())
	}
	return toDomainFlow(&dbF)
}

func (r *PostgresFlowRepository) FindByIDAndVersion(ctx context.Context, id kernel.FlowID, version int) (*flow.Flow, error) {
	query := `
		SELECT ` + flowColumns + `
		FROM flows
		WHERE id = $1 AND version = $2`

	var dbF dbFlow
	err := r.db.GetContext(ctx, &dbF, query, id.String(), version)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, flow.ErrFlowNotFound().
				WithDetail("flow_id", id.String()).
				WithDetail("version", fmt.Sprintf("%d", version))
		}
		return nil, errx.Wrap(err, "failed to find flow version", errx.TypeInternal).
			WithDetail("flow_id", id.String())
	}
	return toDomainFlow(&dbF)
}

func (r *PostgresFlowRepository) FindActive(ctx context.Context) ([]*flow.Flow, error) {
	query := `
		SELECT ` + flowColumns + `
		FROM flows
		WHERE is_active = true
		ORDER BY name`

	var dbFlows []dbFlow
	if err := r.db.SelectContext(ctx, &dbFlows, query); err != nil {
		return nil, errx.Wrap(err, "failed to find active flows", errx.TypeInternal)
	}

	flows := make([]*flow.Flow, 0, len(dbFlows))
	for i := range dbFlows {
		f, err := toDomainFlow(&dbFlows[i])
		if err != nil {
			return nil, errx.Wrap(err, "failed to convert flow", errx.TypeInternal)
		}
		flows = append(flows, f)
	}
	return flows, nil
}

// FindByName retorna la última versión del flow con ese nombre
func (r *PostgresFlowRepository) FindByName(ctx context.Context, name string) (*flow.Flow, error) {
	query := `
		SELECT ` + flowColumns + `
		FROM flows
		WHERE name = $1
		ORDER BY version DESC
		LIMIT 1`

	var dbF dbFlow
	err := r.db.GetContext(ctx, &dbF, query, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, flow.ErrFlowNotFound().WithDetail("name", name)
		}
		return nil, errx.Wrap(err, "failed to find flow by name", errx.TypeInternal).
			WithDetail("name", name)
	}
	return toDomainFlow(&dbF)
}

func (r *PostgresFlowRepository) Delete(ctx context.Context, id kernel.FlowID) error {
	query := `DELETE FROM flows WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id.String())
	if err != nil {
		return errx.Wrap(err, "failed to delete flow", errx.TypeInternal).
			WithDetail("flow_id", id.String())
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if rowsAffected == 0 {
		return flow.ErrFlowNotFound().WithDetail("flow_id", id.String())
	}
	return nil
}

// List pagina las últimas versiones, con filtros opcionales
func (r *PostgresFlowRepository) List(ctx context.Context, req flow.FlowListRequest) (flow.FlowListResponse, error) {
	where := `WHERE (id, version) IN (SELECT id, MAX(version) FROM flows GROUP BY id)`
	args := []any{}
	argPos := 1

	if req.IsActive != nil {
		where += fmt.Sprintf(" AND is_active = $%d", argPos)
		args = append(args, *req.IsActive)
		argPos++
	}
	if req.Search != "" {
		where += fmt.Sprintf(" AND name ILIKE $%d", argPos)
		args = append(args, "%"+req.Search+"%")
		argPos++
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM flows ` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return flow.FlowListResponse{}, errx.Wrap(err, "failed to count flows", errx.TypeInternal)
	}

	query := `SELECT ` + flowColumns + ` FROM flows ` + where +
		fmt.Sprintf(" ORDER BY name LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, req.PageSize, req.GetOffset())

	var dbFlows []dbFlow
	if err := r.db.SelectContext(ctx, &dbFlows, query, args...); err != nil {
		return flow.FlowListResponse{}, errx.Wrap(err, "failed to list flows", errx.TypeInternal)
	}

	flows := make([]flow.Flow, 0, len(dbFlows))
	for i := range dbFlows {
		f, err := toDomainFlow(&dbFlows[i])
		if err != nil {
			return flow.FlowListResponse{}, errx.Wrap(err, "failed to convert flow", errx.TypeInternal)
		}
		flows = append(flows, *f)
	}

	return storex.NewPaginated(flows, total, req.Page, req.PageSize), nil
}
