package leadinfra

import (
	"context"
	"database/sql"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/inmobot/leadflow/lead"
	"github.com/inmobot/leadflow/pkg/kernel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ============================================================================
// Lead Repository
// ============================================================================

type PostgresLeadRepository struct {
	db *sqlx.DB
}

var _ lead.LeadRepository = (*PostgresLeadRepository)(nil)

func NewPostgresLeadRepository(db *sqlx.DB) *PostgresLeadRepository {
	return &PostgresLeadRepository{db: db}
}

// dbLead is an intermediate struct for database operations
type dbLead struct {
	ID                string         `db:"id"`
	Phone             string         `db:"phone"`
	Name              string         `db:"name"`
	Email             string         `db:"email"`
	Budget            string         `db:"budget"`
	Stage             string         `db:"stage"`
	Tags              pq.StringArray `db:"tags"`
	AssignedAdvisorID sql.NullString `db:"assigned_advisor_id"`
	CreatedAt         sql.NullTime   `db:"created_at"`
	UpdatedAt         sql.NullTime   `db:"updated_at"`
}

func toDomainLead(dbL *dbLead) *lead.Lead {
	l := &lead.Lead{
		ID:     kernel.LeadID(dbL.ID),
		Phone:  dbL.Phone,
		Name:   dbL.Name,
		Email:  dbL.Email,
		Budget: dbL.Budget,
		Stage:  dbL.Stage,
		Tags:   []string(dbL.Tags),
	}
	if dbL.AssignedAdvisorID.Valid {
		l.AssignedAdvisorID = kernel.AdvisorID(dbL.AssignedAdvisorID.String)
	}
	if dbL.CreatedAt.Valid {
		l.CreatedAt = dbL.CreatedAt.Time
	}
	if dbL.UpdatedAt.Valid {
		l.UpdatedAt = dbL.UpdatedAt.Time
	}
	return l
}

const leadColumns = `
	id, phone, name, email, budget, stage, tags, assigned_advisor_id,
	created_at, updated_at`

func (r *PostgresLeadRepository) Save(ctx context.Context, l lead.Lead) error {
	query := `
		INSERT INTO leads (
			id, phone, name, email, budget, stage, tags, assigned_advisor_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			phone = EXCLUDED.phone,
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			budget = EXCLUDED.budget,
			stage = EXCLUDED.stage,
			tags = EXCLUDED.tags,
			assigned_advisor_id = EXCLUDED.assigned_advisor_id,
			updated_at = EXCLUDED.updated_at`

	advisorID := sql.NullString{}
	if !l.AssignedAdvisorID.IsEmpty() {
		advisorID = sql.NullString{String: l.AssignedAdvisorID.String(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		l.ID.String(), l.Phone, l.Name, l.Email, l.Budget, l.Stage,
		pq.StringArray(l.Tags), advisorID, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return errx.Wrap(err, "failed to save lead", errx.TypeInternal).
			WithDetail("lead_id", l.ID.String())
	}
	return nil
}

func (r *PostgresLeadRepository) FindByID(ctx context.Context, id kernel.LeadID) (*lead.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`

	var dbL dbLead
	err := r.db.GetContext(ctx, &dbL, query, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, lead.ErrLeadNotFound().WithDetail("lead_id", id.String())
		}
		return nil, errx.Wrap(err, "failed to find lead by id", errx.TypeInternal).
			WithDetail("lead_id", id.String())
	}
	return toDomainLead(&dbL), nil
}

func (r *PostgresLeadRepository) FindByPhone(ctx context.Context, phone string) (*lead.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE phone = $1`

	var dbL dbLead
	err := r.db.GetContext(ctx, &dbL, query, phone)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, lead.ErrLeadNotFound().WithDetail("phone", phone)
		}
		return nil, errx.Wrap(err, "failed to find lead by phone", errx.TypeInternal).
			WithDetail("phone", phone)
	}
	return toDomainLead(&dbL), nil
}

// ============================================================================
// Advisor Repository
// ============================================================================

type PostgresAdvisorRepository struct {
	db *sqlx.DB
}

var _ lead.AdvisorRepository = (*PostgresAdvisorRepository)(nil)

func NewPostgresAdvisorRepository(db *sqlx.DB) *PostgresAdvisorRepository {
	return &PostgresAdvisorRepository{db: db}
}

type dbAdvisor struct {
	ID            string       `db:"id"`
	Name          string       `db:"name"`
	Phone         string       `db:"phone"`
	IsAvailable   bool         `db:"is_available"`
	TargetShare   float64      `db:"target_share"`
	AssignedCount int          `db:"assigned_count"`
	CreatedAt     sql.NullTime `db:"created_at"`
	UpdatedAt     sql.NullTime `db:"updated_at"`
}

func toDomainAdvisor(dbA *dbAdvisor) *lead.Advisor {
	a := &lead.Advisor{
		ID:            kernel.AdvisorID(dbA.ID),
		Name:          dbA.Name,
		Phone:         dbA.Phone,
		IsAvailable:   dbA.IsAvailable,
		TargetShare:   dbA.TargetShare,
		AssignedCount: dbA.AssignedCount,
	}
	if dbA.CreatedAt.Valid {
		a.CreatedAt = dbA.CreatedAt.Time
	}
	if dbA.UpdatedAt.Valid {
		a.UpdatedAt = dbA.UpdatedAt.Time
	}
	return a
}

func (r *PostgresAdvisorRepository) Save(ctx context.Context, a lead.Advisor) error {
	query := `
		INSERT INTO advisors (id, name, phone, is_available, target_share, assigned_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			is_available = EXCLUDED.is_available,
			target_share = EXCLUDED.target_share,
			assigned_count = EXCLUDED.assigned_count,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		a.ID.String(), a.Name, a.Phone, a.IsAvailable, a.TargetShare, a.AssignedCount,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return errx.Wrap(err, "failed to save advisor", errx.TypeInternal).
			WithDetail("advisor_id", a.ID.String())
	}
	return nil
}

func (r *PostgresAdvisorRepository) FindByID(ctx context.Context, id kernel.AdvisorID) (*lead.Advisor, error) {
	query := `
		SELECT id, name, phone, is_available, target_share, assigned_count, created_at, updated_at
		FROM advisors WHERE id = $1`

	var dbA dbAdvisor
	err := r.db.GetContext(ctx, &dbA, query, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, lead.ErrAdvisorNotFound().WithDetail("advisor_id", id.String())
		}
		return nil, errx.Wrap(err, "failed to find advisor", errx.TypeInternal).
			WithDetail("advisor_id", id.String())
	}
	return toDomainAdvisor(&dbA), nil
}

func (r *PostgresAdvisorRepository) FindAvailable(ctx context.Context) ([]*lead.Advisor, error) {
	query := `
		SELECT id, name, phone, is_available, target_share, assigned_count, created_at, updated_at
		FROM advisors WHERE is_available = true
		ORDER BY id`

	var dbAdvisors []dbAdvisor
	if err := r.db.SelectContext(ctx, &dbAdvisors, query); err != nil {
		return nil, errx.Wrap(err, "failed to find available advisors", errx.TypeInternal)
	}

	advisors := make([]*lead.Advisor, 0, len(dbAdvisors))
	for i := range dbAdvisors {
		advisors = append(advisors, toDomainAdvisor(&dbAdvisors[i]))
	}
	return advisors, nil
}

func (r *PostgresAdvisorRepository) IncrementAssigned(ctx context.Context, id kernel.AdvisorID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE advisors SET assigned_count = assigned_count + 1, updated_at = NOW() WHERE id = $1`,
		id.String(),
	)
	if err != nil {
		return errx.Wrap(err, "failed to increment assigned count", errx.TypeInternal).
			WithDetail("advisor_id", id.String())
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if rowsAffected == 0 {
		return lead.ErrAdvisorNotFound().WithDetail("advisor_id", id.String())
	}
	return nil
}

// ============================================================================
// Variable Repository
// ============================================================================

type PostgresVariableRepository struct {
	db *sqlx.DB
}

var _ lead.VariableRepository = (*PostgresVariableRepository)(nil)

func NewPostgresVariableRepository(db *sqlx.DB) *PostgresVariableRepository {
	return &PostgresVariableRepository{db: db}
}

type dbVariable struct {
	LeadID    string       `db:"lead_id"`
	Key       string       `db:"key"`
	Value     string       `db:"value"`
	UpdatedAt sql.NullTime `db:"updated_at"`
}

// Upsert last-writer-wins por (lead, key)
func (r *PostgresVariableRepository) Upsert(ctx context.Context, v lead.Variable) error {
	query := `
		INSERT INTO lead_variables (lead_id, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (lead_id, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
		WHERE lead_variables.updated_at <= EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query, v.LeadID.String(), v.Key, v.Value, v.UpdatedAt)
	if err != nil {
		return errx.Wrap(err, "failed to upsert variable", errx.TypeInternal).
			WithDetail("lead_id", v.LeadID.String()).
			WithDetail("key", v.Key)
	}
	return nil
}

func (r *PostgresVariableRepository) Find(ctx context.Context, leadID kernel.LeadID, key string) (*lead.Variable, error) {
	query := `SELECT lead_id, key, value, updated_at FROM lead_variables WHERE lead_id = $1 AND key = $2`

	var dbV dbVariable
	err := r.db.GetContext(ctx, &dbV, query, leadID.String(), key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to find variable", errx.TypeInternal).
			WithDetail("lead_id", leadID.String()).
			WithDetail("key", key)
	}

	v := &lead.Variable{
		LeadID: kernel.LeadID(dbV.LeadID),
		Key:    dbV.Key,
		Value:  dbV.Value,
	}
	if dbV.UpdatedAt.Valid {
		v.UpdatedAt = dbV.UpdatedAt.Time
	}
	return v, nil
}

func (r *PostgresVariableRepository) Snapshot(ctx context.Context, leadID kernel.LeadID) (map[string]string, error) {
	query := `SELECT lead_id, key, value, updated_at FROM lead_variables WHERE lead_id = $1`

	var dbVars []dbVariable
	if err := r.db.SelectContext(ctx, &dbVars, query, leadID.String()); err != nil {
		return nil, errx.Wrap(err, "failed to snapshot variables", errx.TypeInternal).
			WithDetail("lead_id", leadID.String())
	}

	snapshot := make(map[string]string, len(dbVars))
	for _, v := range dbVars {
		snapshot[v.Key] = v.Value
	}
	return snapshot, nil
}
