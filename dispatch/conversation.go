package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/google/uuid"
	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/pkg/kernel"
	"github.com/jmoiron/sqlx"
)

// ConversationRole emisor de un turno registrado
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationLog registra los turnos de conversación por lead y sirve el
// historial reciente al generador
type ConversationLog interface {
	flow.ConversationHistory
	Record(ctx context.Context, leadID kernel.LeadID, role, text string) error
}

// ============================================================================
// Postgres
// ============================================================================

type PostgresConversationLog struct {
	db *sqlx.DB
}

var _ ConversationLog = (*PostgresConversationLog)(nil)

func NewPostgresConversationLog(db *sqlx.DB) *PostgresConversationLog {
	return &PostgresConversationLog{db: db}
}

// dbConversationMessage is an intermediate struct for database operations
type dbConversationMessage struct {
	ID        string    `db:"id"`
	LeadID    string    `db:"lead_id"`
	Role      string    `db:"role"`
	Body      string    `db:"body"`
	CreatedAt time.Time `db:"created_at"`
}

func (l *PostgresConversationLog) Record(ctx context.Context, leadID kernel.LeadID, role, text string) error {
	if text == "" {
		return nil
	}
	query := `
		INSERT INTO conversation_messages (id, lead_id, role, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := l.db.ExecContext(ctx, query, uuid.New().String(), leadID.String(), role, text, time.Now())
	if err != nil {
		return errx.Wrap(err, "failed to record conversation message", errx.TypeInternal)
	}
	return nil
}

// Recent retorna los últimos turnos del lead en orden cronológico
func (l *PostgresConversationLog) Recent(ctx context.Context, leadID kernel.LeadID, limit int) ([]flow.HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT id, lead_id, role, body, created_at
		FROM conversation_messages
		WHERE lead_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	var rows []dbConversationMessage
	if err := l.db.SelectContext(ctx, &rows, query, leadID.String(), limit); err != nil {
		return nil, errx.Wrap(err, "failed to load conversation history", errx.TypeInternal)
	}

	// La consulta trae los más recientes primero; el generador espera orden
	// cronológico
	entries := make([]flow.HistoryEntry, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		entries = append(entries, flow.HistoryEntry{Role: rows[i].Role, Text: rows[i].Body})
	}
	return entries, nil
}

// DeleteBefore elimina turnos anteriores al corte (mantenimiento)
func (l *PostgresConversationLog) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errx.Wrap(err, "failed to prune conversation messages", errx.TypeInternal)
	}
	return result.RowsAffected()
}

// ============================================================================
// Memory (desarrollo y tests)
// ============================================================================

type MemoryConversationLog struct {
	mu    sync.RWMutex
	turns map[string][]flow.HistoryEntry
}

var _ ConversationLog = (*MemoryConversationLog)(nil)

func NewMemoryConversationLog() *MemoryConversationLog {
	return &MemoryConversationLog{turns: make(map[string][]flow.HistoryEntry)}
}

func (l *MemoryConversationLog) Record(ctx context.Context, leadID kernel.LeadID, role, text string) error {
	if text == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := leadID.String()
	l.turns[key] = append(l.turns[key], flow.HistoryEntry{Role: role, Text: text})
	return nil
}

func (l *MemoryConversationLog) Recent(ctx context.Context, leadID kernel.LeadID, limit int) ([]flow.HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	turns := l.turns[leadID.String()]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]flow.HistoryEntry, len(turns))
	copy(out, turns)
	return out, nil
}
