package lead

import (
	"time"

	"github.com/inmobot/leadflow/pkg/kernel"
)

// ============================================================================
// Lead Entity
// ============================================================================

// Lead prospecto inmobiliario que conversa por WhatsApp. El registro local
// espeja el lead del CRM; los campos predefinidos se sincronizan en ambos
// sentidos.
type Lead struct {
	ID                kernel.LeadID    `db:"id" json:"id"`
	Phone             string           `db:"phone" json:"phone"`
	Name              string           `db:"name" json:"name"`
	Email             string           `db:"email" json:"email"`
	Budget            string           `db:"budget" json:"budget"`
	Stage             string           `db:"stage" json:"stage"`
	Tags              []string         `db:"tags" json:"tags"`
	AssignedAdvisorID kernel.AdvisorID `db:"assigned_advisor_id" json:"assigned_advisor_id,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

func (l *Lead) IsValid() bool {
	return !l.ID.IsEmpty() && l.Phone != ""
}

// AddTag agrega un tag si no está; agregar dos veces es un no-op
func (l *Lead) AddTag(tag string) {
	for _, t := range l.Tags {
		if t == tag {
			return
		}
	}
	l.Tags = append(l.Tags, tag)
	l.UpdatedAt = time.Now()
}

func (l *Lead) MoveToStage(stage string) {
	l.Stage = stage
	l.UpdatedAt = time.Now()
}

func (l *Lead) AssignAdvisor(advisorID kernel.AdvisorID) {
	l.AssignedAdvisorID = advisorID
	l.UpdatedAt = time.Now()
}

// ============================================================================
// Predefined variable keys
// ============================================================================

// Claves predefinidas del Variable Store: escribirlas propaga al lead del
// CRM. Cualquier otra clave es local al flow y nunca propaga.
const (
	KeyName   = "name"
	KeyEmail  = "email"
	KeyPhone  = "phone"
	KeyBudget = "budget"
)

var predefinedKeys = map[string]bool{
	KeyName:   true,
	KeyEmail:  true,
	KeyPhone:  true,
	KeyBudget: true,
}

// IsPredefinedKey indica si la clave sincroniza con el CRM
func IsPredefinedKey(key string) bool {
	return predefinedKeys[key]
}

// ============================================================================
// Advisor Entity
// ============================================================================

// Advisor asesor de ventas candidato a asignación
type Advisor struct {
	ID            kernel.AdvisorID `db:"id" json:"id"`
	Name          string           `db:"name" json:"name"`
	Phone         string           `db:"phone" json:"phone"`
	IsAvailable   bool             `db:"is_available" json:"is_available"`
	TargetShare   float64          `db:"target_share" json:"target_share"`
	AssignedCount int              `db:"assigned_count" json:"assigned_count"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

func (a *Advisor) IsValid() bool {
	return !a.ID.IsEmpty() && a.Name != ""
}

// Variable entrada del Variable Store de un lead
type Variable struct {
	LeadID    kernel.LeadID `db:"lead_id" json:"lead_id"`
	Key       string        `db:"key" json:"key"`
	Value     string        `db:"value" json:"value"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}
