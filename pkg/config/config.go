package config

import (
	"fmt"
	"os"
	"time"
)

// Config configuración principal de la aplicación
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
	WhatsApp WhatsAppConfig
	AI       AIConfig
	CRM      CRMConfig
}

// ServerConfig configuración del servidor HTTP
type ServerConfig struct {
	Port            string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig configuración de PostgreSQL
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configuración de Redis
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// EngineConfig tuning del motor de flujos y el scheduler
type EngineConfig struct {
	// Cadencia del worker que despierta instancias suspendidas
	SchedulerTick time.Duration
	// Timeout para llamadas sincrónicas a colaboradores (IA, asignación)
	CollaboratorTimeout time.Duration
	// Retención de registros de dedup de triggers
	DedupTTL time.Duration
	// Zona horaria operativa para nodos Wait con hora programada
	Timezone *time.Location
	// Hora del día por defecto para esperas programadas ("09:00")
	ScheduledTimeOfDay string
}

// WhatsAppConfig configuración del adaptador de WhatsApp
type WhatsAppConfig struct {
	APIBaseURL         string
	APIVersion         string
	PhoneNumberID      string
	AccessToken        string
	AppSecret          string
	WebhookVerifyToken string
}

// AIConfig configuración del generador de texto
type AIConfig struct {
	Provider    string
	Model       string
	Temperature float32
	MaxTokens   int
}

// CRMConfig configuración del CRM externo. Con BaseURL vacío los cambios
// solo se aplican al espejo local.
type CRMConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Load carga la configuración desde variables de entorno
func Load() (*Config, error) {
	tz, err := time.LoadLocation(getEnv("FLOW_TIMEZONE", "America/Mexico_City"))
	if err != nil {
		return nil, fmt.Errorf("invalid FLOW_TIMEZONE: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Environment:     getEnv("ENVIRONMENT", "development"),
			ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", getEnv("POSTGRES_HOST", "localhost")),
			Port:            getEnv("DB_PORT", getEnv("POSTGRES_PORT", "5432")),
			User:            getEnv("DB_USER", getEnv("POSTGRES_USER", "postgres")),
			Password:        getEnv("DB_PASSWORD", getEnv("POSTGRES_PASSWORD", "postgres")),
			DBName:          getEnv("DB_NAME", getEnv("POSTGRES_DB", "leadflow")),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			SchedulerTick:       getDurationEnv("SCHEDULER_TICK", 2*time.Second),
			CollaboratorTimeout: getDurationEnv("COLLABORATOR_TIMEOUT", 30*time.Second),
			DedupTTL:            getDurationEnv("TRIGGER_DEDUP_TTL", 24*time.Hour),
			Timezone:            tz,
			ScheduledTimeOfDay:  getEnv("SCHEDULED_TIME_OF_DAY", "09:00"),
		},
		WhatsApp: WhatsAppConfig{
			APIBaseURL:         getEnv("WHATSAPP_API_URL", "https://graph.facebook.com"),
			APIVersion:         getEnv("WHATSAPP_API_VERSION", "v24.0"),
			PhoneNumberID:      getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			AccessToken:        getEnv("WHATSAPP_ACCESS_TOKEN", ""),
			AppSecret:          getEnv("WHATSAPP_APP_SECRET", ""),
			WebhookVerifyToken: getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		},
		AI: AIConfig{
			Provider:    getEnv("AI_PROVIDER", "openai"),
			Model:       getEnv("AI_MODEL", "gpt-4o-mini"),
			Temperature: float32(getIntEnv("AI_TEMPERATURE_PCT", 70)) / 100,
			MaxTokens:   getIntEnv("AI_MAX_TOKENS", 500),
		},
		CRM: CRMConfig{
			BaseURL: getEnv("CRM_API_URL", ""),
			APIKey:  getEnv("CRM_API_KEY", ""),
			Timeout: getDurationEnv("CRM_TIMEOUT", 10*time.Second),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate valida la configuración
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Engine.SchedulerTick <= 0 {
		return fmt.Errorf("SCHEDULER_TICK must be positive")
	}
	if _, err := time.Parse("15:04", c.Engine.ScheduledTimeOfDay); err != nil {
		return fmt.Errorf("SCHEDULED_TIME_OF_DAY must be HH:MM: %w", err)
	}
	return nil
}

// GetDSN retorna el DSN de PostgreSQL
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// GetAddr retorna la dirección de Redis
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
