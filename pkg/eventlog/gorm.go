package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"procodus.dev/facility-monitor/pkg/event"
)

// DBConfig holds the PostgreSQL connection settings.
type DBConfig struct {
	Logger   *slog.Logger
	Host     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Port     int
}

// SensorEvent is one raw event row.
type SensorEvent struct {
	ReceivedAt time.Time `gorm:"index:idx_sensor_received;index:idx_received;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	Room       string    `gorm:"index;not null"`
	Type       string    `gorm:"index;not null"`
	SensorID   string    `gorm:"index:idx_sensor_received"`
	Message    string
	Payload    string `gorm:"type:jsonb;not null"`
	ID         uint   `gorm:"primaryKey"`
}

// TableName specifies the table name for SensorEvent.
func (SensorEvent) TableName() string {
	return "sensor_events"
}

// NewDB opens the connection pool, verifies it and runs migrations.
func NewDB(cfg *DBConfig) (*gorm.DB, error) {
	if cfg == nil {
		return nil, errors.New("database config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	cfg.Logger.Info("connecting to database", "host", cfg.Host, "port", cfg.Port, "dbname", cfg.DBName)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetMaxOpenConns(16)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.AutoMigrate(&SensorEvent{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	cfg.Logger.Info("database ready")
	return db, nil
}

// CloseDB closes the connection pool. A nil db is a no-op.
func CloseDB(db *gorm.DB, logger *slog.Logger) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	logger.Info("closing database connection")
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// GormLog stores raw events in the sensor_events table.
type GormLog struct {
	db *gorm.DB
}

// NewGormLog wraps an open database.
func NewGormLog(db *gorm.DB) (*GormLog, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	return &GormLog{db: db}, nil
}

// Append implements Log.
func (g *GormLog) Append(ctx context.Context, e event.Envelope) error {
	row := SensorEvent{
		ReceivedAt: e.ReceivedAt.UTC(),
		Room:       e.Room,
		Type:       e.Type,
		SensorID:   e.SensorID,
		Message:    e.Message,
		Payload:    string(e.Raw),
	}
	if row.Payload == "" {
		row.Payload = "{}"
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert sensor event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first. A non-empty sensorID
// restricts the result to that sensor.
func (g *GormLog) Recent(ctx context.Context, sensorID string, limit int) ([]SensorEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := g.db.WithContext(ctx).Order("received_at DESC, id DESC").Limit(limit)
	if sensorID != "" {
		q = q.Where("sensor_id = ?", sensorID)
	}
	var rows []SensorEvent
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query sensor events: %w", err)
	}
	return rows, nil
}

// Count returns the number of stored events.
func (g *GormLog) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := g.db.WithContext(ctx).Model(&SensorEvent{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count sensor events: %w", err)
	}
	return n, nil
}
