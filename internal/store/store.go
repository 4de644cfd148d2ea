// Package store keeps a durable log of relay sessions.
package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/lobby-sync/internal/types"
)

// Recorder receives session lifecycle events from the relay hub.
type Recorder interface {
	SessionOpened(ctx context.Context, info types.SessionInfo) error
	SessionClosed(ctx context.Context, name string, peak int) error
}

// Nop discards everything; used when no database is configured.
type Nop struct{}

func (Nop) SessionOpened(context.Context, types.SessionInfo) error { return nil }
func (Nop) SessionClosed(context.Context, string, int) error       { return nil }

type SessionRecord struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"index;size:64"`
	Map         string `gorm:"size:64"`
	Mode        string `gorm:"size:64"`
	PvP         bool
	Capacity    int
	PeakPlayers int
	OpenedAt    time.Time
	ClosedAt    *time.Time `gorm:"index"`
}

func newRecord(info types.SessionInfo, now time.Time) SessionRecord {
	rec := SessionRecord{Name: info.Name, Capacity: info.Capacity, OpenedAt: now}
	rec.Map, _ = info.Props.String(types.PropMap)
	rec.Mode, _ = info.Props.String(types.PropMode)
	if pvp, ok := info.Props.Int(types.PropPvP); ok {
		rec.PvP = pvp == 1
	}
	return rec
}

type Postgres struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

// OpenPostgres connects and migrates the session log table.
func OpenPostgres(dsn string, log *zap.Logger) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate session log: %w", err)
	}
	return &Postgres{db: db, log: log, now: time.Now}, nil
}

func (p *Postgres) SessionOpened(ctx context.Context, info types.SessionInfo) error {
	rec := newRecord(info, p.now())
	if err := p.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("record session %s opened: %w", info.Name, err)
	}
	return nil
}

func (p *Postgres) SessionClosed(ctx context.Context, name string, peak int) error {
	res := p.db.WithContext(ctx).Model(&SessionRecord{}).
		Where("name = ? AND closed_at IS NULL", name).
		Updates(map[string]any{"closed_at": p.now(), "peak_players": peak})
	if res.Error != nil {
		return fmt.Errorf("record session %s closed: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		p.log.Warn("closed session had no open record", zap.String("session", name))
	}
	return nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
