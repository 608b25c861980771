package moderation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type banRecord struct {
	ID             string `gorm:"primaryKey"`
	AccountID      string `gorm:"index"`
	Name           string `gorm:"index"`
	IP             string
	Type           string `gorm:"not null"`
	Reason         string
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	RemainingGames int
	SkillRange     bool
	SkillMin       float64
	SkillMax       float64
}

func (banRecord) TableName() string { return "bans" }

func toRecord(b Ban) banRecord {
	r := banRecord{
		ID:             b.ID,
		AccountID:      b.AccountID,
		Name:           b.Name,
		IP:             b.IP,
		Type:           string(b.Type),
		Reason:         b.Reason,
		CreatedAt:      b.CreatedAt,
		RemainingGames: b.RemainingGames,
		SkillRange:     b.SkillRange,
		SkillMin:       b.SkillMin,
		SkillMax:       b.SkillMax,
	}
	if !b.ExpiresAt.IsZero() {
		exp := b.ExpiresAt
		r.ExpiresAt = &exp
	}
	return r
}

func (r banRecord) ban() Ban {
	b := Ban{
		ID:             r.ID,
		AccountID:      r.AccountID,
		Name:           r.Name,
		IP:             r.IP,
		Type:           BanType(r.Type),
		Reason:         r.Reason,
		CreatedAt:      r.CreatedAt,
		RemainingGames: r.RemainingGames,
		SkillRange:     r.SkillRange,
		SkillMin:       r.SkillMin,
		SkillMax:       r.SkillMax,
	}
	if r.ExpiresAt != nil {
		b.ExpiresAt = *r.ExpiresAt
	}
	return b
}

type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the bans table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&banRecord{}); err != nil {
		return nil, fmt.Errorf("migrate bans: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Load(ctx context.Context) ([]Ban, error) {
	var rows []banRecord
	if err := s.db.WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load bans: %w", err)
	}
	out := make([]Ban, len(rows))
	for i, r := range rows {
		out[i] = r.ban()
	}
	return out, nil
}

func (s *GormStore) Replace(ctx context.Context, bans []Ban) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&banRecord{}).Error; err != nil {
			return fmt.Errorf("clear bans: %w", err)
		}
		if len(bans) == 0 {
			return nil
		}
		rows := make([]banRecord, len(bans))
		for i, b := range bans {
			rows[i] = toRecord(b)
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert bans: %w", err)
		}
		return nil
	})
}

const (
	dbMaxRetries    = 3
	dbRetryInterval = 5 * time.Second
)

// OpenPostgres opens the database, retrying a few times while it comes up.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	var err error
	for i := 0; i <= dbMaxRetries; i++ {
		var db *gorm.DB
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err == nil {
			return db, nil
		}
		logger.Warn("database connect retry", zap.Int("retry", i), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dbRetryInterval):
		}
	}
	return nil, fmt.Errorf("connect database: %w", err)
}
