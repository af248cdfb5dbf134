package store

import (
	"sync"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kestrelhq/wsgateway/internal/config"
)

// targetRow is the gorm model backing one config.Target row.
type targetRow struct {
	ID              string `gorm:"primaryKey"`
	Label           string
	Token           string
	Intents         int
	ShardID         int
	ShardCount      int
	Status          string
	GuildID         string
	ChannelID       string
	SelfMute        bool
	SelfDeaf        bool
	ConnectOnStart  bool
	Priority        int
	ResumeSessionID string
	ResumeSequence  int64
}

func (targetRow) TableName() string { return "targets" }

// Postgres handles configuration persistence using PostgreSQL with GORM.
type Postgres struct {
	db *gorm.DB
	mu sync.RWMutex
}

// NewPostgres creates a new database-backed configuration store. It
// automatically creates the required tables if they don't exist.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&targetRow{}); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Load reads the configuration from the database, ordered by priority.
func (s *Postgres) Load() (*config.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []targetRow
	if err := s.db.Order("priority ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	cfg := config.Default()
	for _, r := range rows {
		cfg.Targets = append(cfg.Targets, config.Target{
			ID:              r.ID,
			Label:           r.Label,
			Token:           r.Token,
			Intents:         r.Intents,
			ShardID:         r.ShardID,
			ShardCount:      r.ShardCount,
			Status:          config.PresenceStatus(r.Status),
			GuildID:         r.GuildID,
			ChannelID:       r.ChannelID,
			SelfMute:        r.SelfMute,
			SelfDeaf:        r.SelfDeaf,
			ConnectOnStart:  r.ConnectOnStart,
			Priority:        r.Priority,
			ResumeSessionID: r.ResumeSessionID,
			ResumeSequence:  r.ResumeSequence,
		})
	}
	return cfg, nil
}

// Save writes the configuration to the database, deleting rows whose
// target no longer appears in cfg and upserting the rest inside a single
// transaction.
func (s *Postgres) Save(cfg *config.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var existingIDs []string
		if err := tx.Model(&targetRow{}).Pluck("id", &existingIDs).Error; err != nil {
			return err
		}

		keep := make(map[string]bool, len(cfg.Targets))
		for _, t := range cfg.Targets {
			keep[t.ID] = true
		}
		for _, id := range existingIDs {
			if !keep[id] {
				if err := tx.Delete(&targetRow{}, "id = ?", id).Error; err != nil {
					return err
				}
			}
		}

		for _, t := range cfg.Targets {
			row := targetRow{
				ID:              t.ID,
				Label:           t.Label,
				Token:           t.Token,
				Intents:         t.Intents,
				ShardID:         t.ShardID,
				ShardCount:      t.ShardCount,
				Status:          string(t.Status),
				GuildID:         t.GuildID,
				ChannelID:       t.ChannelID,
				SelfMute:        t.SelfMute,
				SelfDeaf:        t.SelfDeaf,
				ConnectOnStart:  t.ConnectOnStart,
				Priority:        t.Priority,
				ResumeSessionID: t.ResumeSessionID,
				ResumeSequence:  t.ResumeSequence,
			}
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database connection.
func (s *Postgres) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveResumeHint persists the resume session id and sequence a target
// observed, so a later process restart can Resume instead of re-Identify.
func (s *Postgres) SaveResumeHint(targetID, sessionID string, sequence int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Model(&targetRow{}).
		Where("id = ?", targetID).
		Updates(map[string]any{
			"resume_session_id": sessionID,
			"resume_sequence":   sequence,
		}).Error
}
