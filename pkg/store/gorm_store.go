package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 73217322

// NewGormSessionStore opens Postgres, migrates the sessions table and
// returns a store keeping one row per session.
func NewGormSessionStore(dsn string, opts Options) (*SessionStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&SessionModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	opts = opts.normalize()
	return newSessionStore(&gormBackend{db: db, now: opts.Now, ttl: opts.TTL}, opts), nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

type gormBackend struct {
	db  *gorm.DB
	now func() time.Time
	ttl time.Duration
}

func (b *gormBackend) load(ctx context.Context, id string, fields []string) (record, error) {
	var model SessionModel
	if err := b.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return record{}, nil
		}
		return record{}, err
	}
	if model.ExpiredAt != nil {
		if b.now().Sub(*model.ExpiredAt) < b.ttl {
			return record{expired: true}, nil
		}
		if err := b.clear(ctx, id); err != nil {
			return record{}, err
		}
		return record{}, nil
	}
	rec := record{values: make(map[string]string, len(fields))}
	if model.CreatedAt != nil {
		rec.createdAt = model.CreatedAt.UTC()
	}
	for _, field := range fields {
		if v, ok := model.value(field); ok {
			rec.values[field] = v
		}
	}
	return rec, nil
}

func (b *gormBackend) save(ctx context.Context, id string, values map[string]string, createdAt time.Time) error {
	row := map[string]any{
		"id":         id,
		"created_at": createdAt,
		"updated_at": b.now().UTC(),
	}
	updates := []string{"updated_at"}
	for field, v := range values {
		col, ok := sessionColumns[field]
		if !ok {
			return fmt.Errorf("unknown session field %q", field)
		}
		if field == fieldDocumentText {
			text := v
			row[col] = &text
		} else {
			row[col] = datatypes.JSON(v)
		}
		updates = append(updates, col)
	}
	return b.db.WithContext(ctx).Model(&SessionModel{}).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(row).Error
}

func (b *gormBackend) remove(ctx context.Context, id string, fields []string) error {
	updates := map[string]any{"updated_at": b.now().UTC()}
	for _, field := range fields {
		if col, ok := sessionColumns[field]; ok {
			updates[col] = nil
		}
	}
	return b.db.WithContext(ctx).Model(&SessionModel{}).Where("id = ?", id).Updates(updates).Error
}

// expire keeps the row as a tombstone; it is deleted once ttl has passed.
func (b *gormBackend) expire(ctx context.Context, id string, ttl time.Duration) error {
	now := b.now().UTC()
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("expired_at IS NOT NULL AND expired_at < ?", now.Add(-ttl)).Delete(&SessionModel{}).Error; err != nil {
			return err
		}
		return tx.Model(&SessionModel{}).Where("id = ?", id).Updates(map[string]any{
			"document_text": nil,
			"document":      nil,
			"summary":       nil,
			"flashcards":    nil,
			"quiz":          nil,
			"created_at":    nil,
			"expired_at":    now,
			"updated_at":    now,
		}).Error
	})
}

func (b *gormBackend) clear(ctx context.Context, id string) error {
	return b.db.WithContext(ctx).Delete(&SessionModel{}, "id = ?", id).Error
}

func (b *gormBackend) close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
