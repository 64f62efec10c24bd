package repository

import (
	"context"
	"fmt"

	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/domain/model"
)

// AuditLogRepository — интерфейс доступа к таблице audit_log.
// Таблица append-only: записи только добавляются и читаются.
type AuditLogRepository interface {
	// Insert добавляет запись в журнал аудита.
	Insert(ctx context.Context, e *model.AuditLogEntry) error
	// ListForEntity возвращает записи сущности в хронологическом порядке.
	ListForEntity(ctx context.Context, entityType, entityID string) ([]model.AuditLogEntry, error)
}

// auditLogRepo — реализация AuditLogRepository.
type auditLogRepo struct {
	db DBTX
}

// NewAuditLogRepository создаёт репозиторий журнала аудита.
func NewAuditLogRepository(db DBTX) AuditLogRepository {
	return &auditLogRepo{db: db}
}

func (r *auditLogRepo) Insert(ctx context.Context, e *model.AuditLogEntry) error {
	query := `
		INSERT INTO audit_log (id, entity_type, entity_id, action, content_hash, actor, ip, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		e.ID, e.EntityType, e.EntityID, e.Action,
		e.ContentHash, e.Actor, e.IP, e.Metadata,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка добавления записи аудита: %w", err)
	}
	return nil
}

func (r *auditLogRepo) ListForEntity(ctx context.Context, entityType, entityID string) ([]model.AuditLogEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, action, content_hash, actor, ip, metadata, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записей аудита: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		if err := rows.Scan(
			&e.ID, &e.EntityType, &e.EntityID, &e.Action,
			&e.ContentHash, &e.Actor, &e.IP, &e.Metadata, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
