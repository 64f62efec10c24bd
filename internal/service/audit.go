// audit.go — сервис журнала аудита.
// Авторитетная запись — строка в PostgreSQL; каждая запись дополнительно
// реплицируется в файловый WORM-журнал. Ошибка репликации логируется,
// но никогда не прерывает породившую запись бизнес-операцию.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/domain/model"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/repository"
)

// Prometheus-метрики журнала аудита.
var (
	auditEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_audit_entries_total",
		Help: "Общее количество записей журнала аудита (по типу сущности).",
	}, []string{"entity_type"})

	auditWormFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_audit_worm_failures_total",
		Help: "Количество неудачных репликаций записей аудита в WORM-журнал.",
	})
)

// WormReplicator — файловая реплика журнала аудита.
// Реализуется worm.Store.
type WormReplicator interface {
	Append(e *model.AuditLogEntry) error
}

// AuditService — сервис журнала аудита.
type AuditService struct {
	repo   repository.AuditLogRepository
	worm   WormReplicator
	logger *slog.Logger
}

// NewAuditService создаёт сервис журнала аудита.
func NewAuditService(repo repository.AuditLogRepository, worm WormReplicator, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		worm:   worm,
		logger: logger.With(slog.String("component", "audit_service")),
	}
}

// Log записывает событие в журнал аудита.
// entityType приводится к верхнему регистру; meta["hash"] извлекается
// в отдельное поле записи. actor — явные данные о действующем субъекте
// из слоя обработки запросов (nil для системных действий).
// Запись в базу авторитетна: её ошибка возвращается вызывающему коду.
func (s *AuditService) Log(ctx context.Context, entityType, entityID, action string, meta map[string]any, actor *model.Actor) (*model.AuditLogEntry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("генерация идентификатора записи: %w", err)
	}

	e := &model.AuditLogEntry{
		ID:         id.String(),
		EntityType: strings.ToUpper(entityType),
		EntityID:   entityID,
		Action:     action,
		Metadata:   map[string]any{},
	}

	for k, v := range meta {
		if k == "hash" {
			if h, ok := v.(string); ok && h != "" {
				e.ContentHash = &h
				continue
			}
		}
		e.Metadata[k] = v
	}

	if actor != nil {
		if actor.Subject != "" {
			subject := actor.Subject
			e.Actor = &subject
		}
		if actor.IP != "" {
			ip := actor.IP
			e.IP = &ip
		}
	}

	if err := s.repo.Insert(ctx, e); err != nil {
		return nil, fmt.Errorf("запись аудита: %w", err)
	}
	auditEntriesTotal.WithLabelValues(e.EntityType).Inc()

	// WORM-реплика — defense-in-depth копия, её недоступность
	// не блокирует бизнес-операцию
	if err := s.worm.Append(e); err != nil {
		auditWormFailuresTotal.Inc()
		s.logger.Error("Ошибка репликации записи аудита в WORM-журнал",
			slog.String("entry_id", e.ID),
			slog.String("entity_type", e.EntityType),
			slog.String("action", e.Action),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Debug("Запись аудита создана",
		slog.String("entry_id", e.ID),
		slog.String("entity_type", e.EntityType),
		slog.String("entity_id", e.EntityID),
		slog.String("action", e.Action),
	)

	return e, nil
}

// FindForEntity возвращает записи аудита сущности по возрастанию времени.
func (s *AuditService) FindForEntity(ctx context.Context, entityType, entityID string) ([]model.AuditLogEntry, error) {
	entries, err := s.repo.ListForEntity(ctx, strings.ToUpper(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("чтение журнала аудита: %w", err)
	}
	return entries, nil
}
