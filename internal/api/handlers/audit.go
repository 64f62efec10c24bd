// audit.go — HTTP handler чтения журнала аудита.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/MSAlpaka/SilentOakRanch-sub000/internal/api/errors"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/domain/model"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/service"
)

// AuditHandler — обработчик endpoints журнала аудита.
type AuditHandler struct {
	audit  *service.AuditService
	logger *slog.Logger
}

// NewAuditHandler создаёт обработчик endpoints журнала аудита.
func NewAuditHandler(audit *service.AuditService, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger.With(slog.String("component", "audit_handler")),
	}
}

// auditListResponse — ответ со списком записей журнала аудита.
type auditListResponse struct {
	Items []model.AuditLogEntry `json:"items"`
	Total int                   `json:"total"`
}

// GetAuditTrail обрабатывает GET /api/v1/audit/{entityType}/{entityID}.
// Возвращает записи журнала в порядке создания.
func (h *AuditHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	entityID := chi.URLParam(r, "entityID")

	if entityType == "" || entityID == "" {
		apierrors.ValidationError(w, "Параметры entityType и entityID обязательны")
		return
	}

	entries, err := h.audit.FindForEntity(r.Context(), entityType, entityID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, auditListResponse{
		Items: entries,
		Total: len(entries),
	})
}
