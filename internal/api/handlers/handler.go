// handler.go — общие вспомогательные функции HTTP handlers
// Contract Module: запись JSON-ответов и маппинг ошибок сервисного
// слоя на HTTP-статусы.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/MSAlpaka/SilentOakRanch-sub000/internal/api/errors"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/service"
)

// writeJSON записывает JSON-ответ с указанным статус-кодом.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
// Неизвестные ошибки логируются и возвращаются как 500 без деталей.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidID), errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrSourceMissing):
		apierrors.SourceMissing(w, err.Error())
	case errors.Is(err, service.ErrSigningDisabled):
		apierrors.SigningDisabled(w, err.Error())
	case errors.Is(err, service.ErrSignerUnavailable):
		apierrors.SignerUnavailable(w, err.Error())
	case errors.Is(err, service.ErrInvalidPayload):
		apierrors.InvalidPayload(w, err.Error())
	case errors.Is(err, service.ErrLinkExpired):
		apierrors.LinkExpired(w, err.Error())
	case errors.Is(err, service.ErrLinkForbidden):
		apierrors.LinkForbidden(w, err.Error())
	default:
		logger.Error("Внутренняя ошибка обработки запроса",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
