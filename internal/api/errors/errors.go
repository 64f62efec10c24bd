// Пакет errors — конструкторы стандартных ошибок HTTP API.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок API.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeConflict          = "CONFLICT"
	CodeLinkExpired       = "LINK_EXPIRED"
	CodeLinkForbidden     = "LINK_FORBIDDEN"
	CodeSourceMissing     = "SOURCE_MISSING"
	CodeSignerUnavailable = "SIGNER_UNAVAILABLE"
	CodeInvalidPayload    = "INVALID_PAYLOAD"
	CodeSigningDisabled   = "SIGNING_DISABLED"
	CodeInternalError     = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт (дублирующийся ресурс или параллельная операция).
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// LinkExpired — 410 срок действия ссылки скачивания истёк.
func LinkExpired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, CodeLinkExpired, message)
}

// LinkForbidden — 403 токен ссылки скачивания не прошёл проверку.
func LinkForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeLinkForbidden, message)
}

// SourceMissing — 409 исходный файл договора отсутствует на диске.
func SourceMissing(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeSourceMissing, message)
}

// SignerUnavailable — 502 сервис подписи недоступен (повторяемая ошибка).
func SignerUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeSignerUnavailable, message)
}

// InvalidPayload — 502 внешний сервис вернул некорректный ответ.
func InvalidPayload(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeInvalidPayload, message)
}

// SigningDisabled — 409 подписание договоров выключено конфигурацией.
func SigningDisabled(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeSigningDisabled, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
