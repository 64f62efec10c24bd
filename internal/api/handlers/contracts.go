// contracts.go — HTTP handlers жизненного цикла договоров.
// Generate, Get (+ подписание по запросу), Verify, Download.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/MSAlpaka/SilentOakRanch-sub000/internal/api/errors"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/api/middleware"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/domain/model"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/service"
)

// ContractsHandler — обработчик endpoints договоров.
type ContractsHandler struct {
	contracts *service.ContractService
	logger    *slog.Logger
}

// NewContractsHandler создаёт обработчик endpoints договоров.
func NewContractsHandler(contracts *service.ContractService, logger *slog.Logger) *ContractsHandler {
	return &ContractsHandler{
		contracts: contracts,
		logger:    logger.With(slog.String("component", "contracts_handler")),
	}
}

// contractResponse — API-представление договора.
// Пути файлов в хранилище не раскрываются (внутренние).
type contractResponse struct {
	ID           string                  `json:"id"`
	BookingID    string                  `json:"booking_id"`
	Status       string                  `json:"status"`
	UnsignedHash string                  `json:"unsigned_hash"`
	SignedHash   *string                 `json:"signed_hash,omitempty"`
	SignedAt     *time.Time              `json:"signed_at,omitempty"`
	AuditTrail   []auditTrailEntry       `json:"audit_trail"`
	Links        map[string]downloadLink `json:"links,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// auditTrailEntry — API-представление события журнала договора.
type auditTrailEntry struct {
	Action    string    `json:"action"`
	Hash      *string   `json:"hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// downloadLink — параметры подписанной ссылки скачивания.
type downloadLink struct {
	URL     string `json:"url"`
	Variant string `json:"variant"`
	Expires int64  `json:"expires"`
	Token   string `json:"token"`
}

// GenerateContract обрабатывает POST /api/v1/bookings/{bookingID}/contract.
// Тело запроса — снимок данных бронирования для рендеринга документа.
func (h *ContractsHandler) GenerateContract(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")

	var booking model.Booking
	if err := json.NewDecoder(r.Body).Decode(&booking); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}
	if booking.ID == "" {
		booking.ID = bookingID
	}
	if booking.ID != bookingID {
		apierrors.ValidationError(w, "ID бронирования в теле не совпадает с URL")
		return
	}

	c, err := h.contracts.Generate(r.Context(), bookingID, &booking, middleware.ActorFromRequest(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, contractToAPI(c, nil))
}

// GetContract обрабатывает GET /api/v1/contracts/{id}?signed=bool,
// где id — UUID бронирования.
// Возвращает метаданные договора и параметры подписанных ссылок скачивания.
// signed=true запускает подписание, если подписанный вариант ещё отсутствует.
func (h *ContractsHandler) GetContract(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "id")

	wantSigned := false
	if v := r.URL.Query().Get("signed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Некорректное значение signed: %q", v))
			return
		}
		wantSigned = b
	}

	c, err := h.contracts.GetByBookingID(r.Context(), bookingID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if wantSigned && !c.IsSigned() {
		c, err = h.contracts.Sign(r.Context(), c.ID, middleware.ActorFromRequest(r))
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
	}

	links := map[string]downloadLink{}
	variants := []string{model.VariantOriginal}
	if c.IsSigned() {
		variants = append(variants, model.VariantSigned)
	}
	for _, variant := range variants {
		link, err := h.contracts.IssueLink(r.Context(), c.ID, variant)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		links[variant] = toDownloadLink(bookingID, link)
	}

	writeJSON(w, http.StatusOK, contractToAPI(c, links))
}

// VerifyContract обрабатывает GET /api/v1/contracts/{id}/verify,
// где id — UUID договора.
// Вердикты проверки (VALID, EXPIRED, UNSIGNED, TAMPERED) — корректный
// результат и возвращаются со статусом 200; HTTP-ошибки только для
// инфраструктурных сбоев и некорректных идентификаторов.
func (h *ContractsHandler) VerifyContract(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "id")

	result, err := h.contracts.Verify(r.Context(), contractID, middleware.ActorFromRequest(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// DownloadContract обрабатывает
// GET /api/v1/contracts/{id}/download?expires&token&variant,
// где id — UUID бронирования.
// Авторизация — токеном подписанной ссылки, без JWT.
func (h *ContractsHandler) DownloadContract(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "id")
	query := r.URL.Query()

	variant := query.Get("variant")
	if variant == "" {
		apierrors.ValidationError(w, "Параметр variant обязателен")
		return
	}

	token := query.Get("token")
	if token == "" {
		apierrors.ValidationError(w, "Параметр token обязателен")
		return
	}

	expires, err := strconv.ParseInt(query.Get("expires"), 10, 64)
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное значение expires: %q", query.Get("expires")))
		return
	}

	c, err := h.contracts.GetByBookingID(r.Context(), bookingID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	dl, err := h.contracts.Download(r.Context(), c.ID, variant, expires, token, middleware.ActorFromRequest(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Filename))
	http.ServeFile(w, r, dl.FullPath)
}

// contractToAPI преобразует доменную модель договора в API-формат.
func contractToAPI(c *model.Contract, links map[string]downloadLink) contractResponse {
	trail := make([]auditTrailEntry, 0, len(c.AuditTrail))
	for _, e := range c.AuditTrail {
		trail = append(trail, auditTrailEntry{
			Action:    e.Action,
			Hash:      e.Hash,
			CreatedAt: e.CreatedAt,
		})
	}

	return contractResponse{
		ID:           c.ID,
		BookingID:    c.BookingID,
		Status:       c.Status,
		UnsignedHash: c.UnsignedHash,
		SignedHash:   c.SignedHash,
		SignedAt:     c.SignedAt,
		AuditTrail:   trail,
		Links:        links,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// toDownloadLink формирует параметры ссылки скачивания для API-ответа.
// URL строится относительно API, путь — по бронированию.
func toDownloadLink(bookingID string, link *service.SignedLink) downloadLink {
	params := url.Values{}
	params.Set("variant", link.Variant)
	params.Set("expires", strconv.FormatInt(link.Expires, 10))
	params.Set("token", link.Token)

	return downloadLink{
		URL:     fmt.Sprintf("/api/v1/contracts/%s/download?%s", bookingID, params.Encode()),
		Variant: link.Variant,
		Expires: link.Expires,
		Token:   link.Token,
	}
}
