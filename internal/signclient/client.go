// Пакет signclient — HTTP-клиенты внешних сервисов документооборота:
// удалённый сервис подписи, сервис валидации подписи и сервис рендеринга.
// Все запросы выполняются с ограниченным таймаутом из конфигурации.
package signclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Ошибки клиентов внешних сервисов.
var (
	// ErrUnavailable — сервис недоступен или вернул не-2xx статус.
	ErrUnavailable = errors.New("внешний сервис недоступен")
	// ErrInvalidPayload — сервис вернул некорректный ответ.
	ErrInvalidPayload = errors.New("некорректный ответ внешнего сервиса")
)

// SignerClient — клиент удалённого сервиса подписи документов.
type SignerClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSignerClient создаёт клиент сервиса подписи.
// baseURL — базовый URL сервиса (CM_SIGNER_URL), без trailing slash.
// token — bearer-токен авторизации (CM_SIGNER_TOKEN).
func NewSignerClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *SignerClient {
	return &SignerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "signer_client")),
	}
}

// signRequest — тело запроса POST /contracts/sign.
type signRequest struct {
	ContractUUID string `json:"contract_uuid"`
	Hash         string `json:"hash"`
}

// signResponse — тело успешного ответа сервиса подписи.
type signResponse struct {
	Document string `json:"document"`
}

// Sign отправляет договор на подписание.
// Возвращает байты подписанного документа.
// Пустое поле document в успешном ответе возвращается как (nil, nil):
// вызывающий код решает, допустим ли fallback на исходные байты.
// Транспортная ошибка или не-2xx статус → ErrUnavailable.
func (c *SignerClient) Sign(ctx context.Context, contractID, hash string) ([]byte, error) {
	body, err := json.Marshal(signRequest{ContractUUID: contractID, Hash: hash})
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса подписи: %w", err)
	}

	reqURL := c.baseURL + "/contracts/sign"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("создание запроса Sign: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: запрос Sign к %s: %v", ErrUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: сервис подписи вернул статус %d", ErrUnavailable, resp.StatusCode)
	}

	var sr signResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("%w: декодирование ответа подписи: %v", ErrInvalidPayload, err)
	}

	if sr.Document == "" {
		c.logger.Warn("Сервис подписи вернул ответ без документа",
			slog.String("contract_id", contractID),
		)
		return nil, nil
	}

	doc, err := base64.StdEncoding.DecodeString(sr.Document)
	if err != nil {
		return nil, fmt.Errorf("%w: декодирование base64 документа: %v", ErrInvalidPayload, err)
	}
	return doc, nil
}

// ValidatorClient — клиент удалённого сервиса валидации подписи.
// Валидация консультативная: любая ошибка клиента трактуется
// вызывающим кодом как отсутствие вердикта, не как провал проверки.
type ValidatorClient struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewValidatorClient создаёт клиент сервиса валидации.
// url — полный URL endpoint валидации (CM_VALIDATOR_URL).
func NewValidatorClient(url string, timeout time.Duration, logger *slog.Logger) *ValidatorClient {
	return &ValidatorClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "validator_client")),
	}
}

// validateRequest — тело запроса к сервису валидации.
type validateRequest struct {
	ContractUUID   string     `json:"contract_uuid"`
	Hash           string     `json:"hash"`
	CalculatedHash string     `json:"calculated_hash"`
	SignedAt       *time.Time `json:"signed_at,omitempty"`
	Document       string     `json:"document"`
}

// Verdict — вердикт удалённого сервиса валидации.
type Verdict struct {
	// Status — нормализованный статус: VALID, EXPIRED, UNSIGNED, TAMPERED.
	// Пустая строка — статус не распознан.
	Status string
	// Details — пояснение сервиса валидации
	Details string
}

// Validate запрашивает вердикт удалённого сервиса валидации.
// Поле status ответа принимает строки valid|expired|unsigned|tampered
// без учёта регистра, а также булевы значения (true → valid, false → tampered).
func (c *ValidatorClient) Validate(ctx context.Context, contractID, storedHash, calculatedHash string, signedAt *time.Time, document []byte) (*Verdict, error) {
	body, err := json.Marshal(validateRequest{
		ContractUUID:   contractID,
		Hash:           storedHash,
		CalculatedHash: calculatedHash,
		SignedAt:       signedAt,
		Document:       base64.StdEncoding.EncodeToString(document),
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса валидации: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("создание запроса Validate: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: запрос Validate к %s: %v", ErrUnavailable, c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: сервис валидации вернул статус %d", ErrUnavailable, resp.StatusCode)
	}

	// status может быть строкой или булевым значением
	var vr struct {
		Status  any    `json:"status"`
		Details string `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("%w: декодирование ответа валидации: %v", ErrInvalidPayload, err)
	}

	return &Verdict{
		Status:  normalizeStatus(vr.Status),
		Details: vr.Details,
	}, nil
}

// normalizeStatus приводит статус ответа валидатора к каноническому виду.
// Нераспознанное значение даёт пустую строку (вердикта нет).
func normalizeStatus(raw any) string {
	switch v := raw.(type) {
	case bool:
		if v {
			return "VALID"
		}
		return "TAMPERED"
	case string:
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "VALID":
			return "VALID"
		case "EXPIRED":
			return "EXPIRED"
		case "UNSIGNED":
			return "UNSIGNED"
		case "TAMPERED":
			return "TAMPERED"
		}
	}
	return ""
}

// RendererClient — клиент сервиса рендеринга документов договоров.
type RendererClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRendererClient создаёт клиент сервиса рендеринга.
// baseURL — базовый URL сервиса (CM_RENDERER_URL), без trailing slash.
func NewRendererClient(baseURL string, timeout time.Duration, logger *slog.Logger) *RendererClient {
	return &RendererClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "renderer_client")),
	}
}

// Render отправляет данные бронирования и возвращает байты документа.
// booking сериализуется в JSON как есть.
func (c *RendererClient) Render(ctx context.Context, booking any) ([]byte, error) {
	body, err := json.Marshal(booking)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации бронирования: %w", err)
	}

	reqURL := c.baseURL + "/render"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("создание запроса Render: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: запрос Render к %s: %v", ErrUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: сервис рендеринга вернул статус %d", ErrUnavailable, resp.StatusCode)
	}

	doc, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение ответа рендеринга: %v", ErrInvalidPayload, err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("%w: сервис рендеринга вернул пустой документ", ErrInvalidPayload)
	}
	return doc, nil
}
