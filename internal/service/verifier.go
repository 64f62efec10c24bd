// verifier.go — проверка целостности подписанных договоров.
// Порядок проверок: сверка хэша дешева и авторитетна против подмены,
// истечение срока — политика, независимая от подмены, а структурная
// проверка маркеров подписи — слабый сигнал последней инстанции.
package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/domain/model"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/signclient"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/storage/docstore"
)

// Prometheus-метрики проверки целостности.
var (
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_verifications_total",
		Help: "Общее количество проверок целостности договоров (по вердикту и источнику).",
	}, []string{"status", "source"})

	remoteValidatorFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_remote_validator_failures_total",
		Help: "Количество ошибок удалённого сервиса валидации (деградация в локальные проверки).",
	})
)

// signatureMarkers — байтовые маркеры встроенной подписи PDF.
// Наличие любого из них — слабое свидетельство, что документ подписан.
var signatureMarkers = [][]byte{
	[]byte("/ByteRange"),
	[]byte("/Type /Sig"),
	[]byte("/Type/Sig"),
	[]byte("adbe.pkcs7"),
	[]byte("ETSI.CAdES"),
}

// RemoteValidator — удалённый сервис валидации подписи.
// Реализуется signclient.ValidatorClient. Консультативная зависимость:
// её недоступность деградирует в локальные проверки.
type RemoteValidator interface {
	Validate(ctx context.Context, contractID, storedHash, calculatedHash string, signedAt *time.Time, document []byte) (*signclient.Verdict, error)
}

// VerifierService — проверка подлинности подписанного договора.
type VerifierService struct {
	docs    *docstore.DocStore
	remote  RemoteValidator
	ttlDays int
	logger  *slog.Logger
	// now — источник времени, подменяется в тестах
	now func() time.Time
}

// NewVerifierService создаёт сервис проверки целостности.
// remote — nil, если удалённый валидатор не сконфигурирован.
// ttlDays — срок действия подписи в днях (0 — подпись не истекает).
func NewVerifierService(docs *docstore.DocStore, remote RemoteValidator, ttlDays int, logger *slog.Logger) *VerifierService {
	return &VerifierService{
		docs:    docs,
		remote:  remote,
		ttlDays: ttlDays,
		logger:  logger.With(slog.String("component", "verifier_service")),
		now:     time.Now,
	}
}

// Verify проверяет подписанный вариант договора и возвращает вердикт.
// Вердикт TAMPERED или EXPIRED — валидный результат, не ошибка;
// ошибка возвращается только при инфраструктурном сбое чтения.
func (s *VerifierService) Verify(ctx context.Context, c *model.Contract) (*model.ValidationResult, error) {
	// 1. Подписанный вариант не записан
	if c.SignedHash == nil || c.SignedPath == nil {
		return s.result(model.ValidationUnsigned, "", "", c.SignedAt, "local",
			"договор ещё не подписан"), nil
	}

	// 2. Подписанный файл отсутствует на диске
	if !s.docs.Exists(*c.SignedPath) {
		return s.result(model.ValidationTampered, "", *c.SignedHash, c.SignedAt, "local",
			"подписанный файл отсутствует"), nil
	}

	// 3. Сверка хэша содержимого
	doc, err := s.readDocument(*c.SignedPath)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(doc)
	calculated := hex.EncodeToString(sum[:])

	if !hmac.Equal([]byte(calculated), []byte(*c.SignedHash)) {
		return s.result(model.ValidationTampered, calculated, *c.SignedHash, c.SignedAt, "local",
			"хэш содержимого не совпадает"), nil
	}

	// 4. Удалённая валидация (консультативная)
	if s.remote != nil {
		if res := s.remoteVerdict(ctx, c, calculated, doc); res != nil {
			return res, nil
		}
	}

	// 5. Локальная проверка срока действия подписи
	if s.ttlDays > 0 && c.SignedAt != nil {
		expiry := c.SignedAt.AddDate(0, 0, s.ttlDays)
		if s.now().After(expiry) {
			return s.result(model.ValidationExpired, calculated, *c.SignedHash, c.SignedAt, "local",
				fmt.Sprintf("подпись старше %d дней", s.ttlDays)), nil
		}
	}

	// 6. Структурная проверка маркеров встроенной подписи
	if !containsSignatureMarker(doc) {
		return s.result(model.ValidationUnsigned, calculated, *c.SignedHash, c.SignedAt, "local",
			"маркеры встроенной подписи не найдены"), nil
	}

	// 7. Все проверки пройдены
	return s.result(model.ValidationValid, calculated, *c.SignedHash, c.SignedAt, "local",
		"проверки целостности пройдены"), nil
}

// remoteVerdict запрашивает вердикт удалённого валидатора.
// Возвращает nil, если вердикта нет: транспортная ошибка или
// нераспознанный статус деградируют в локальные проверки (fail-open).
func (s *VerifierService) remoteVerdict(ctx context.Context, c *model.Contract, calculated string, doc []byte) *model.ValidationResult {
	verdict, err := s.remote.Validate(ctx, c.ID, *c.SignedHash, calculated, c.SignedAt, doc)
	if err != nil {
		remoteValidatorFailuresTotal.Inc()
		s.logger.Warn("Удалённый валидатор недоступен, деградация в локальные проверки",
			slog.String("contract_id", c.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if verdict.Status == "" {
		remoteValidatorFailuresTotal.Inc()
		s.logger.Warn("Удалённый валидатор вернул нераспознанный статус, деградация в локальные проверки",
			slog.String("contract_id", c.ID),
			slog.String("details", verdict.Details),
		)
		return nil
	}

	details := verdict.Details
	if details == "" {
		details = "вердикт удалённого валидатора"
	}
	return s.result(verdict.Status, calculated, *c.SignedHash, c.SignedAt, "remote", details)
}

// readDocument читает байты документа с диска.
func (s *VerifierService) readDocument(storagePath string) ([]byte, error) {
	f, err := s.docs.Open(storagePath)
	if err != nil {
		return nil, fmt.Errorf("чтение подписанного документа: %w", err)
	}
	defer f.Close()

	doc, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("чтение подписанного документа: %w", err)
	}
	return doc, nil
}

// result собирает ValidationResult и учитывает метрику вердиктов.
func (s *VerifierService) result(status, calculated, expected string, signedAt *time.Time, source, reason string) *model.ValidationResult {
	verificationsTotal.WithLabelValues(status, source).Inc()
	return &model.ValidationResult{
		Status:         status,
		CalculatedHash: calculated,
		ExpectedHash:   expected,
		SignedAt:       signedAt,
		Details: map[string]string{
			"source": source,
			"reason": reason,
		},
	}
}

// containsSignatureMarker проверяет наличие маркеров встроенной подписи.
func containsSignatureMarker(doc []byte) bool {
	for _, marker := range signatureMarkers {
		if bytes.Contains(doc, marker) {
			return true
		}
	}
	return false
}
