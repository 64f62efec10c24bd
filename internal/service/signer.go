// signer.go — шлюз внешнего подписания документов.
// Отправляет документ удалённому сервису подписи и возвращает подписанные
// байты. При отсутствии сервиса или пустом ответе деградирует к исходным
// байтам: шлюз никогда молча не портит документ, но деградация заметно
// помечается в логах и метриках, т.к. это не эквивалент настоящей подписи.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
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

// Prometheus-метрики подписания.
var (
	signsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_signs_total",
		Help: "Общее количество операций подписания (по режиму: remote, fallback).",
	}, []string{"mode"})

	signFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_sign_fallback_total",
		Help: "Количество деградаций подписания к исходным байтам (без настоящей подписи).",
	})
)

// RemoteSigner — удалённый сервис подписи.
// Реализуется signclient.SignerClient.
type RemoteSigner interface {
	Sign(ctx context.Context, contractID, hash string) ([]byte, error)
}

// SignResult — результат подписания документа.
type SignResult struct {
	// Document — байты подписанного документа
	Document []byte
	// Hash — hex SHA-256 подписанного документа, вычисленный локально
	Hash string
	// SignedAt — момент подписания (UTC)
	SignedAt time.Time
	// Fallback — true, если подпись деградировала к исходным байтам
	Fallback bool
}

// SigningGateway — шлюз подписания договоров.
type SigningGateway struct {
	docs    *docstore.DocStore
	remote  RemoteSigner
	enabled bool
	logger  *slog.Logger
	// now — источник времени, подменяется в тестах
	now func() time.Time
}

// NewSigningGateway создаёт шлюз подписания.
// remote — nil, если удалённый сервис подписи не сконфигурирован.
func NewSigningGateway(docs *docstore.DocStore, remote RemoteSigner, enabled bool, logger *slog.Logger) *SigningGateway {
	return &SigningGateway{
		docs:    docs,
		remote:  remote,
		enabled: enabled,
		logger:  logger.With(slog.String("component", "signing_gateway")),
		now:     time.Now,
	}
}

// Sign подписывает документ договора.
// Источник — ранее подписанный вариант, если он есть, иначе исходный.
// Возвращённые байты всегда перехэшируются локально: шлюз не доверяет
// хэшу, вычисленному где-то ещё.
func (g *SigningGateway) Sign(ctx context.Context, c *model.Contract) (*SignResult, error) {
	if !g.enabled {
		return nil, ErrSigningDisabled
	}

	sourcePath := c.UnsignedPath
	sourceHash := c.UnsignedHash
	if c.IsSigned() {
		sourcePath = *c.SignedPath
		sourceHash = *c.SignedHash
	}

	if !g.docs.Exists(sourcePath) {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, sourcePath)
	}

	source, err := g.readDocument(sourcePath)
	if err != nil {
		return nil, err
	}

	doc, fallback, err := g.obtainSigned(ctx, c.ID, sourceHash, source)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(doc)
	result := &SignResult{
		Document: doc,
		Hash:     hex.EncodeToString(sum[:]),
		SignedAt: g.now().UTC(),
		Fallback: fallback,
	}

	mode := "remote"
	if fallback {
		mode = "fallback"
	}
	signsTotal.WithLabelValues(mode).Inc()

	return result, nil
}

// obtainSigned получает подписанные байты от удалённого сервиса
// либо деградирует к исходным байтам.
func (g *SigningGateway) obtainSigned(ctx context.Context, contractID, hash string, source []byte) (doc []byte, fallback bool, err error) {
	if g.remote == nil {
		signFallbackTotal.Inc()
		g.logger.Warn("Сервис подписи не сконфигурирован, используются исходные байты без подписи",
			slog.String("contract_id", contractID),
		)
		return source, true, nil
	}

	doc, err = g.remote.Sign(ctx, contractID, hash)
	if err != nil {
		if errors.Is(err, signclient.ErrInvalidPayload) {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return nil, false, fmt.Errorf("%w: %v", ErrSignerUnavailable, err)
	}

	if doc == nil {
		signFallbackTotal.Inc()
		g.logger.Warn("Сервис подписи вернул ответ без документа, используются исходные байты без подписи",
			slog.String("contract_id", contractID),
		)
		return source, true, nil
	}

	return doc, false, nil
}

// readDocument читает байты исходного документа с диска.
func (g *SigningGateway) readDocument(storagePath string) ([]byte, error) {
	f, err := g.docs.Open(storagePath)
	if err != nil {
		return nil, fmt.Errorf("чтение исходного документа: %w", err)
	}
	defer f.Close()

	doc, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("чтение исходного документа: %w", err)
	}
	return doc, nil
}
