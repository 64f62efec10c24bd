// contracts.go — сервис жизненного цикла договоров.
// Оркестрация generate → sign → verify: владеет записью Contract,
// пишет события в журнал договора и журнал аудита.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/domain/model"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/repository"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/storage/docstore"
)

// Действия журнала аудита договоров.
const (
	actionContractGenerated  = "CONTRACT_GENERATED"
	actionContractSigned     = "CONTRACT_SIGNED"
	actionContractVerified   = "CONTRACT_VERIFIED"
	actionContractDownloaded = "CONTRACT_DOWNLOADED"
)

// entityContract — тип сущности договора в журнале аудита.
const entityContract = "CONTRACT"

// Prometheus-метрики жизненного цикла договоров.
var (
	contractsGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_contracts_generated_total",
		Help: "Общее количество сформированных документов договоров.",
	})

	contractsSignedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_contracts_signed_total",
		Help: "Общее количество подписанных договоров.",
	})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_downloads_total",
		Help: "Общее количество скачиваний документов (по варианту).",
	}, []string{"variant"})
)

// Renderer — сервис рендеринга документа по данным бронирования.
// Реализуется signclient.RendererClient.
type Renderer interface {
	Render(ctx context.Context, booking any) ([]byte, error)
}

// ContractTx выполняет операции с репозиторием договоров в одной
// транзакции. Реализуется repository.TxRunner.
type ContractTx interface {
	Contracts(ctx context.Context, fn func(repo repository.ContractRepository) error) error
}

// Download — авторизованное скачивание документа договора.
type Download struct {
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Filename — имя файла для заголовка Content-Disposition
	Filename string
	// Contract — договор, которому принадлежит документ
	Contract *model.Contract
}

// ContractService — сервис жизненного цикла договоров.
type ContractService struct {
	repo     repository.ContractRepository
	tx       ContractTx
	docs     *docstore.DocStore
	renderer Renderer
	gateway  *SigningGateway
	verifier *VerifierService
	links    *LinkCodec
	audit    *AuditService
	logger   *slog.Logger
}

// NewContractService создаёт сервис жизненного цикла договоров.
func NewContractService(
	repo repository.ContractRepository,
	tx ContractTx,
	docs *docstore.DocStore,
	renderer Renderer,
	gateway *SigningGateway,
	verifier *VerifierService,
	links *LinkCodec,
	audit *AuditService,
	logger *slog.Logger,
) *ContractService {
	return &ContractService{
		repo:     repo,
		tx:       tx,
		docs:     docs,
		renderer: renderer,
		gateway:  gateway,
		verifier: verifier,
		links:    links,
		audit:    audit,
		logger:   logger.With(slog.String("component", "contract_service")),
	}
}

// Generate формирует документ договора для бронирования.
// Повторный вызов для неподписанного договора перерендеривает документ
// и перезаписывает хэш. Подписанный или подписываемый договор не
// перегенерируется (ErrConflict): подписанный файл перестал бы
// соответствовать исходнику.
func (s *ContractService) Generate(ctx context.Context, bookingID string, booking *model.Booking, actor *model.Actor) (*model.Contract, error) {
	if _, err := uuid.Parse(bookingID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidID, bookingID)
	}

	c, err := s.repo.GetByBookingID(ctx, bookingID)
	creating := false
	switch {
	case errors.Is(err, repository.ErrNotFound):
		creating = true
		c = &model.Contract{
			ID:        uuid.New().String(),
			BookingID: bookingID,
			Status:    model.ContractStatusGenerated,
		}
	case err != nil:
		return nil, fmt.Errorf("поиск договора бронирования: %w", err)
	default:
		if c.Status == model.ContractStatusSigned || c.Status == model.ContractStatusSigning {
			return nil, fmt.Errorf("%w: договор уже подписан", ErrConflict)
		}
	}

	doc, err := s.renderer.Render(ctx, booking)
	if err != nil {
		return nil, fmt.Errorf("рендеринг документа: %w", err)
	}

	saved, err := s.docs.Save(bytes.NewReader(doc), c.ID, model.VariantOriginal)
	if err != nil {
		return nil, fmt.Errorf("сохранение документа: %w", err)
	}
	c.UnsignedPath = saved.StoragePath
	c.UnsignedHash = saved.Checksum

	// Договор и событие "generated" фиксируются одной транзакцией
	entry := model.ContractAuditEntry{ContractID: c.ID, Action: "generated", Hash: &saved.Checksum}
	err = s.tx.Contracts(ctx, func(repo repository.ContractRepository) error {
		if creating {
			if err := repo.Create(ctx, c); err != nil {
				return err
			}
		} else {
			if err := repo.UpdateGenerated(ctx, c.ID, c.UnsignedPath, c.UnsignedHash); err != nil {
				return err
			}
		}
		return repo.AppendAuditEntry(ctx, &entry)
	})
	switch {
	case errors.Is(err, repository.ErrConflict) && creating:
		return nil, fmt.Errorf("%w: у бронирования уже есть договор", ErrConflict)
	case errors.Is(err, repository.ErrConflict):
		// Гонка с подписанием между проверкой статуса и UPDATE
		return nil, fmt.Errorf("%w: договор уже подписан", ErrConflict)
	case err != nil:
		return nil, fmt.Errorf("сохранение договора: %w", err)
	}
	if !creating {
		c.Status = model.ContractStatusGenerated
	}
	c.AuditTrail = append(c.AuditTrail, entry)

	s.auditLog(ctx, c.ID, actionContractGenerated, map[string]any{
		"hash":       saved.Checksum,
		"booking_id": bookingID,
		"size":       saved.Size,
	}, actor)

	contractsGeneratedTotal.Inc()
	s.logger.Info("Документ договора сформирован",
		slog.String("contract_id", c.ID),
		slog.String("booking_id", bookingID),
		slog.String("hash", saved.Checksum),
		slog.Int64("size", saved.Size),
	)

	return c, nil
}

// Sign подписывает договор.
// Договор атомарно захватывается условным переходом GENERATED → SIGNING:
// при одновременных запросах побеждает ровно один, остальные получают
// ErrConflict. При ошибке подписания захват снимается.
func (s *ContractService) Sign(ctx context.Context, contractID string, actor *model.Actor) (*model.Contract, error) {
	c, err := s.getByID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	if c.IsSigned() {
		return c, nil
	}

	if err := s.repo.ClaimForSigning(ctx, c.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: договор уже подписывается", ErrConflict)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("захват договора: %w", err)
	}

	result, err := s.gateway.Sign(ctx, c)
	if err != nil {
		s.releaseClaim(ctx, c.ID)
		return nil, err
	}

	saved, err := s.docs.Save(bytes.NewReader(result.Document), c.ID, model.VariantSigned)
	if err != nil {
		s.releaseClaim(ctx, c.ID)
		return nil, fmt.Errorf("сохранение подписанного документа: %w", err)
	}

	c.SignedPath = &saved.StoragePath
	c.SignedHash = &result.Hash
	c.SignedAt = &result.SignedAt

	// Переход SIGNING → SIGNED и событие "signed" фиксируются одной
	// транзакцией: подписанный договор без записи в журнале невозможен
	entry := model.ContractAuditEntry{ContractID: c.ID, Action: "signed", Hash: &result.Hash}
	err = s.tx.Contracts(ctx, func(repo repository.ContractRepository) error {
		if err := repo.UpdateSigned(ctx, c); err != nil {
			return err
		}
		return repo.AppendAuditEntry(ctx, &entry)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: договор уже подписан", ErrConflict)
		}
		s.releaseClaim(ctx, c.ID)
		return nil, fmt.Errorf("фиксация подписания: %w", err)
	}
	c.AuditTrail = append(c.AuditTrail, entry)

	s.auditLog(ctx, c.ID, actionContractSigned, map[string]any{
		"hash":     result.Hash,
		"fallback": result.Fallback,
	}, actor)

	contractsSignedTotal.Inc()
	s.logger.Info("Договор подписан",
		slog.String("contract_id", c.ID),
		slog.String("hash", result.Hash),
		slog.Bool("fallback", result.Fallback),
	)

	return c, nil
}

// Verify проверяет целостность подписанного договора.
// Договор не мутируется; результат проверки записывается в журнал аудита.
func (s *ContractService) Verify(ctx context.Context, contractID string, actor *model.Actor) (*model.ValidationResult, error) {
	c, err := s.getByID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	result, err := s.verifier.Verify(ctx, c)
	if err != nil {
		return nil, err
	}

	s.auditLog(ctx, c.ID, actionContractVerified, map[string]any{
		"hash":   result.CalculatedHash,
		"status": result.Status,
		"source": result.Details["source"],
	}, actor)

	return result, nil
}

// GetByBookingID возвращает договор бронирования.
func (s *ContractService) GetByBookingID(ctx context.Context, bookingID string) (*model.Contract, error) {
	if _, err := uuid.Parse(bookingID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidID, bookingID)
	}

	c, err := s.repo.GetByBookingID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("поиск договора бронирования: %w", err)
	}
	return c, nil
}

// IssueLink выдаёт подписанную ссылку скачивания варианта документа.
// Вариант signed доступен только для подписанного договора.
func (s *ContractService) IssueLink(ctx context.Context, contractID, variant string) (*SignedLink, error) {
	c, err := s.getByID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	if _, err := s.variantPath(c, variant); err != nil {
		return nil, err
	}

	link := s.links.Issue(c.ID, variant)
	return &link, nil
}

// Download проверяет подписанную ссылку и возвращает данные
// для выдачи файла. Истёкшая ссылка → ErrLinkExpired, неверный
// токен → ErrLinkForbidden.
func (s *ContractService) Download(ctx context.Context, contractID, variant string, expires int64, token string, actor *model.Actor) (*Download, error) {
	if err := s.links.Verify(contractID, variant, expires, token); err != nil {
		return nil, err
	}

	c, err := s.getByID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	path, err := s.variantPath(c, variant)
	if err != nil {
		return nil, err
	}

	if !s.docs.Exists(path) {
		return nil, fmt.Errorf("%w: файл документа отсутствует", ErrNotFound)
	}

	s.auditLog(ctx, c.ID, actionContractDownloaded, map[string]any{
		"variant": variant,
	}, actor)
	downloadsTotal.WithLabelValues(variant).Inc()

	return &Download{
		FullPath: s.docs.FullPath(path),
		Filename: fmt.Sprintf("contract-%s-%s.pdf", c.ID, variant),
		Contract: c,
	}, nil
}

// getByID возвращает договор по UUID с маппингом ошибок слоя репозитория.
func (s *ContractService) getByID(ctx context.Context, contractID string) (*model.Contract, error) {
	if _, err := uuid.Parse(contractID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidID, contractID)
	}

	c, err := s.repo.GetByID(ctx, contractID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("поиск договора: %w", err)
	}
	return c, nil
}

// variantPath возвращает путь файла запрошенного варианта документа.
func (s *ContractService) variantPath(c *model.Contract, variant string) (string, error) {
	switch variant {
	case model.VariantOriginal:
		return c.UnsignedPath, nil
	case model.VariantSigned:
		if !c.IsSigned() {
			return "", fmt.Errorf("%w: подписанный вариант отсутствует", ErrNotFound)
		}
		return *c.SignedPath, nil
	default:
		return "", fmt.Errorf("%w: недопустимый вариант %q", ErrValidation, variant)
	}
}

// auditLog пишет событие в журнал аудита.
// Ошибка записи логируется: журнал не должен блокировать операцию,
// уже зафиксированную в таблице договоров.
func (s *ContractService) auditLog(ctx context.Context, contractID, action string, meta map[string]any, actor *model.Actor) {
	if _, err := s.audit.Log(ctx, entityContract, contractID, action, meta, actor); err != nil {
		s.logger.Error("Ошибка записи журнала аудита",
			slog.String("contract_id", contractID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

// releaseClaim снимает захват подписания после неудачи.
func (s *ContractService) releaseClaim(ctx context.Context, contractID string) {
	if err := s.repo.ReleaseSigningClaim(ctx, contractID); err != nil {
		s.logger.Error("Ошибка снятия захвата подписания",
			slog.String("contract_id", contractID),
			slog.String("error", err.Error()),
		)
	}
}
