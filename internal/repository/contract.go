package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/domain/model"
)

// ContractRepository — интерфейс доступа к таблицам contracts
// и contract_audit_entries.
type ContractRepository interface {
	// Create создаёт новую запись договора.
	Create(ctx context.Context, c *model.Contract) error
	// GetByID возвращает договор по UUID вместе с журналом событий.
	GetByID(ctx context.Context, contractID string) (*model.Contract, error)
	// GetByBookingID возвращает договор бронирования вместе с журналом событий.
	GetByBookingID(ctx context.Context, bookingID string) (*model.Contract, error)
	// UpdateGenerated фиксирует результат формирования документа.
	// Договор в статусе SIGNING или SIGNED не обновляется —
	// возвращается ErrConflict.
	UpdateGenerated(ctx context.Context, contractID, unsignedPath, unsignedHash string) error
	// ClaimForSigning атомарно переводит договор GENERATED → SIGNING.
	// Возвращает ErrConflict, если договор уже захвачен или подписан.
	ClaimForSigning(ctx context.Context, contractID string) error
	// ReleaseSigningClaim возвращает договор SIGNING → GENERATED
	// (откат после неудачного подписания).
	ReleaseSigningClaim(ctx context.Context, contractID string) error
	// UpdateSigned фиксирует результат подписания (SIGNING → SIGNED).
	UpdateSigned(ctx context.Context, c *model.Contract) error
	// AppendAuditEntry добавляет запись в журнал событий договора.
	AppendAuditEntry(ctx context.Context, e *model.ContractAuditEntry) error
}

// contractRepo — реализация ContractRepository.
type contractRepo struct {
	db DBTX
}

// NewContractRepository создаёт репозиторий договоров.
func NewContractRepository(db DBTX) ContractRepository {
	return &contractRepo{db: db}
}

func (r *contractRepo) Create(ctx context.Context, c *model.Contract) error {
	query := `
		INSERT INTO contracts (id, booking_id, unsigned_path, unsigned_hash, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		c.ID, c.BookingID, c.UnsignedPath, c.UnsignedHash, c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: у бронирования уже есть договор", ErrConflict)
		}
		return fmt.Errorf("ошибка создания договора: %w", err)
	}
	return nil
}

// contractColumns — список колонок для SELECT договора.
const contractColumns = `id, booking_id, unsigned_path, unsigned_hash, status,
		signed_path, signed_hash, signed_at, created_at, updated_at`

func (r *contractRepo) GetByID(ctx context.Context, contractID string) (*model.Contract, error) {
	query := fmt.Sprintf(`SELECT %s FROM contracts WHERE id = $1`, contractColumns)
	return r.getOne(ctx, query, contractID)
}

func (r *contractRepo) GetByBookingID(ctx context.Context, bookingID string) (*model.Contract, error) {
	query := fmt.Sprintf(`SELECT %s FROM contracts WHERE booking_id = $1`, contractColumns)
	return r.getOne(ctx, query, bookingID)
}

// getOne выполняет запрос одного договора и догружает журнал событий.
func (r *contractRepo) getOne(ctx context.Context, query, arg string) (*model.Contract, error) {
	c := &model.Contract{}
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&c.ID, &c.BookingID, &c.UnsignedPath, &c.UnsignedHash, &c.Status,
		&c.SignedPath, &c.SignedHash, &c.SignedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения договора: %w", err)
	}

	trail, err := r.auditTrail(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.AuditTrail = trail

	return c, nil
}

// auditTrail возвращает журнал событий договора в порядке создания.
func (r *contractRepo) auditTrail(ctx context.Context, contractID string) ([]model.ContractAuditEntry, error) {
	query := `
		SELECT id, contract_id, action, hash, created_at
		FROM contract_audit_entries
		WHERE contract_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query, contractID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала договора: %w", err)
	}
	defer rows.Close()

	var trail []model.ContractAuditEntry
	for rows.Next() {
		var e model.ContractAuditEntry
		if err := rows.Scan(&e.ID, &e.ContractID, &e.Action, &e.Hash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи журнала: %w", err)
		}
		trail = append(trail, e)
	}
	return trail, rows.Err()
}

// UpdateGenerated — условный UPDATE: подписанный или захваченный на
// подписание договор не перегенерируется, иначе подписанный файл
// перестал бы соответствовать перерендеренному исходнику.
func (r *contractRepo) UpdateGenerated(ctx context.Context, contractID, unsignedPath, unsignedHash string) error {
	query := `
		UPDATE contracts
		SET unsigned_path = $2, unsigned_hash = $3, status = $4, updated_at = now()
		WHERE id = $1 AND status IN ($4, $5)`

	tag, err := r.db.Exec(ctx, query,
		contractID, unsignedPath, unsignedHash,
		model.ContractStatusGenerated, model.ContractStatusQueued,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления договора: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Либо договор не существует, либо уже SIGNING/SIGNED
		if _, getErr := r.GetByID(ctx, contractID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: договор уже подписан или подписывается", ErrConflict)
	}
	return nil
}

// ClaimForSigning — атомарный захват договора на подписание.
// Условный UPDATE защищает от одновременного двойного подписания:
// побеждает ровно один запрос, остальные получают ErrConflict.
func (r *contractRepo) ClaimForSigning(ctx context.Context, contractID string) error {
	query := `
		UPDATE contracts
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`

	tag, err := r.db.Exec(ctx, query,
		contractID, model.ContractStatusSigning, model.ContractStatusGenerated,
	)
	if err != nil {
		return fmt.Errorf("ошибка захвата договора на подписание: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Либо договор не существует, либо уже SIGNING/SIGNED
		if _, getErr := r.GetByID(ctx, contractID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: договор уже подписывается или подписан", ErrConflict)
	}
	return nil
}

func (r *contractRepo) ReleaseSigningClaim(ctx context.Context, contractID string) error {
	query := `
		UPDATE contracts
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`

	tag, err := r.db.Exec(ctx, query,
		contractID, model.ContractStatusGenerated, model.ContractStatusSigning,
	)
	if err != nil {
		return fmt.Errorf("ошибка освобождения договора: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *contractRepo) UpdateSigned(ctx context.Context, c *model.Contract) error {
	query := `
		UPDATE contracts
		SET signed_path = $2, signed_hash = $3, signed_at = $4, status = $5, updated_at = now()
		WHERE id = $1 AND status = $6
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		c.ID, c.SignedPath, c.SignedHash, c.SignedAt,
		model.ContractStatusSigned, model.ContractStatusSigning,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("%w: договор не захвачен на подписание", ErrConflict)
		}
		return fmt.Errorf("ошибка фиксации подписания: %w", err)
	}
	c.Status = model.ContractStatusSigned
	return nil
}

func (r *contractRepo) AppendAuditEntry(ctx context.Context, e *model.ContractAuditEntry) error {
	query := `
		INSERT INTO contract_audit_entries (contract_id, action, hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query, e.ContractID, e.Action, e.Hash).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка добавления записи журнала договора: %w", err)
	}
	return nil
}
