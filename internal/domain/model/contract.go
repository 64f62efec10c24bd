package model

import "time"

// Статусы жизненного цикла договора.
const (
	// ContractStatusQueued — договор создан, документ ещё не сформирован.
	ContractStatusQueued = "QUEUED"
	// ContractStatusGenerated — документ сформирован, хэш зафиксирован.
	ContractStatusGenerated = "GENERATED"
	// ContractStatusSigning — договор захвачен на подписание (переходное состояние).
	ContractStatusSigning = "SIGNING"
	// ContractStatusSigned — подписанный вариант сохранён.
	ContractStatusSigned = "SIGNED"
)

// Варианты документа договора.
const (
	// VariantOriginal — неподписанный документ.
	VariantOriginal = "original"
	// VariantSigned — подписанный документ.
	VariantSigned = "signed"
)

// Contract — договор постоя, привязанный к бронированию.
// Хранится в таблице contracts. Идентификатор — UUID v4,
// чтобы исключить перебор последовательных номеров.
type Contract struct {
	// ID — UUID договора
	ID string
	// BookingID — UUID бронирования (один договор на бронирование)
	BookingID string
	// UnsignedPath — относительный путь неподписанного документа в хранилище
	UnsignedPath string
	// UnsignedHash — hex SHA-256 неподписанного документа
	UnsignedHash string
	// Status — статус жизненного цикла (QUEUED, GENERATED, SIGNING, SIGNED)
	Status string
	// SignedPath — путь подписанного документа (nil до подписания)
	SignedPath *string
	// SignedHash — hex SHA-256 подписанного документа (nil до подписания)
	SignedHash *string
	// SignedAt — время подписания (nil до подписания)
	SignedAt *time.Time
	// AuditTrail — упорядоченный журнал событий договора (append-only)
	AuditTrail []ContractAuditEntry
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// IsSigned сообщает, зафиксирован ли подписанный вариант.
// Инвариант: signed_path и signed_hash либо оба nil, либо оба заданы;
// статус SIGNED — тогда и только тогда, когда оба заданы.
func (c *Contract) IsSigned() bool {
	return c.SignedPath != nil && c.SignedHash != nil
}

// ContractAuditEntry — событие жизненного цикла договора.
// Хранится в таблице contract_audit_entries (отношение один-ко-многим,
// записи никогда не изменяются и не удаляются).
type ContractAuditEntry struct {
	// ID — последовательный идентификатор записи
	ID int64
	// ContractID — UUID договора
	ContractID string
	// Action — действие (generated, signed, ...)
	Action string
	// Hash — hex SHA-256 документа на момент события (опционально)
	Hash *string
	// CreatedAt — время события
	CreatedAt time.Time
}

// Booking — снимок данных бронирования, необходимый для формирования
// договора. CRUD бронирований — внешний коллаборатор; сюда попадает
// только то, что нужно рендереру документа.
type Booking struct {
	// ID — UUID бронирования
	ID string `json:"id"`
	// HorseName — кличка лошади
	HorseName string `json:"horse_name"`
	// CustomerName — имя клиента
	CustomerName string `json:"customer_name"`
	// CustomerEmail — email клиента
	CustomerEmail string `json:"customer_email"`
	// StartsAt — начало постоя
	StartsAt time.Time `json:"starts_at"`
	// EndsAt — окончание постоя
	EndsAt time.Time `json:"ends_at"`
	// PriceCents — стоимость в центах
	PriceCents int64 `json:"price_cents"`
	// Currency — валюта (ISO 4217)
	Currency string `json:"currency"`
}
