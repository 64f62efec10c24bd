package model

import "time"

// AuditLogEntry — запись журнала аудита безопасности.
// Хранится в таблице audit_log. Идентификатор — UUID v7
// (сортируемый по времени). Записи никогда не изменяются
// и не удаляются (append-only).
type AuditLogEntry struct {
	// ID — UUID v7 записи
	ID string `json:"id"`
	// EntityType — тип сущности (короткое имя в верхнем регистре, например CONTRACT)
	EntityType string `json:"entity_type"`
	// EntityID — идентификатор сущности в строковой форме
	EntityID string `json:"entity_id"`
	// Action — действие (свободный глагол, например CONTRACT_VERIFIED)
	Action string `json:"action"`
	// ContentHash — hex SHA-256 содержимого документа (опционально)
	ContentHash *string `json:"content_hash,omitempty"`
	// Actor — идентификатор действующего пользователя (опционально)
	Actor *string `json:"actor,omitempty"`
	// IP — IP-адрес источника запроса (опционально)
	IP *string `json:"ip,omitempty"`
	// Metadata — произвольные дополнительные данные
	Metadata map[string]any `json:"metadata,omitempty"`
	// CreatedAt — время записи (UTC)
	CreatedAt time.Time `json:"created_at"`
}

// Actor — явный контекст действующего лица, передаваемый из HTTP-слоя
// в сервис аудита. Заменяет неявный глобальный lookup текущего запроса.
type Actor struct {
	// Subject — идентификатор пользователя или сервисного аккаунта
	Subject string
	// IP — IP-адрес клиента
	IP string
}
