package model

import "time"

// Статусы проверки подписи документа.
const (
	// ValidationValid — документ цел, подпись действительна.
	ValidationValid = "VALID"
	// ValidationExpired — подпись старше настроенного TTL.
	ValidationExpired = "EXPIRED"
	// ValidationUnsigned — подписанный вариант отсутствует либо
	// документ не содержит признаков встроенной подписи.
	ValidationUnsigned = "UNSIGNED"
	// ValidationTampered — содержимое изменено после подписания.
	ValidationTampered = "TAMPERED"
)

// ValidationResult — результат проверки подписи договора.
// Производное значение, не персистится.
type ValidationResult struct {
	// Status — вердикт проверки (VALID, EXPIRED, UNSIGNED, TAMPERED)
	Status string `json:"status"`
	// CalculatedHash — свежевычисленный hex SHA-256 файла
	CalculatedHash string `json:"hash"`
	// ExpectedHash — сохранённый hex SHA-256 подписанного документа
	ExpectedHash string `json:"expected_hash"`
	// SignedAt — время подписания (nil, если не подписан)
	SignedAt *time.Time `json:"signed_at,omitempty"`
	// Details — пояснение вердикта; ключ source — local или remote
	Details map[string]string `json:"details"`
}
