// linktoken.go — кодек подписанных ссылок скачивания.
// Ссылка авторизует доступ к конкретному варианту документа на ограниченное
// время без серверного состояния: токен — HMAC-SHA256 от тройки
// (contract_id, expires, variant). Списка отзыва нет, безопасность
// держится на коротком сроке действия и секрете.
package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SignedLink — выданная ссылка скачивания.
type SignedLink struct {
	// ContractID — UUID договора
	ContractID string `json:"contract_id"`
	// Variant — вариант документа: original или signed
	Variant string `json:"variant"`
	// Expires — момент истечения (Unix-время, секунды)
	Expires int64 `json:"expires"`
	// Token — hex HMAC-SHA256 токен
	Token string `json:"token"`
}

// LinkCodec — генерация и проверка токенов подписанных ссылок.
type LinkCodec struct {
	secret []byte
	ttl    time.Duration
	// now — источник времени, подменяется в тестах
	now func() time.Time
}

// NewLinkCodec создаёт кодек ссылок.
// secret — HMAC-секрет (CM_LINK_SECRET), ttl — срок действия ссылки (CM_LINK_TTL).
func NewLinkCodec(secret string, ttl time.Duration) *LinkCodec {
	return &LinkCodec{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue выдаёт ссылку на вариант документа договора.
func (c *LinkCodec) Issue(contractID, variant string) SignedLink {
	expires := c.now().Add(c.ttl).Unix()
	return SignedLink{
		ContractID: contractID,
		Variant:    variant,
		Expires:    expires,
		Token:      c.token(contractID, expires, variant),
	}
}

// Verify проверяет тройку (contract_id, expires, variant) и токен.
// Истёкшая ссылка → ErrLinkExpired (проверяется первой, до токена).
// Неверный токен → ErrLinkForbidden. Сравнение токенов — constant-time.
func (c *LinkCodec) Verify(contractID, variant string, expires int64, token string) error {
	if expires < c.now().Unix() {
		return ErrLinkExpired
	}

	expected := c.token(contractID, expires, variant)
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return ErrLinkForbidden
	}
	return nil
}

// token вычисляет hex HMAC-SHA256 от "contractID.expires.variant".
func (c *LinkCodec) token(contractID string, expires int64, variant string) string {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "%s.%d.%s", contractID, expires, variant)
	return hex.EncodeToString(mac.Sum(nil))
}
