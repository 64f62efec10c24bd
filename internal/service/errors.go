// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrInvalidID — некорректный идентификатор (не UUID).
	ErrInvalidID = errors.New("некорректный идентификатор")
	// ErrConflict — конфликт (дублирующийся ресурс или одновременное подписание).
	ErrConflict = errors.New("конфликт — операция уже выполняется или выполнена")
	// ErrSourceMissing — исходный файл договора отсутствует на диске.
	ErrSourceMissing = errors.New("исходный файл договора отсутствует")
	// ErrSignerUnavailable — сервис подписи недоступен (повторяемая ошибка).
	ErrSignerUnavailable = errors.New("сервис подписи недоступен")
	// ErrInvalidPayload — некорректный ответ внешнего сервиса.
	ErrInvalidPayload = errors.New("некорректный ответ внешнего сервиса")
	// ErrLinkExpired — срок действия ссылки скачивания истёк.
	ErrLinkExpired = errors.New("срок действия ссылки истёк")
	// ErrLinkForbidden — токен ссылки скачивания не прошёл проверку.
	ErrLinkForbidden = errors.New("недействительный токен ссылки")
	// ErrSigningDisabled — подписание договоров выключено конфигурацией.
	ErrSigningDisabled = errors.New("подписание договоров выключено")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)
