package domain

import (
	"errors"
	"fmt"
)

// Базовые виды ошибок. Транспорт сопоставляет их с HTTP-статусами через errors.Is.
var (
	// ErrInvalidInput отсутствующие или некорректные поля запроса.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmptyCart оформление заказа из пустой корзины.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrNotFound сущность не найдена.
	ErrNotFound = errors.New("not found")
	// ErrForbidden заказ принадлежит другому пользователю.
	ErrForbidden = errors.New("access denied")
	// ErrInvalidStatus статус вне допустимого набора.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInvalidTransition переход статуса запрещён политикой.
	ErrInvalidTransition = errors.New("status transition not allowed")
	// ErrConflict конкурентное изменение одной и той же записи.
	ErrConflict = errors.New("conflict")
	// ErrUnauthenticated токен отсутствует или не распознан.
	ErrUnauthenticated = errors.New("not authenticated")
)

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrProductNotFound возвращается, если товара нет в каталоге.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	// ErrCartItemNotFound возвращается, если позиции нет в корзине.
	ErrCartItemNotFound = fmt.Errorf("item %w in cart", ErrNotFound)
	// ErrUserNotFound возвращается, если профиль пользователя отсутствует.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	// ErrInsufficientStock остатка товара не хватает на запрошенное количество.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrVersionConflict = fmt.Errorf("version %w", ErrConflict)
	// ErrStatusConflict статус заказа изменился между чтением и записью.
	ErrStatusConflict = fmt.Errorf("order status %w", ErrConflict)
	// ErrOrderAlreadyExists запись с таким ID уже существует.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOutboxPublish ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrIdempotencyKeyRequired пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists ключ уже зарегистрирован другим запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyKeyNotFound ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyHashMismatch ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// Error несёт человекочитаемое сообщение и вид ошибки для errors.Is.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// NewError создаёт ошибку заданного вида с сообщением для клиента.
func NewError(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsIdempotencyConflict сообщает, что ключ уже занят или использован с другим запросом.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsNotFound сообщает, что ошибка означает отсутствие сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
