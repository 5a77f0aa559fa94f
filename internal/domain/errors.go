package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation некорректные входные данные.
	ErrValidation = errors.New("некорректные данные")
	// ErrIllegalTransition нарушено правило автомата состояний.
	ErrIllegalTransition = errors.New("недопустимый переход")
	// ErrOutOfOrder ответ анкеты пришёл не по порядку.
	ErrOutOfOrder = errors.New("ответ не по порядку")
	// ErrIncomplete анкета заполнена не полностью.
	ErrIncomplete = errors.New("анкета не заполнена")
	// ErrStoreUnavailable хранилище недоступно после повторов.
	ErrStoreUnavailable = errors.New("хранилище недоступно")
	// ErrDuplicateHash похожий контент уже существует.
	ErrDuplicateHash = errors.New("похожий контент уже существует")
	// ErrDuplicateURL наблюдение с таким адресом уже сохранено.
	ErrDuplicateURL = errors.New("наблюдение уже сохранено")
	// ErrNotFound запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConsentRequired действие требует согласия пользователя.
	ErrConsentRequired = errors.New("нет согласия на обработку данных")
	// ErrForbidden у актора нет прав на действие.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrLLM провайдер LLM не вернул результат.
	ErrLLM = errors.New("ошибка LLM")
)

// ValidationError описывает отклонённый ввод.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap позволяет errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid создаёт ошибку валидации поля.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransportKind класс ошибки транспорта.
type TransportKind int

const (
	TransportTransient TransportKind = iota + 1
	TransportPermanent
)

func (k TransportKind) String() string {
	if k == TransportPermanent {
		return "permanent"
	}
	return "transient"
}

// TransportError ошибка внешнего канала.
type TransportError struct {
	Kind       TransportKind
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *TransportError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (%s, retry after %s): %v", e.Op, e.Kind, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transient оборачивает временную ошибку.
func Transient(op string, err error) error {
	return &TransportError{Kind: TransportTransient, Op: op, Err: err}
}

// Permanent оборачивает постоянную ошибку.
func Permanent(op string, err error) error {
	return &TransportError{Kind: TransportPermanent, Op: op, Err: err}
}

// FloodWait временная ошибка с указанным сервером ожиданием.
func FloodWait(op string, wait time.Duration, err error) error {
	return &TransportError{Kind: TransportTransient, Op: op, RetryAfter: wait, Err: err}
}

// IsTransient сообщает, можно ли повторить операцию.
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind == TransportTransient
	}
	return false
}

// IsPermanent сообщает о постоянной ошибке транспорта.
func IsPermanent(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind == TransportPermanent
	}
	return false
}

// RetryAfter возвращает ожидание, указанное сервером.
func RetryAfter(err error) time.Duration {
	var te *TransportError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// ResolveKind причина недоступности источника.
type ResolveKind string

const (
	ResolveNotFound       ResolveKind = "not_found"
	ResolveInviteRequired ResolveKind = "invite_required"
	ResolveTransport      ResolveKind = "transport"
)

// ResolveError структурированная ошибка резолва ссылки.
type ResolveError struct {
	Kind ResolveKind
	Link string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %s: %v", e.Link, e.Kind, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Advisory возвращает подсказку для операторов.
func (e *ResolveError) Advisory() string {
	switch e.Kind {
	case ResolveNotFound:
		return fmt.Sprintf("Источник %s не найден: публичное имя не существует или изменено.", e.Link)
	case ResolveInviteRequired:
		return fmt.Sprintf("Источник %s закрыт: нужна ссылка-приглашение и вступление аккаунта охотника.", e.Link)
	default:
		return fmt.Sprintf("Источник %s временно недоступен из-за ошибки транспорта, проверьте позже.", e.Link)
	}
}
