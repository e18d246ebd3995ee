package service

import (
	"errors"

	"github.com/mmeshcher/loyalty-points/internal/validation"
)

var (
	// ErrValidation лежит в основе ошибок валидации входных данных.
	ErrValidation = validation.ErrInvalid
	// ErrProfileNotFound возвращается, если у пользователя нет связанной карточки клиента.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrInvalidCredentials возвращается при неверном email или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidLoginCode возвращается, если код входа неверен, истёк или уже использован.
	ErrInvalidLoginCode = errors.New("invalid or expired login code")
)

// ValidationError содержит ошибки по полям формы.
type ValidationError = validation.Error

func fieldError(field, message string) error {
	return &ValidationError{Fields: []validation.FieldError{{Field: field, Message: message}}}
}
