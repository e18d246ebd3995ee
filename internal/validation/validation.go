// Package validation содержит проверки входных данных форм.
package validation

import (
	"errors"
	"net/mail"
	"strings"
)

// ErrInvalid лежит в основе всех ошибок валидации.
var ErrInvalid = errors.New("validation failed")

// FieldError описывает ошибку в одном поле формы.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error содержит все ошибки, найденные в форме.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return ErrInvalid.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap позволяет сравнивать ошибку через errors.Is(err, ErrInvalid).
func (e *Error) Unwrap() error {
	return ErrInvalid
}

// Checker накапливает ошибки полей.
type Checker struct {
	fields []FieldError
}

// Check добавляет ошибку, если условие ok не выполнено.
func (c *Checker) Check(ok bool, field, message string) {
	if !ok {
		c.fields = append(c.fields, FieldError{Field: field, Message: message})
	}
}

// Required проверяет, что значение не пустое после удаления пробелов.
func (c *Checker) Required(field, value string) {
	c.Check(!IsBlank(value), field, "is required")
}

// NonNegative проверяет, что значение не меньше нуля.
func (c *Checker) NonNegative(field string, value int64) {
	c.Check(value >= 0, field, "must not be negative")
}

// InRange проверяет, что значение лежит в отрезке [lo, hi].
func (c *Checker) InRange(field string, value, lo, hi int64) {
	c.Check(value >= lo && value <= hi, field, "is out of range")
}

// Err возвращает *Error, если были ошибки, иначе nil.
func (c *Checker) Err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return &Error{Fields: c.fields}
}

// IsBlank сообщает, состоит ли строка только из пробельных символов.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// NormalizeEmail приводит адрес к нижнему регистру и проверяет его формат.
func NormalizeEmail(email string) (string, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", false
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}

	return email, true
}
