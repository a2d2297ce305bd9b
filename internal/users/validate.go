package users

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kozaktomas/face-gate/internal/apperr"
)

const (
	maxNameLength  = 100
	maxEmailLength = 255
)

var emailPattern = regexp.MustCompile(`^[\p{L}\p{N}_.-]+@[\p{L}\p{N}_.-]+\.[\p{L}\p{N}_]+$`)

// CreateInput is a registration request.
type CreateInput struct {
	Name    string
	Surname string
	Email   string
	Image   []byte
}

// UpdateInput changes a user. Nil fields and an empty image are left unchanged.
type UpdateInput struct {
	Name    *string
	Surname *string
	Email   *string
	Image   []byte
}

func (in UpdateInput) empty() bool {
	return in.Name == nil && in.Surname == nil && in.Email == nil && len(in.Image) == 0
}

func validateName(field, value string) (string, error) {
	v := cleanText(value)
	if v == "" {
		return "", apperr.Invalid(field, "must not be empty")
	}
	if utf8.RuneCountInString(v) > maxNameLength {
		return "", apperr.Invalid(field, "must be at most %d characters", maxNameLength)
	}
	return v, nil
}

func validateEmail(value string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return "", apperr.Invalid("email", "must not be empty")
	}
	if len(v) > maxEmailLength {
		return "", apperr.Invalid("email", "must be at most %d characters", maxEmailLength)
	}
	if !emailPattern.MatchString(v) {
		return "", apperr.Invalid("email", "invalid format")
	}
	return v, nil
}

func (in CreateInput) normalize() (CreateInput, error) {
	var err error
	if in.Name, err = validateName("nombre", in.Name); err != nil {
		return in, err
	}
	if in.Surname, err = validateName("apellido", in.Surname); err != nil {
		return in, err
	}
	if in.Email, err = validateEmail(in.Email); err != nil {
		return in, err
	}
	if len(in.Image) == 0 {
		return in, apperr.Invalid("imagen", "image is required")
	}
	return in, nil
}

func (in UpdateInput) normalize() (UpdateInput, error) {
	if in.Name != nil {
		v, err := validateName("nombre", *in.Name)
		if err != nil {
			return in, err
		}
		in.Name = &v
	}
	if in.Surname != nil {
		v, err := validateName("apellido", *in.Surname)
		if err != nil {
			return in, err
		}
		in.Surname = &v
	}
	if in.Email != nil {
		v, err := validateEmail(*in.Email)
		if err != nil {
			return in, err
		}
		in.Email = &v
	}
	return in, nil
}
