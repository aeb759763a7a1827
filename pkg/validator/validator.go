package validator

import (
	"net/mail"
	"strings"
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

func ValidateRegister(email, name, password string) ValidationErrors {
	errs := make(ValidationErrors)

	// Email
	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}

	// Name
	name = strings.TrimSpace(name)
	if name == "" {
		errs.Add("name", "Name is required")
	} else if len(name) < 2 {
		errs.Add("name", "Name must be at least 2 characters")
	} else if len(name) > 100 {
		errs.Add("name", "Name is too long")
	}

	// Password
	if len(password) < 8 {
		errs.Add("password", "Password must be at least 8 characters")
	}

	return errs
}

func ValidateLogin(email, password string) ValidationErrors {
	errs := make(ValidationErrors)

	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}

	if password == "" {
		errs.Add("password", "Password is required")
	}

	return errs
}
