package cmd

import (
	apperrors "github.com/3leaps/simrun/internal/errors"
)

// exitError returns an error that makes Execute exit with code.
func exitError(code int, msg string, err error) error {
	return &apperrors.ExitError{Code: code, Message: msg, Err: err}
}
