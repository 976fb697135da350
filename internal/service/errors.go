package service

import (
	"errors"

	"github.com/escrowdesk/platform/internal/domain"
)

// internal wraps infrastructure failures; domain errors pass through untouched.
func internal(msg string, err error) error {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return domain.ErrInternal(msg, err)
}
