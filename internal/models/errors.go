// Package models holds what the trainers under internal/models share.
package models

import "errors"

var (
	// ErrConfig marks a run that cannot start: invalid hyperparameters, a
	// stream too short for one window, or mismatched context dimensions.
	ErrConfig = errors.New("invalid configuration")

	// ErrNumerical marks a NaN or infinite loss or gradient norm.
	ErrNumerical = errors.New("numerical instability")
)
