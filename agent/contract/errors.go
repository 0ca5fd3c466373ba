package contract

import "errors"

var (
	ErrOracle     = errors.New("oracle call failed")
	ErrSpecialist = errors.New("specialist call failed")
	ErrValidation = errors.New("validation failed")
)
