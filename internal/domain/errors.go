package domain

import "errors"

// Domain errors
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrNameTaken       = errors.New("display name already taken")
	ErrProviderLinked  = errors.New("provider identity linked to another account")
	ErrUnauthorized    = errors.New("identity provider rejected credential")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnavailable     = errors.New("temporarily unavailable")
	ErrConfirmRequired = errors.New("confirmation token required")
	ErrInsuranceUsed   = errors.New("insurance already used this season")
	ErrInsuranceLocked = errors.New("insurance not unlocked")
	ErrInternalError   = errors.New("internal server error")
)

// IsNotFound checks if an error is a not-found type error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

// IsConflict checks if an error is a conflict type error
func IsConflict(err error) bool {
	return errors.Is(err, ErrNameTaken) || errors.Is(err, ErrProviderLinked)
}
