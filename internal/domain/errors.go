package domain

import "errors"

var (
	ErrSignatureInvalid  = errors.New("signature invalid")
	ErrNotFound          = errors.New("not found")
	ErrTargetUnknown     = errors.New("job target unknown")
	ErrFilterNotAllowed  = errors.New("filter field not allowed")
	ErrProofInvalid      = errors.New("merkle proof invalid")
	ErrIssuanceRevoked   = errors.New("credential issuance revoked")
	ErrHolderNotIncluded = errors.New("holder not included in issuance")
)
