package service

import (
	"errors"
	"fmt"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrGreetingNotFound   = errors.New("greeting not found")
	ErrUpdateFailed       = errors.New("update failed")
	ErrDeliveryFailed     = errors.New("mail delivery failed")
	ErrMissingSigningKey  = errors.New("token signing key is required")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Every token failure matches ErrInvalidToken with errors.Is.
var (
	ErrTokenExpired     = fmt.Errorf("%w: token has expired", ErrInvalidToken)
	ErrTokenMalformed   = fmt.Errorf("%w: token is malformed", ErrInvalidToken)
	ErrSignatureInvalid = fmt.Errorf("%w: token signature is invalid", ErrInvalidToken)
	ErrTokenPurpose     = fmt.Errorf("%w: token issued for another purpose", ErrInvalidToken)
	ErrTokenAlreadyUsed = fmt.Errorf("%w: token has already been used", ErrInvalidToken)

	ErrWeakPassword = fmt.Errorf("%w: password does not meet policy requirements", ErrInvalidArgument)
)
