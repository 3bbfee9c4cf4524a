package service

import (
	"errors"
	"strconv"
	"time"

	"github.com/vibast-solutions/ms-go-greeting/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	PurposeSession = "session"
	PurposeReset   = "reset"
)

type SessionClaims struct {
	UserID  uint64 `json:"user_id"`
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

type ResetClaims struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

type TokenServiceOption func(*TokenService)

func WithClock(now func() time.Time) TokenServiceOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

type TokenService struct {
	secret     []byte
	issuer     string
	audience   string
	sessionTTL time.Duration
	resetTTL   time.Duration
	now        func() time.Time
}

func NewTokenService(cfg config.JWTConfig, opts ...TokenServiceOption) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSigningKey
	}

	s := &TokenService{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		sessionTTL: cfg.SessionTokenTTL,
		resetTTL:   cfg.ResetTokenTTL,
		now:        time.Now,
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = time.Hour
	}
	if s.resetTTL <= 0 {
		s.resetTTL = 15 * time.Minute
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *TokenService) SessionTTL() time.Duration {
	return s.sessionTTL
}

func (s *TokenService) IssueSessionToken(userID uint64, email string) (string, error) {
	claims := &SessionClaims{
		UserID:           userID,
		Email:            email,
		Purpose:          PurposeSession,
		RegisteredClaims: s.registeredClaims(strconv.FormatUint(userID, 10), s.sessionTTL),
	}
	return s.sign(claims)
}

func (s *TokenService) IssueResetToken(email string) (string, *ResetClaims, error) {
	claims := &ResetClaims{
		Email:            email,
		Purpose:          PurposeReset,
		RegisteredClaims: s.registeredClaims(email, s.resetTTL),
	}
	token, err := s.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

func (s *TokenService) ValidateSessionToken(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Purpose != PurposeSession {
		return nil, ErrTokenPurpose
	}

	subject, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || subject == 0 || subject != claims.UserID {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

func (s *TokenService) ValidateResetToken(tokenString string) (*ResetClaims, error) {
	claims := &ResetClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Purpose != PurposeReset {
		return nil, ErrTokenPurpose
	}
	if claims.Email == "" || claims.ID == "" {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// RemainingLifetime is how long a validated reset token stays usable.
func (s *TokenService) RemainingLifetime(claims *ResetClaims) time.Duration {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Time.Sub(s.now())
}

func (s *TokenService) registeredClaims(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *TokenService) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *TokenService) parse(tokenString string, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)

	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	default:
		return errors.Join(ErrInvalidToken, err)
	}
}
