package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"time"

	"github.com/vibast-solutions/ms-go-greeting/app/entity"
	"github.com/vibast-solutions/ms-go-greeting/app/mailer"
	"github.com/vibast-solutions/ms-go-greeting/app/repository"
	"github.com/vibast-solutions/ms-go-greeting/app/types"
	"github.com/vibast-solutions/ms-go-greeting/config"

	"github.com/sirupsen/logrus"
)

const (
	resetSubject = "Reset your password"
	resetBody    = `<p>We received a request to reset your password.</p>` +
		`<p><a href="%s">Reset your password</a></p>` +
		`<p>This link expires in %d minutes. If you did not ask for it, ignore this message.</p>`
)

type userRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	UpdatePassword(ctx context.Context, email, passwordHash string) (int64, error)
}

type passwordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

type tokenLedger interface {
	Consume(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, tokenID string) error
}

type UserAuthService interface {
	Register(ctx context.Context, req *types.RegisterRequest) (*types.RegisterResponse, error)
	Login(ctx context.Context, req *types.LoginRequest) (*types.LoginResponse, error)
	ForgotPassword(ctx context.Context, req *types.ForgotPasswordRequest) error
	ResetPassword(ctx context.Context, req *types.ResetPasswordRequest) error
	ValidateSessionToken(tokenString string) (*SessionClaims, error)
}

type userAuthService struct {
	userRepo  userRepository
	hasher    passwordHasher
	tokens    *TokenService
	mailer    mailer.Mailer
	ledger    tokenLedger
	cfg       *config.Config
	logger    logrus.FieldLogger
	dummyHash string
}

func NewUserAuthService(
	userRepo userRepository,
	hasher passwordHasher,
	tokens *TokenService,
	mailSender mailer.Mailer,
	ledger tokenLedger,
	cfg *config.Config,
	logger logrus.FieldLogger,
) UserAuthService {
	// Compared against for unknown emails so both login failures cost one bcrypt run.
	dummyHash, err := hasher.Hash("greeting-login-placeholder")
	if err != nil {
		logger.WithError(err).Warn("Failed to prepare placeholder password hash")
	}

	return &userAuthService{
		userRepo:  userRepo,
		hasher:    hasher,
		tokens:    tokens,
		mailer:    mailSender,
		ledger:    ledger,
		cfg:       cfg,
		logger:    logger,
		dummyHash: dummyHash,
	}
}

func (s *userAuthService) Register(ctx context.Context, req *types.RegisterRequest) (*types.RegisterResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, err.Error())
	}

	existing, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	if err = s.cfg.Password.Policy.Validate(req.Password); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &entity.User{
		Email:        req.Email,
		PasswordHash: passwordHash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err = s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.WithField("user_id", user.ID).Info("User registered")

	return &types.RegisterResponse{
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}, nil
}

func (s *userAuthService) Login(ctx context.Context, req *types.LoginRequest) (*types.LoginResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, err.Error())
	}

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	if user == nil {
		s.hasher.Verify(req.Password, s.dummyHash)
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.IssueSessionToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	return &types.LoginResponse{
		Token:     token,
		ExpiresIn: int64(s.tokens.SessionTTL().Seconds()),
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}, nil
}

func (s *userAuthService) ForgotPassword(ctx context.Context, req *types.ForgotPasswordRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, err.Error())
	}

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return fmt.Errorf("find user by email: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	token, claims, err := s.tokens.IssueResetToken(user.Email)
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}

	link, err := resetLink(s.cfg.Reset.URLBase, token)
	if err != nil {
		return err
	}

	minutes := int(claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time).Minutes())
	body := fmt.Sprintf(resetBody, html.EscapeString(link), minutes)
	if err = s.mailer.Send(ctx, user.Email, resetSubject, body); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"token_id": claims.ID,
	}).Info("Password reset link sent")

	return nil
}

func (s *userAuthService) ResetPassword(ctx context.Context, req *types.ResetPasswordRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, err.Error())
	}

	claims, err := s.tokens.ValidateResetToken(req.Token)
	if err != nil {
		return err
	}

	if err = s.cfg.Password.Policy.Validate(req.NewPassword); err != nil {
		return fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	passwordHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return err
	}

	fresh, err := s.ledger.Consume(ctx, claims.ID, s.tokens.RemainingLifetime(claims))
	if err != nil {
		return fmt.Errorf("record reset token use: %w", err)
	}
	if !fresh {
		return ErrTokenAlreadyUsed
	}

	rows, err := s.userRepo.UpdatePassword(ctx, claims.Email, passwordHash)
	if err != nil {
		// The password was not written; leave the link usable.
		if relErr := s.ledger.Release(ctx, claims.ID); relErr != nil {
			s.logger.WithError(relErr).WithField("token_id", claims.ID).Warn("Failed to release reset token")
		}
		return fmt.Errorf("update password: %w", err)
	}
	if rows == 0 {
		return ErrUpdateFailed
	}

	s.logger.WithField("token_id", claims.ID).Info("Password reset")
	return nil
}

func (s *userAuthService) ValidateSessionToken(tokenString string) (*SessionClaims, error) {
	return s.tokens.ValidateSessionToken(tokenString)
}

func resetLink(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse reset url base: %w", err)
	}

	query := u.Query()
	query.Set("token", token)
	u.RawQuery = query.Encode()
	return u.String(), nil
}
