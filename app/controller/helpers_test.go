package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-greeting/app/cache"
	"github.com/vibast-solutions/ms-go-greeting/app/controller"
	"github.com/vibast-solutions/ms-go-greeting/app/repository"
	"github.com/vibast-solutions/ms-go-greeting/app/service"
	"github.com/vibast-solutions/ms-go-greeting/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"
)

const (
	findUserByEmailQuery      = `(?s)SELECT id, email, password_hash, first_name, last_name, created_at, updated_at\s+FROM users WHERE email = \?`
	insertUserQuery           = `(?s)INSERT INTO users \(email, password_hash, first_name, last_name, created_at, updated_at\)\s+VALUES \(\?, \?, \?, \?, \?, \?\)`
	updateUserPasswordQuery   = `(?s)UPDATE users SET\s+password_hash = \?,\s+updated_at = \?\s+WHERE email = \?`
	insertGreetingQuery       = `(?s)INSERT INTO greetings \(first_name, last_name, message, user_id, created_at, updated_at\)\s+VALUES \(\?, \?, \?, \?, \?, \?\)`
	findGreetingByIDAndUser   = `(?s)SELECT id, first_name, last_name, message, user_id, created_at, updated_at\s+FROM greetings WHERE id = \? AND user_id = \?`
	findGreetingsByUserQuery  = `(?s)SELECT id, first_name, last_name, message, user_id, created_at, updated_at\s+FROM greetings WHERE user_id = \?\s+ORDER BY id`
	deleteGreetingByIDAndUser = `(?s)DELETE FROM greetings WHERE id = \? AND user_id = \?`
)

var (
	userColumns = []string{
		"id",
		"email",
		"password_hash",
		"first_name",
		"last_name",
		"created_at",
		"updated_at",
	}
	greetingColumns = []string{
		"id",
		"first_name",
		"last_name",
		"message",
		"user_id",
		"created_at",
		"updated_at",
	}
)

type recordingMailer struct {
	bodies []string
	err    error
}

func (m *recordingMailer) Send(_ context.Context, _, _, htmlBody string) error {
	if m.err != nil {
		return m.err
	}
	m.bodies = append(m.bodies, htmlBody)
	return nil
}

type testApp struct {
	auth      *controller.UserAuthController
	greetings *controller.GreetingController
	tokens    *service.TokenService
	mailer    *recordingMailer
	mock      sqlmock.Sqlmock
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{
		JWT: config.JWTConfig{
			Secret:          "test-secret",
			Issuer:          "greeting-test",
			Audience:        "greeting-test",
			SessionTokenTTL: time.Hour,
			ResetTokenTTL:   15 * time.Minute,
		},
		Password: config.PasswordConfig{
			Policy: config.PasswordPolicy{MinLength: 3},
		},
		Reset: config.ResetConfig{URLBase: "http://localhost:8080/auth/reset-password"},
	}

	tokens, err := service.NewTokenService(cfg.JWT)
	if err != nil {
		t.Fatalf("failed to create token service: %v", err)
	}
	logger, _ := test.NewNullLogger()
	backend := cache.NewMemoryBackend(100, time.Hour)
	mailer := &recordingMailer{}

	authService := service.NewUserAuthService(
		repository.NewUserRepository(db),
		service.NewBcryptHasher(bcrypt.MinCost),
		tokens,
		mailer,
		cache.NewTokenLedger(backend),
		cfg,
		logger,
	)
	greetingService := service.NewGreetingService(repository.NewGreetingRepository(db), backend, 10*time.Minute, nil, logger)

	return &testApp{
		auth:      controller.NewUserAuthController(authService, logger),
		greetings: controller.NewGreetingController(greetingService, logger),
		tokens:    tokens,
		mailer:    mailer,
		mock:      mock,
	}
}

func newJSONRequest(t *testing.T, method, path string, body any) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req, httptest.NewRecorder()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response json: %v", err)
	}
	return body
}
