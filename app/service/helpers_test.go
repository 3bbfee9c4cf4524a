package service_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-greeting/config"

	"github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/crypto/bcrypt"
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

const (
	findUserByEmailQuery      = `(?s)SELECT id, email, password_hash, first_name, last_name, created_at, updated_at\s+FROM users WHERE email = \?`
	insertUserQuery           = `(?s)INSERT INTO users \(email, password_hash, first_name, last_name, created_at, updated_at\)\s+VALUES \(\?, \?, \?, \?, \?, \?\)`
	updateUserPasswordQuery   = `(?s)UPDATE users SET\s+password_hash = \?,\s+updated_at = \?\s+WHERE email = \?`
	insertGreetingQuery       = `(?s)INSERT INTO greetings \(first_name, last_name, message, user_id, created_at, updated_at\)\s+VALUES \(\?, \?, \?, \?, \?, \?\)`
	findGreetingByIDAndUser   = `(?s)SELECT id, first_name, last_name, message, user_id, created_at, updated_at\s+FROM greetings WHERE id = \? AND user_id = \?`
	findGreetingsByUserQuery  = `(?s)SELECT id, first_name, last_name, message, user_id, created_at, updated_at\s+FROM greetings WHERE user_id = \?\s+ORDER BY id`
	updateGreetingQuery       = `(?s)UPDATE greetings SET\s+first_name = \?,\s+last_name = \?,\s+message = \?,\s+updated_at = \?\s+WHERE id = \? AND user_id = \?`
	deleteGreetingByIDAndUser = `(?s)DELETE FROM greetings WHERE id = \? AND user_id = \?`
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Secret:          "test-secret",
			Issuer:          "greeting-test",
			Audience:        "greeting-test",
			SessionTokenTTL: time.Hour,
			ResetTokenTTL:   15 * time.Minute,
		},
		Password: config.PasswordConfig{
			BcryptCost: bcrypt.MinCost,
			Policy:     config.PasswordPolicy{MinLength: 3},
		},
		Cache: config.CacheConfig{
			GreetingsTTL: 10 * time.Minute,
		},
		Reset: config.ResetConfig{
			URLBase: "https://greeting.example.com/reset",
		},
	}
}

// testClock is a settable clock shared by a TokenService under test.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type recordingMailer struct {
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

// captureArg matches any value and remembers it as a string.
type captureArg struct {
	value *string
}

func (a captureArg) Match(v driver.Value) bool {
	switch s := v.(type) {
	case string:
		*a.value = s
	case []byte:
		*a.value = string(s)
	}
	return true
}
