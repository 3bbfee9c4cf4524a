package service_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-greeting/app/cache"
	"github.com/vibast-solutions/ms-go-greeting/app/entity"
	"github.com/vibast-solutions/ms-go-greeting/app/repository"
	"github.com/vibast-solutions/ms-go-greeting/app/service"
	"github.com/vibast-solutions/ms-go-greeting/app/types"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
)

type greetingFixture struct {
	svc     *service.GreetingService
	db      *sql.DB
	mock    sqlmock.Sqlmock
	redis   *miniredis.Miniredis
	backend *cache.RedisBackend
	reg     *prometheus.Registry
}

func newGreetingFixture(t *testing.T) *greetingFixture {
	t.Helper()

	db, mock := newMockDB(t)
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	backend := cache.NewRedisBackend(client)
	reg := prometheus.NewRegistry()
	logger, _ := test.NewNullLogger()

	svc := service.NewGreetingService(
		repository.NewGreetingRepository(db),
		backend,
		testConfig().Cache.GreetingsTTL,
		cache.NewMetrics(reg),
		logger,
	)

	return &greetingFixture{svc: svc, db: db, mock: mock, redis: srv, backend: backend, reg: reg}
}

// interleavingGreetingRepo runs afterFindAll once, between a list read and
// the cache fill that follows it.
type interleavingGreetingRepo struct {
	*repository.GreetingRepository
	afterFindAll func()
}

func (r *interleavingGreetingRepo) FindAllByUser(ctx context.Context, userID uint64) ([]entity.Greeting, error) {
	greetings, err := r.GreetingRepository.FindAllByUser(ctx, userID)
	if hook := r.afterFindAll; hook != nil {
		r.afterFindAll = nil
		hook()
	}
	return greetings, err
}

func (f *greetingFixture) cacheErrors(t *testing.T) int {
	t.Helper()

	count, err := testutil.GatherAndCount(f.reg, "greeting_cache_errors_total")
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	return count
}

func (f *greetingFixture) seedCache(t *testing.T, userID uint64, greetings []entity.Greeting) {
	t.Helper()

	data, err := cache.Encode(greetings)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err = f.backend.Set(context.Background(), service.GreetingsCacheKey(userID), data, time.Minute); err != nil {
		t.Fatalf("seed cache failed: %v", err)
	}
}

func (f *greetingFixture) cachedList(t *testing.T, userID uint64) []entity.Greeting {
	t.Helper()

	data, found, err := f.backend.Get(context.Background(), service.GreetingsCacheKey(userID))
	if err != nil {
		t.Fatalf("read cache failed: %v", err)
	}
	if !found {
		return nil
	}
	greetings, err := cache.Decode[[]entity.Greeting](data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return greetings
}

func greetingRows(userID uint64, ids ...uint64) *sqlmock.Rows {
	now := time.Now()
	rows := sqlmock.NewRows(greetingColumns)
	for _, id := range ids {
		rows.AddRow(id, "Jo", "Doe", "Hello, Jo Doe", userID, now, now)
	}
	return rows
}

func TestHello(t *testing.T) {
	svc := service.NewGreetingService(nil, nil, 0, nil, nil)

	tests := []struct {
		first, last, want string
	}{
		{"Jo", "Doe", "Hello, Jo Doe"},
		{"Jo", "", "Hello, Jo"},
		{"", "Doe", "Hello, Doe"},
		{"  ", "", "Hello World"},
		{"", "", "Hello World"},
	}
	for _, tt := range tests {
		if got := svc.Hello(tt.first, tt.last); got != tt.want {
			t.Fatalf("Hello(%q, %q) = %q, want %q", tt.first, tt.last, got, tt.want)
		}
	}
}

func TestGreetingList_MissFillsCache(t *testing.T) {
	f := newGreetingFixture(t)

	f.mock.ExpectQuery(findGreetingsByUserQuery).
		WithArgs(uint64(1)).
		WillReturnRows(greetingRows(1, 1, 4))

	first, err := f.svc.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(first) != 2 || first[0].ID != 1 || first[1].ID != 4 {
		t.Fatalf("unexpected list: %+v", first)
	}
	if ttl := f.redis.TTL("greetings:1"); ttl != 10*time.Minute {
		t.Fatalf("expected cached list with 10m ttl, got %v", ttl)
	}

	second, err := f.svc.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("cached list failed: %v", err)
	}
	if len(second) != 2 || second[1].ID != 4 {
		t.Fatalf("unexpected cached list: %+v", second)
	}

	if err = f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}

	count, err := testutil.GatherAndCount(f.reg, "greeting_cache_lookups_total")
	if err != nil || count != 2 {
		t.Fatalf("expected hit and miss series, got %d (%v)", count, err)
	}
}

func TestGreetingList_EmptyIsNotCached(t *testing.T) {
	f := newGreetingFixture(t)

	f.mock.ExpectQuery(findGreetingsByUserQuery).
		WithArgs(uint64(1)).
		WillReturnRows(greetingRows(1))

	greetings, err := f.svc.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if greetings == nil || len(greetings) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", greetings)
	}
	if f.redis.Exists("greetings:1") {
		t.Fatalf("expected empty list not to be cached")
	}
}

func TestGreetingList_CorruptEntryIsReplaced(t *testing.T) {
	f := newGreetingFixture(t)
	if err := f.redis.Set("greetings:1", "garbage"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	f.mock.ExpectQuery(findGreetingsByUserQuery).
		WithArgs(uint64(1)).
		WillReturnRows(greetingRows(1, 3))

	greetings, err := f.svc.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(greetings) != 1 || greetings[0].ID != 3 {
		t.Fatalf("unexpected list: %+v", greetings)
	}
	if cached := f.cachedList(t, 1); len(cached) != 1 || cached[0].ID != 3 {
		t.Fatalf("expected corrupt entry to be replaced, got %+v", cached)
	}
}

func TestGreetingList_CacheUnavailableFallsBackToStore(t *testing.T) {
	f := newGreetingFixture(t)
	f.redis.Close()

	f.mock.ExpectQuery(findGreetingsByUserQuery).
		WithArgs(uint64(1)).
		WillReturnRows(greetingRows(1, 1))

	greetings, err := f.svc.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("expected store fallback, got %v", err)
	}
	if len(greetings) != 1 {
		t.Fatalf("unexpected list: %+v", greetings)
	}
}

func TestGreetingCreate_InvalidatesCache(t *testing.T) {
	f := newGreetingFixture(t)
	f.seedCache(t, 1, []entity.Greeting{{ID: 1, UserID: 1}})

	f.mock.ExpectExec(insertGreetingQuery).
		WithArgs("Jo", "Doe", "Hello, Jo Doe", uint64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))

	greeting, err := f.svc.Create(context.Background(), 1, &types.CreateGreetingRequest{FirstName: "Jo", LastName: "Doe"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if greeting.ID != 2 || greeting.Message != "Hello, Jo Doe" {
		t.Fatalf("unexpected greeting: %+v", greeting)
	}
	if f.redis.Exists("greetings:1") {
		t.Fatalf("expected cached list to be invalidated")
	}

	f.mock.ExpectQuery(findGreetingsByUserQuery).
		WithArgs(uint64(1)).
		WillReturnRows(greetingRows(1, 1, 2))

	greetings, err := f.svc.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(greetings) != 2 || greetings[1].ID != 2 {
		t.Fatalf("expected new greeting in list, got %+v", greetings)
	}
}

func TestGreetingCreate_KeepsExplicitMessage(t *testing.T) {
	f := newGreetingFixture(t)

	f.mock.ExpectExec(insertGreetingQuery).
		WithArgs("Jo", "", "Good morning", uint64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(3, 1))

	greeting, err := f.svc.Create(context.Background(), 1, &types.CreateGreetingRequest{FirstName: "Jo", Message: "Good morning"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if greeting.Message != "Good morning" {
		t.Fatalf("unexpected message: %q", greeting.Message)
	}
}

func TestGreetingCreate_UnknownOwner(t *testing.T) {
	f := newGreetingFixture(t)

	f.mock.ExpectExec(insertGreetingQuery).
		WillReturnError(&mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"})

	_, err := f.svc.Create(context.Background(), 99, &types.CreateGreetingRequest{FirstName: "Jo"})
	if !errors.Is(err, service.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGreetingUpdate_PartialAndInvalidates(t *testing.T) {
	f := newGreetingFixture(t)
	f.seedCache(t, 1, []entity.Greeting{{ID: 5, UserID: 1}})

	message := "Bye"
	f.mock.ExpectQuery(findGreetingByIDAndUser).
		WithArgs(uint64(5), uint64(1)).
		WillReturnRows(greetingRows(1, 5))
	f.mock.ExpectExec(updateGreetingQuery).
		WithArgs("Jo", "Doe", "Bye", sqlmock.AnyArg(), uint64(5), uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	greeting, err := f.svc.Update(context.Background(), 5, 1, &types.UpdateGreetingRequest{Message: &message})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if greeting.Message != "Bye" || greeting.FirstName != "Jo" {
		t.Fatalf("unexpected greeting: %+v", greeting)
	}
	if f.redis.Exists("greetings:1") {
		t.Fatalf("expected cached list to be invalidated")
	}

	if err = f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGreetingUpdate_OtherOwnerIsNotFound(t *testing.T) {
	f := newGreetingFixture(t)

	name := "Mallory"
	f.mock.ExpectQuery(findGreetingByIDAndUser).
		WithArgs(uint64(5), uint64(2)).
		WillReturnRows(greetingRows(2))

	_, err := f.svc.Update(context.Background(), 5, 2, &types.UpdateGreetingRequest{FirstName: &name})
	if !errors.Is(err, service.ErrGreetingNotFound) {
		t.Fatalf("expected ErrGreetingNotFound, got %v", err)
	}

	if err = f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGreetingDelete_RepairsCachedList(t *testing.T) {
	f := newGreetingFixture(t)
	f.seedCache(t, 1, []entity.Greeting{{ID: 1, UserID: 1}, {ID: 4, UserID: 1}})

	f.mock.ExpectQuery(findGreetingByIDAndUser).
		WithArgs(uint64(1), uint64(1)).
		WillReturnRows(greetingRows(1, 1))
	f.mock.ExpectExec(deleteGreetingByIDAndUser).
		WithArgs(uint64(1), uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := f.svc.Delete(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted.ID != 1 {
		t.Fatalf("unexpected deleted greeting: %+v", deleted)
	}

	greetings, err := f.svc.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(greetings) != 1 || greetings[0].ID != 4 {
		t.Fatalf("expected deleted id to be gone from cached list, got %+v", greetings)
	}

	if err = f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGreetingDelete_LastCachedItemDropsKey(t *testing.T) {
	f := newGreetingFixture(t)
	f.seedCache(t, 1, []entity.Greeting{{ID: 1, UserID: 1}})

	f.mock.ExpectQuery(findGreetingByIDAndUser).
		WillReturnRows(greetingRows(1, 1))
	f.mock.ExpectExec(deleteGreetingByIDAndUser).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := f.svc.Delete(context.Background(), 1, 1); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if f.redis.Exists("greetings:1") {
		t.Fatalf("expected empty list key to be removed")
	}
}

func TestGreetingDelete_CorruptCacheIsDropped(t *testing.T) {
	f := newGreetingFixture(t)
	if err := f.redis.Set("greetings:1", "garbage"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	f.mock.ExpectQuery(findGreetingByIDAndUser).
		WillReturnRows(greetingRows(1, 1))
	f.mock.ExpectExec(deleteGreetingByIDAndUser).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := f.svc.Delete(context.Background(), 1, 1); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if f.redis.Exists("greetings:1") {
		t.Fatalf("expected corrupt entry to be dropped")
	}
}

func TestGreetingDelete_CacheUnavailableStillSucceeds(t *testing.T) {
	f := newGreetingFixture(t)

	f.mock.ExpectQuery(findGreetingByIDAndUser).
		WillReturnRows(greetingRows(1, 1))
	f.mock.ExpectExec(deleteGreetingByIDAndUser).
		WillReturnResult(sqlmock.NewResult(0, 1))

	f.redis.Close()

	deleted, err := f.svc.Delete(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("expected committed delete to succeed, got %v", err)
	}
	if deleted.ID != 1 {
		t.Fatalf("unexpected deleted greeting: %+v", deleted)
	}
	if f.cacheErrors(t) == 0 {
		t.Fatalf("expected cache errors to be counted")
	}

	if err = f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGreetingCreate_CacheUnavailableStillSucceeds(t *testing.T) {
	f := newGreetingFixture(t)
	f.redis.Close()

	f.mock.ExpectExec(insertGreetingQuery).
		WithArgs("Jo", "", "Hello, Jo", uint64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(7, 1))

	greeting, err := f.svc.Create(context.Background(), 1, &types.CreateGreetingRequest{FirstName: "Jo"})
	if err != nil {
		t.Fatalf("expected committed create to succeed, got %v", err)
	}
	if greeting.ID != 7 {
		t.Fatalf("unexpected greeting: %+v", greeting)
	}
	if f.cacheErrors(t) == 0 {
		t.Fatalf("expected cache errors to be counted")
	}

	if err = f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGreetingUpdate_CacheUnavailableStillSucceeds(t *testing.T) {
	f := newGreetingFixture(t)
	f.redis.Close()

	message := "Bye"
	f.mock.ExpectQuery(findGreetingByIDAndUser).
		WithArgs(uint64(5), uint64(1)).
		WillReturnRows(greetingRows(1, 5))
	f.mock.ExpectExec(updateGreetingQuery).
		WillReturnResult(sqlmock.NewResult(0, 1))

	greeting, err := f.svc.Update(context.Background(), 5, 1, &types.UpdateGreetingRequest{Message: &message})
	if err != nil {
		t.Fatalf("expected committed update to succeed, got %v", err)
	}
	if greeting.Message != "Bye" {
		t.Fatalf("unexpected greeting: %+v", greeting)
	}

	if err = f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGreetingUpdate_VanishedRowIsNotFound(t *testing.T) {
	f := newGreetingFixture(t)

	message := "Bye"
	f.mock.ExpectQuery(findGreetingByIDAndUser).
		WithArgs(uint64(5), uint64(1)).
		WillReturnRows(greetingRows(1, 5))
	f.mock.ExpectExec(updateGreetingQuery).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := f.svc.Update(context.Background(), 5, 1, &types.UpdateGreetingRequest{Message: &message})
	if !errors.Is(err, service.ErrGreetingNotFound) {
		t.Fatalf("expected ErrGreetingNotFound, got %v", err)
	}
}

func TestGreetingList_FillRacingDeleteIsDiscarded(t *testing.T) {
	f := newGreetingFixture(t)
	logger, _ := test.NewNullLogger()

	repo := &interleavingGreetingRepo{GreetingRepository: repository.NewGreetingRepository(f.db)}
	svc := service.NewGreetingService(repo, f.backend, time.Minute, nil, logger)
	repo.afterFindAll = func() {
		if _, err := svc.Delete(context.Background(), 1, 1); err != nil {
			t.Errorf("delete failed: %v", err)
		}
	}

	f.mock.ExpectQuery(findGreetingsByUserQuery).
		WithArgs(uint64(1)).
		WillReturnRows(greetingRows(1, 1, 4))
	f.mock.ExpectQuery(findGreetingByIDAndUser).
		WithArgs(uint64(1), uint64(1)).
		WillReturnRows(greetingRows(1, 1))
	f.mock.ExpectExec(deleteGreetingByIDAndUser).
		WithArgs(uint64(1), uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := svc.List(context.Background(), 1); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, g := range f.cachedList(t, 1) {
		if g.ID == 1 {
			t.Fatalf("deleted greeting was cached by a racing list")
		}
	}

	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGreetingList_FillsAfterEarlierWrite(t *testing.T) {
	f := newGreetingFixture(t)

	f.mock.ExpectExec(insertGreetingQuery).
		WillReturnResult(sqlmock.NewResult(2, 1))
	if _, err := f.svc.Create(context.Background(), 1, &types.CreateGreetingRequest{FirstName: "Jo"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	f.mock.ExpectQuery(findGreetingsByUserQuery).
		WithArgs(uint64(1)).
		WillReturnRows(greetingRows(1, 2))
	if _, err := f.svc.List(context.Background(), 1); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if cached := f.cachedList(t, 1); len(cached) != 1 || cached[0].ID != 2 {
		t.Fatalf("expected list to be cached after a completed write, got %+v", cached)
	}
}

func TestGreetingDelete_OtherOwnerIsNotFound(t *testing.T) {
	f := newGreetingFixture(t)

	f.mock.ExpectQuery(findGreetingByIDAndUser).
		WithArgs(uint64(1), uint64(2)).
		WillReturnRows(greetingRows(2))

	_, err := f.svc.Delete(context.Background(), 1, 2)
	if !errors.Is(err, service.ErrGreetingNotFound) {
		t.Fatalf("expected ErrGreetingNotFound, got %v", err)
	}

	if err = f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGreetingGet(t *testing.T) {
	f := newGreetingFixture(t)

	f.mock.ExpectQuery(findGreetingByIDAndUser).
		WithArgs(uint64(5), uint64(1)).
		WillReturnRows(greetingRows(1, 5))

	greeting, err := f.svc.Get(context.Background(), 5, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if greeting.ID != 5 {
		t.Fatalf("unexpected greeting: %+v", greeting)
	}
}
