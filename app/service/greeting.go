package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-greeting/app/cache"
	"github.com/vibast-solutions/ms-go-greeting/app/entity"
	"github.com/vibast-solutions/ms-go-greeting/app/repository"
	"github.com/vibast-solutions/ms-go-greeting/app/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const greetingsCacheName = "greetings"

type greetingRepository interface {
	Create(ctx context.Context, greeting *entity.Greeting) error
	FindByIDAndUser(ctx context.Context, id, userID uint64) (*entity.Greeting, error)
	FindAllByUser(ctx context.Context, userID uint64) ([]entity.Greeting, error)
	Update(ctx context.Context, greeting *entity.Greeting) (int64, error)
	DeleteByIDAndUser(ctx context.Context, id, userID uint64) (int64, error)
}

// GreetingService serves a user's greeting list cache-aside. The store is
// authoritative; every mutation either drops or rewrites the cached list.
//
// Each committed mutation also stamps a per-user write marker. A fill only
// lands if the marker it saw before reading the store is unchanged afterwards,
// so a list read before a concurrent write cannot outlive that write.
// Cache failures never fail a request: they are logged and counted.
type GreetingService struct {
	repo    greetingRepository
	cache   cache.Backend
	ttl     time.Duration
	metrics *cache.Metrics
	logger  logrus.FieldLogger
}

func NewGreetingService(
	repo greetingRepository,
	backend cache.Backend,
	ttl time.Duration,
	metrics *cache.Metrics,
	logger logrus.FieldLogger,
) *GreetingService {
	return &GreetingService{
		repo:    repo,
		cache:   backend,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger,
	}
}

func GreetingsCacheKey(userID uint64) string {
	return fmt.Sprintf("greetings:%d", userID)
}

func greetingsWriteMarkerKey(userID uint64) string {
	return GreetingsCacheKey(userID) + ":written"
}

// Hello builds the greeting line for a name. Blank names yield "Hello World".
func (s *GreetingService) Hello(firstName, lastName string) string {
	name := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
	if name == "" {
		return "Hello World"
	}
	return "Hello, " + name
}

func (s *GreetingService) List(ctx context.Context, userID uint64) ([]entity.Greeting, error) {
	key := GreetingsCacheKey(userID)
	log := s.logger.WithField("user_id", userID)

	if cached, ok := s.readCachedList(ctx, key, log); ok {
		s.metrics.Hit(greetingsCacheName)
		return cached, nil
	}
	s.metrics.Miss(greetingsCacheName)

	marker, markerOK := s.writeMarker(ctx, userID, log)

	greetings, err := s.repo.FindAllByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find greetings: %w", err)
	}
	if greetings == nil {
		greetings = []entity.Greeting{}
	}

	if len(greetings) > 0 && markerOK {
		s.fillCachedList(ctx, userID, marker, greetings, log)
	}

	return greetings, nil
}

func (s *GreetingService) Get(ctx context.Context, id, userID uint64) (*entity.Greeting, error) {
	greeting, err := s.repo.FindByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("find greeting: %w", err)
	}
	if greeting == nil {
		return nil, ErrGreetingNotFound
	}
	return greeting, nil
}

func (s *GreetingService) Create(ctx context.Context, userID uint64, req *types.CreateGreetingRequest) (*entity.Greeting, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, err.Error())
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = s.Hello(req.FirstName, req.LastName)
	}

	now := time.Now()
	greeting := &entity.Greeting{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Message:   message,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, greeting); err != nil {
		if errors.Is(err, repository.ErrForeignKey) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("create greeting: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"user_id":     userID,
		"greeting_id": greeting.ID,
	})
	s.markWritten(ctx, userID, log)
	s.invalidate(ctx, userID, log)

	log.Info("Greeting created")

	return greeting, nil
}

func (s *GreetingService) Update(ctx context.Context, id, userID uint64, req *types.UpdateGreetingRequest) (*entity.Greeting, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, err.Error())
	}

	greeting, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if req.FirstName != nil {
		greeting.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		greeting.LastName = *req.LastName
	}
	if req.Message != nil {
		greeting.Message = strings.TrimSpace(*req.Message)
		if greeting.Message == "" {
			greeting.Message = s.Hello(greeting.FirstName, greeting.LastName)
		}
	}

	rows, err := s.repo.Update(ctx, greeting)
	if err != nil {
		return nil, fmt.Errorf("update greeting: %w", err)
	}
	if rows == 0 {
		return nil, ErrGreetingNotFound
	}

	log := s.logger.WithFields(logrus.Fields{
		"user_id":     userID,
		"greeting_id": id,
	})
	s.markWritten(ctx, userID, log)
	s.invalidate(ctx, userID, log)

	log.Info("Greeting updated")

	return greeting, nil
}

func (s *GreetingService) Delete(ctx context.Context, id, userID uint64) (*entity.Greeting, error) {
	greeting, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.repo.DeleteByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("delete greeting: %w", err)
	}
	if rows == 0 {
		return nil, ErrGreetingNotFound
	}

	log := s.logger.WithFields(logrus.Fields{
		"user_id":     userID,
		"greeting_id": id,
	})
	s.markWritten(ctx, userID, log)
	s.repairAfterDelete(ctx, userID, id, log)

	log.Info("Greeting deleted")

	return greeting, nil
}

func (s *GreetingService) readCachedList(ctx context.Context, key string, log logrus.FieldLogger) ([]entity.Greeting, bool) {
	data, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.metrics.Error(greetingsCacheName, "get")
		log.WithError(err).Warn("Failed to read greetings cache")
		return nil, false
	}
	if !found {
		return nil, false
	}

	greetings, err := cache.Decode[[]entity.Greeting](data)
	if err != nil {
		log.WithError(err).Warn("Dropping undecodable greetings cache entry")
		if delErr := s.cache.Delete(ctx, key); delErr != nil {
			s.metrics.Error(greetingsCacheName, "delete")
			log.WithError(delErr).Warn("Failed to drop greetings cache entry")
		}
		return nil, false
	}
	if len(greetings) == 0 {
		return nil, false
	}

	return greetings, true
}

func (s *GreetingService) writeCachedList(ctx context.Context, key string, greetings []entity.Greeting) error {
	data, err := cache.Encode(greetings)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, key, data, s.ttl)
}

// fillCachedList stores greetings unless a write was committed after marker
// was read. A write that lands between the check and the store is caught by
// the second check, which drops the entry again.
func (s *GreetingService) fillCachedList(ctx context.Context, userID uint64, marker string, greetings []entity.Greeting, log logrus.FieldLogger) {
	key := GreetingsCacheKey(userID)

	if current, ok := s.writeMarker(ctx, userID, log); !ok || current != marker {
		return
	}
	if err := s.writeCachedList(ctx, key, greetings); err != nil {
		s.metrics.Error(greetingsCacheName, "set")
		log.WithError(err).Warn("Failed to cache greetings")
		return
	}
	if current, ok := s.writeMarker(ctx, userID, log); ok && current == marker {
		return
	}

	if err := s.cache.Delete(ctx, key); err != nil {
		s.metrics.Error(greetingsCacheName, "delete")
		log.WithError(err).Warn("Failed to drop greetings filled during a write")
	}
}

// writeMarker reads the user's write marker. An absent marker reads as "".
func (s *GreetingService) writeMarker(ctx context.Context, userID uint64, log logrus.FieldLogger) (string, bool) {
	data, found, err := s.cache.Get(ctx, greetingsWriteMarkerKey(userID))
	if err != nil {
		s.metrics.Error(greetingsCacheName, "get")
		log.WithError(err).Warn("Failed to read greetings write marker")
		return "", false
	}
	if !found {
		return "", true
	}
	return string(data), true
}

func (s *GreetingService) markWritten(ctx context.Context, userID uint64, log logrus.FieldLogger) {
	if err := s.cache.Set(ctx, greetingsWriteMarkerKey(userID), []byte(uuid.NewString()), s.ttl); err != nil {
		s.metrics.Error(greetingsCacheName, "mark")
		log.WithError(err).Warn("Failed to stamp greetings write marker")
	}
}

func (s *GreetingService) invalidate(ctx context.Context, userID uint64, log logrus.FieldLogger) {
	if err := s.cache.Delete(ctx, GreetingsCacheKey(userID)); err != nil {
		s.metrics.Error(greetingsCacheName, "delete")
		log.WithError(err).Warn("Failed to invalidate greetings cache")
	}
}

// repairAfterDelete removes id from the cached list. If the list cannot be
// rewritten the key is dropped instead.
func (s *GreetingService) repairAfterDelete(ctx context.Context, userID, id uint64, log logrus.FieldLogger) {
	key := GreetingsCacheKey(userID)

	err := s.dropFromCachedList(ctx, key, id)
	if err == nil {
		return
	}

	s.metrics.Error(greetingsCacheName, "repair")
	log.WithError(err).Warn("Greetings cache repair failed, dropping entry")

	if delErr := s.cache.Delete(ctx, key); delErr != nil {
		s.metrics.Error(greetingsCacheName, "delete")
		log.WithError(delErr).Error("Failed to drop greetings cache entry; it may list a deleted greeting until it expires")
	}
}

func (s *GreetingService) dropFromCachedList(ctx context.Context, key string, id uint64) error {
	data, found, err := s.cache.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	greetings, err := cache.Decode[[]entity.Greeting](data)
	if err != nil {
		return err
	}

	remaining := greetings[:0]
	for _, g := range greetings {
		if g.ID != id {
			remaining = append(remaining, g)
		}
	}

	if len(remaining) == 0 {
		return s.cache.Delete(ctx, key)
	}
	return s.writeCachedList(ctx, key, remaining)
}
