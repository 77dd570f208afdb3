package school

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"school-service/internal/geo"

	"github.com/google/uuid"
)

var (
	ErrSchoolNotFound = errors.New("school not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrIDConflict     = errors.New("school id already taken")
)

// Producer publishes school events to a message broker.
type Producer interface {
	SendMessage(ctx context.Context, key string, value any) error
}

type Service interface {
	// AddSchools inserts the schools one by one, each in its own transaction.
	// On failure the schools committed so far are returned with the error.
	AddSchools(ctx context.Context, schools []School) ([]School, error)
	ListSchools(ctx context.Context) ([]School, error)
	ListSchoolsByDistance(ctx context.Context, origin geo.Point) ([]SchoolDistance, error)
	DeleteSchool(ctx context.Context, id int) error
}

type service struct {
	repo     Repository
	producer Producer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the repository and an optional event producer (nil disables events).
func NewService(repo Repository, producer Producer, logger *slog.Logger) Service {
	return &service{
		repo:     repo,
		producer: producer,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *service) AddSchools(ctx context.Context, schools []School) ([]School, error) {
	if len(schools) == 0 {
		return nil, ErrInvalidInput
	}

	created := make([]School, 0, len(schools))
	for i := range schools {
		school, err := s.repo.Create(ctx, &schools[i])
		if err != nil {
			return created, err
		}
		created = append(created, *school)
		s.publish(ctx, EventSchoolCreated, school.ID, school)
	}
	return created, nil
}

func (s *service) ListSchools(ctx context.Context) ([]School, error) {
	return s.repo.GetAll(ctx)
}

func (s *service) ListSchoolsByDistance(ctx context.Context, origin geo.Point) ([]SchoolDistance, error) {
	schools, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]SchoolDistance, len(schools))
	for i, school := range schools {
		result[i] = SchoolDistance{
			School:   school,
			Distance: geo.Distance(origin, geo.Point{Lat: school.Latitude, Lon: school.Longitude}),
		}
	}

	slices.SortStableFunc(result, func(a, b SchoolDistance) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	return result, nil
}

func (s *service) DeleteSchool(ctx context.Context, id int) error {
	exists, err := s.repo.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrSchoolNotFound
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.publish(ctx, EventSchoolDeleted, id, nil)
	return nil
}

// publish is best effort: the database write is already committed.
func (s *service) publish(ctx context.Context, eventType string, id int, school *School) {
	if s.producer == nil {
		return
	}

	event := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		SchoolID:   id,
		School:     school,
		OccurredAt: s.now().UTC(),
	}

	if err := s.producer.SendMessage(ctx, strconv.Itoa(id), event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish school event",
			"type", eventType,
			"school_id", id,
			"error", err,
		)
	}
}
