// Package app assembles repositories and services for the API and worker binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/repository"
	"github.com/noah-isme/course-enrollment-api/internal/repository/memory"
	"github.com/noah-isme/course-enrollment-api/internal/service"
	"github.com/noah-isme/course-enrollment-api/migrations"
	"github.com/noah-isme/course-enrollment-api/pkg/cache"
	"github.com/noah-isme/course-enrollment-api/pkg/config"
	"github.com/noah-isme/course-enrollment-api/pkg/database"
)

type offeringStore interface {
	FindByID(ctx context.Context, id string) (*models.Offering, error)
	Create(ctx context.Context, offering *models.Offering) error
	Update(ctx context.Context, offering *models.Offering) error
	ListOverdue(ctx context.Context, today time.Time) ([]models.Offering, error)
	MarkFinished(ctx context.Context, id string) (bool, error)
}

type courseStore interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type personStore interface {
	FindByID(ctx context.Context, id string) (*models.Person, error)
}

type enrollmentStore interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ListActiveByStudentAndCourse(ctx context.Context, studentID, courseID string) ([]models.CourseEnrollment, error)
	ListConfirmedWithoutSummary(ctx context.Context) ([]models.Enrollment, error)
}

type attendanceStore interface {
	FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
	EarliestClassDate(ctx context.Context, offeringID string) (*time.Time, error)
}

type lockerStore interface {
	WithinOffering(ctx context.Context, offeringID string, fn func(ctx context.Context, tx repository.OfferingTx) error) error
	WithinOfferings(ctx context.Context, offeringIDs []string, fn func(ctx context.Context, tx repository.OfferingTx) error) error
}

// Storage bundles the repositories of the selected driver.
type Storage struct {
	DB          *sqlx.DB
	Memory      *memory.Store
	Offerings   offeringStore
	Courses     courseStore
	People      personStore
	Enrollments enrollmentStore
	Attendance  attendanceStore
	Locker      lockerStore
}

// OpenStorage connects the configured driver. The postgres driver applies pending
// migrations when DB_AUTO_MIGRATE is set.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Storage, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		store := memory.NewStore()
		if cfg.MemorySeed != "" {
			if err := seedFromFile(store, cfg.MemorySeed); err != nil {
				return nil, err
			}
			logger.Info("memory store seeded", zap.String("file", cfg.MemorySeed))
		}
		return NewMemoryStorage(store), nil
	case config.StorageDriverPostgres:
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := database.Migrate(ctx, db, migrations.FS); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("database migrations applied")
		}
		return NewPostgresStorage(db, cfg.Database.LockTimeout), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func seedFromFile(store *memory.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return memory.LoadSeed(store, f)
}

// NewPostgresStorage wires the sqlx repositories.
func NewPostgresStorage(db *sqlx.DB, lockTimeout time.Duration) *Storage {
	return &Storage{
		DB:          db,
		Offerings:   repository.NewOfferingRepository(db),
		Courses:     repository.NewCourseRepository(db),
		People:      repository.NewPersonRepository(db),
		Enrollments: repository.NewEnrollmentRepository(db),
		Attendance:  repository.NewAttendanceRepository(db),
		Locker:      repository.NewOfferingLocker(db, lockTimeout),
	}
}

// NewMemoryStorage wires the in-memory repositories over store.
func NewMemoryStorage(store *memory.Store) *Storage {
	return &Storage{
		Memory:      store,
		Offerings:   memory.NewOfferingRepository(store),
		Courses:     memory.NewCourseRepository(store),
		People:      memory.NewPersonRepository(store),
		Enrollments: memory.NewEnrollmentRepository(store),
		Attendance:  memory.NewAttendanceRepository(store),
		Locker:      memory.NewOfferingLocker(store),
	}
}

// Close releases the database connection, if any.
func (s *Storage) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// OpenRedis connects the summary cache when it is enabled. A failed connection
// disables caching rather than failing startup.
func OpenRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) *redis.Client {
	if !cfg.Cache.SummariesEnabled {
		return nil
	}
	client, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, summary cache disabled", zap.Error(err))
		return nil
	}
	return client
}

// Services holds the domain services.
type Services struct {
	Metrics     *service.MetricsService
	Cache       *service.CacheService
	Attendance  *service.AttendanceService
	Capacity    *service.CapacityService
	Enrollments *service.EnrollmentService
	Offerings   *service.OfferingService
	Calendar    *service.CalendarService
}

// NewServices builds the services over storage. redisClient and scheduler may be nil.
func NewServices(cfg *config.Config, storage *Storage, redisClient *redis.Client, scheduler service.FinishScheduler, metrics *service.MetricsService, logger *zap.Logger) *Services {
	loc := cfg.Location()
	validate := validator.New()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, cfg.Cache.Prefix, logger)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.SummaryTTL, logger, cacheRepo != nil)

	attendance := service.NewAttendanceService(storage.Locker, storage.Enrollments, storage.Attendance, cacheSvc, metrics, service.AttendanceConfig{
		CertificateThreshold: cfg.Enrollment.CertificateThreshold,
		Location:             loc,
	}, validate, logger)
	capacity := service.NewCapacityService(storage.Locker, attendance, cacheSvc, metrics, cfg.Enrollment.AutoPromote, logger)
	enrollments := service.NewEnrollmentService(storage.Enrollments, storage.Offerings, storage.Courses, storage.People, storage.Locker, capacity, attendance, cacheSvc, metrics, loc, validate, logger)
	offerings := service.NewOfferingService(storage.Offerings, storage.Courses, capacity, attendance, scheduler, metrics, loc, validate, logger)
	calendarSvc := service.NewCalendarService(storage.Offerings, storage.Attendance, loc)

	return &Services{
		Metrics:     metrics,
		Cache:       cacheSvc,
		Attendance:  attendance,
		Capacity:    capacity,
		Enrollments: enrollments,
		Offerings:   offerings,
		Calendar:    calendarSvc,
	}
}
