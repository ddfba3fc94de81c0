package course

import (
	"context"
	"fmt"

	"github.com/mlvik/coursekit/internal/domain"
	"github.com/mlvik/coursekit/internal/infrastructure/driver"
	"github.com/mlvik/coursekit/internal/ownership"
	"github.com/mlvik/coursekit/internal/pipeline"
	"github.com/mlvik/coursekit/internal/progress"
	"github.com/mlvik/coursekit/internal/session"
	"go.elastic.co/apm"
	"go.uber.org/zap"
)

// Service the use case surface consumed by the UI layer. Everything below it
// (session lifecycle, retry protocol, reconciliation, progress) stays behind
// this type.
type Service struct {
	session    *session.Manager
	pipeline   *pipeline.Pipeline
	reconciler *ownership.Reconciler
	progress   *progress.Store
	logger     *zap.Logger
}

var _ domain.CourseUseCase = &Service{}

// NewService wire the full client stack. mock switches the progress store to
// its local persisted completion map.
func NewService(
	sessionManager *session.Manager,
	requestPipeline *pipeline.Pipeline,
	kv driver.KeyValueDB,
	mock bool,
	logger *zap.Logger,
) *Service {
	s := &Service{
		session:    sessionManager,
		pipeline:   requestPipeline,
		reconciler: ownership.NewReconciler(requestPipeline, logger),
		logger:     logger,
	}
	s.progress = progress.NewStore(requestPipeline, kv, sessionManager, s.GetCourseDetail, mock, logger)
	return s
}

// Login establish an authenticated session
func (s *Service) Login(ctx context.Context, identifier, secret string) (*domain.Credential, error) {
	apmSpan, ctx := apm.StartSpan(ctx, "Service.Login", "service")
	defer apmSpan.End()

	return s.session.Login(ctx, identifier, secret)
}

// Logout destroy the current session
func (s *Service) Logout(ctx context.Context) error {
	apmSpan, ctx := apm.StartSpan(ctx, "Service.Logout", "service")
	defer apmSpan.End()

	return s.session.Logout(ctx)
}

// ListCourses the reconciled course catalog with one canonical ownership
// verdict per course
func (s *Service) ListCourses(ctx context.Context, userID int64) ([]*domain.CourseRecord, error) {
	apmSpan, ctx := apm.StartSpan(ctx, "Service.ListCourses", "service")
	defer apmSpan.End()

	return s.reconciler.Reconcile(ctx, userID)
}

type detailLesson struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	DurationSec int    `json:"duration_sec"`
	Locked      bool   `json:"locked"`
	Done        bool   `json:"done"`
}

type detailModule struct {
	ID      int64          `json:"id"`
	Title   string         `json:"title"`
	Lessons []detailLesson `json:"lessons"`
}

type detailResponse struct {
	ID      int64          `json:"id"`
	Title   string         `json:"title"`
	Modules []detailModule `json:"modules"`
	Course  *struct {
		ID      int64          `json:"id"`
		Title   string         `json:"title"`
		Modules []detailModule `json:"modules"`
	} `json:"course"`
}

// GetCourseDetail the ordered module/lesson structure of one course
func (s *Service) GetCourseDetail(ctx context.Context, courseID int64) (*domain.CourseDetail, error) {
	apmSpan, ctx := apm.StartSpan(ctx, "Service.GetCourseDetail", "service")
	defer apmSpan.End()

	res, err := s.pipeline.Do(ctx, "GET", fmt.Sprintf("/api/v1/courses/%d", courseID), nil)
	if err != nil {
		return nil, err
	}
	parsed := new(detailResponse)
	if err := res.Decode(parsed); err != nil {
		return nil, fmt.Errorf("malformed course detail body: %w", err)
	}
	// some backends wrap the detail under a course key
	if parsed.Course != nil && len(parsed.Modules) == 0 {
		parsed.ID = parsed.Course.ID
		parsed.Title = parsed.Course.Title
		parsed.Modules = parsed.Course.Modules
	}
	if parsed.ID == 0 {
		parsed.ID = courseID
	}

	detail := &domain.CourseDetail{
		ID:    parsed.ID,
		Title: parsed.Title,
	}
	for _, m := range parsed.Modules {
		module := &domain.CourseModule{
			ID:    m.ID,
			Title: m.Title,
		}
		for _, l := range m.Lessons {
			module.Lessons = append(module.Lessons, &domain.Lesson{
				ID:          l.ID,
				Title:       l.Title,
				DurationSec: l.DurationSec,
				Locked:      l.Locked,
				Done:        l.Done,
			})
		}
		detail.Modules = append(detail.Modules, module)
	}
	return detail, nil
}

// GetProgress the completion summary for one course
func (s *Service) GetProgress(ctx context.Context, courseID int64) (*domain.ProgressSummary, error) {
	apmSpan, ctx := apm.StartSpan(ctx, "Service.GetProgress", "service")
	defer apmSpan.End()

	return s.progress.GetProgress(ctx, courseID)
}

// SetLessonDone mark a lesson (or the first pending one) done or not done
func (s *Service) SetLessonDone(ctx context.Context, courseID int64, lessonID *int64, done bool) (*domain.ProgressSummary, error) {
	apmSpan, ctx := apm.StartSpan(ctx, "Service.SetLessonDone", "service")
	defer apmSpan.End()

	return s.progress.SetDone(ctx, courseID, lessonID, done)
}
