package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/mlvik/coursekit/internal/domain"
	"github.com/mlvik/coursekit/internal/infrastructure/driver"
	"github.com/mlvik/coursekit/internal/pipeline"
	"go.uber.org/zap"
)

type backendClient interface {
	Do(ctx context.Context, method, path string, body interface{}, opts ...pipeline.Option) (*pipeline.Result, error)
}

// identitySource resolves the active user for namespacing local progress
type identitySource interface {
	Credential() *domain.Credential
}

// DetailFunc fetch the lesson structure of a course, needed to compute local
// summaries in mock mode
type DetailFunc func(ctx context.Context, courseID int64) (*domain.CourseDetail, error)

// Store computes and persists lesson-completion state. In live mode every
// operation forwards to the backend and only normalizes its response; in mock
// mode the store owns a per-user CompletionSet persisted in the key-value
// store, the layer's only durable mutable state.
type Store struct {
	client   backendClient
	kv       driver.KeyValueDB
	identity identitySource
	detail   DetailFunc
	mock     bool
	logger   *zap.Logger
}

// NewStore create a progress store
func NewStore(
	client backendClient,
	kv driver.KeyValueDB,
	identity identitySource,
	detail DetailFunc,
	mock bool,
	logger *zap.Logger,
) *Store {
	return &Store{
		client:   client,
		kv:       kv,
		identity: identity,
		detail:   detail,
		mock:     mock,
		logger:   logger,
	}
}

// GetProgress compute the completion summary for a course
func (s *Store) GetProgress(ctx context.Context, courseID int64) (*domain.ProgressSummary, error) {
	if s.mock {
		return s.localSummary(ctx, courseID)
	}
	res, err := s.client.Do(ctx, "GET", fmt.Sprintf("/api/v1/courses/%d/progress", courseID), nil)
	if err != nil {
		return nil, err
	}
	return s.normalizeSummary(courseID, res)
}

// SetDone mark a lesson done (or not done) and return a fresh summary. With a
// nil lessonID the first lesson in module/lesson order that is not yet
// complete is the implicit target; domain.ErrNoPendingLesson is returned when
// everything is already complete.
func (s *Store) SetDone(ctx context.Context, courseID int64, lessonID *int64, done bool) (*domain.ProgressSummary, error) {
	if !s.mock {
		body := map[string]interface{}{"done": done}
		if lessonID != nil {
			body["lesson_id"] = *lessonID
		}
		res, err := s.client.Do(ctx, "POST", fmt.Sprintf("/api/v1/courses/%d/progress", courseID), body)
		if err != nil {
			return nil, err
		}
		return s.normalizeSummary(courseID, res)
	}

	detail, err := s.detail(ctx, courseID)
	if err != nil {
		return nil, err
	}
	set, err := s.loadSet(ctx)
	if err != nil {
		return nil, err
	}

	target := lessonID
	if target == nil {
		for _, lesson := range detail.Lessons() {
			if !set.Has(lesson.ID) {
				id := lesson.ID
				target = &id
				break
			}
		}
		if target == nil {
			return nil, domain.ErrNoPendingLesson
		}
	}

	if done {
		set.Add(*target)
	} else {
		set.Remove(*target)
	}
	if err := s.saveSet(ctx, set); err != nil {
		return nil, err
	}
	return summarize(courseID, detail, set), nil
}

func (s *Store) localSummary(ctx context.Context, courseID int64) (*domain.ProgressSummary, error) {
	detail, err := s.detail(ctx, courseID)
	if err != nil {
		return nil, err
	}
	set, err := s.loadSet(ctx)
	if err != nil {
		return nil, err
	}
	return summarize(courseID, detail, set), nil
}

func summarize(courseID int64, detail *domain.CourseDetail, set domain.CompletionSet) *domain.ProgressSummary {
	lessons := detail.Lessons()
	applied := make([]*domain.Lesson, len(lessons))
	for i, lesson := range lessons {
		copied := *lesson
		copied.Done = set.Has(lesson.ID)
		applied[i] = &copied
	}
	return domain.SummarizeLessons(courseID, applied)
}

func (s *Store) userKey() string {
	var userID int64
	if cred := s.identity.Credential(); cred != nil {
		userID = cred.UserID
	}
	return fmt.Sprintf("progress:user:%d", userID)
}

func (s *Store) loadSet(ctx context.Context) (domain.CompletionSet, error) {
	raw, err := s.kv.Get(s.userKey())
	if err == driver.ErrKeyNotFound {
		return domain.NewCompletionSet(), nil
	}
	if err != nil {
		return nil, err
	}
	var set domain.CompletionSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		s.logger.Warn("Discarding corrupt completion map", zap.Error(err))
		return domain.NewCompletionSet(), nil
	}
	return set, nil
}

func (s *Store) saveSet(ctx context.Context, set domain.CompletionSet) error {
	encoded, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return s.kv.Set(s.userKey(), string(encoded))
}

// normalizeSummary fold the backend's assorted progress shapes into one
// ProgressSummary. The percent is always recomputed locally with the shared
// formula, a backend-reported percent is ignored.
func (s *Store) normalizeSummary(courseID int64, res *pipeline.Result) (*domain.ProgressSummary, error) {
	var raw map[string]interface{}
	if err := res.Decode(&raw); err != nil {
		return nil, fmt.Errorf("malformed progress body: %w", err)
	}

	completion := make(map[int64]bool)
	haveCompletion := false

	// shape 1: an explicit lesson list with done flags
	if lessons, ok := raw["lessons"].([]interface{}); ok {
		for _, item := range lessons {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			id, ok := numericField(entry, "id", "lesson_id", "lessonId")
			if !ok {
				continue
			}
			done := boolField(entry, "done", "completed", "is_done")
			completion[id] = done
		}
		haveCompletion = len(completion) > 0
	}

	// shape 2: a sparse completion map keyed by lesson id
	if !haveCompletion {
		for _, key := range []string{"completion", "completion_map", "completed_map"} {
			sparse, ok := raw[key].(map[string]interface{})
			if !ok {
				continue
			}
			for idStr, value := range sparse {
				id, err := strconv.ParseInt(idStr, 10, 64)
				if err != nil {
					continue
				}
				done, _ := value.(bool)
				completion[id] = done
			}
			haveCompletion = true
			break
		}
	}

	total, haveTotal := numericField(raw, "total", "lesson_count", "lessons_total")
	completed, haveCompleted := numericField(raw, "completed", "completed_count", "lessons_completed")

	// shape 3: bare counters only
	if haveCompletion {
		trueCount := 0
		for _, done := range completion {
			if done {
				trueCount++
			}
		}
		completed, haveCompleted = int64(trueCount), true
		if !haveTotal {
			total, haveTotal = int64(len(completion)), true
		}
	}
	if !haveTotal {
		total = 0
	}
	if !haveCompleted {
		completed = 0
	}

	return &domain.ProgressSummary{
		CourseID:   courseID,
		Total:      int(total),
		Completed:  int(completed),
		Percent:    domain.ProgressPercent(int(completed), int(total)),
		Completion: completion,
	}, nil
}

func numericField(raw map[string]interface{}, fields ...string) (int64, bool) {
	for _, field := range fields {
		value, ok := raw[field]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case float64:
			return int64(math.Round(v)), true
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func boolField(raw map[string]interface{}, fields ...string) bool {
	for _, field := range fields {
		if value, ok := raw[field].(bool); ok {
			return value
		}
	}
	return false
}
