package domain

import (
	"context"
	"math"
)

// ownership verdicts produced by reconciliation
const (
	OwnershipOwned  = "owned"
	OwnershipLocked = "locked"
)

// ownership reasons attached to a CourseRecord
const (
	OwnershipReasonUnionFlag    = "union_flag"
	OwnershipReasonProductGrant = "product_grant"
)

// CourseRecord canonical per-course view handed to the UI layer. Records are
// recomputed on every fetch, they are never persisted.
type CourseRecord struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Image           string `json:"image"`
	Summary         string `json:"summary"`
	Percent         int    `json:"percent"`
	ModuleCount     int    `json:"module_count"`
	LessonCount     int    `json:"lesson_count"`
	Ownership       string `json:"ownership"`
	OwnershipReason string `json:"ownership_reason,omitempty"`
}

// Owned report whether the canonical ownership verdict grants access
func (c *CourseRecord) Owned() bool {
	return c.Ownership == OwnershipOwned
}

// Lesson a single playable unit inside a module
type Lesson struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	DurationSec int    `json:"duration_sec,omitempty"`
	Locked      bool   `json:"locked"`
	Done        bool   `json:"done"`
}

// CourseModule an ordered group of lessons inside a course
type CourseModule struct {
	ID      int64     `json:"id"`
	Title   string    `json:"title"`
	Lessons []*Lesson `json:"lessons"`
}

// CourseDetail full course structure as rendered by the lesson player
type CourseDetail struct {
	ID      int64           `json:"id"`
	Title   string          `json:"title"`
	Modules []*CourseModule `json:"modules"`
}

// Lessons flatten the module tree in module/lesson order
func (d *CourseDetail) Lessons() []*Lesson {
	var out []*Lesson
	for _, m := range d.Modules {
		out = append(out, m.Lessons...)
	}
	return out
}

// ProgressSummary derived completion state for one course
type ProgressSummary struct {
	CourseID   int64          `json:"course_id"`
	Total      int            `json:"total"`
	Completed  int            `json:"completed"`
	Percent    int            `json:"percent"`
	Completion map[int64]bool `json:"completion"`
}

// ProgressPercent the shared percent formula. Both live-mode normalization and
// mock-mode local computation must go through this function, the result is
// always within [0, 100].
func ProgressPercent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	percent := int(math.Round(float64(completed) * 100 / float64(total)))
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// SummarizeLessons compute a ProgressSummary from a lesson list with done
// flags already applied
func SummarizeLessons(courseID int64, lessons []*Lesson) *ProgressSummary {
	completion := make(map[int64]bool, len(lessons))
	completed := 0
	for _, lesson := range lessons {
		completion[lesson.ID] = lesson.Done
		if lesson.Done {
			completed++
		}
	}
	return &ProgressSummary{
		CourseID:   courseID,
		Total:      len(lessons),
		Completed:  completed,
		Percent:    ProgressPercent(completed, len(lessons)),
		Completion: completion,
	}
}

// CourseUseCase the surface consumed by the UI layer
type CourseUseCase interface {
	Login(ctx context.Context, identifier, secret string) (*Credential, error)
	Logout(ctx context.Context) error
	ListCourses(ctx context.Context, userID int64) ([]*CourseRecord, error)
	GetCourseDetail(ctx context.Context, courseID int64) (*CourseDetail, error)
	GetProgress(ctx context.Context, courseID int64) (*ProgressSummary, error)
	SetLessonDone(ctx context.Context, courseID int64, lessonID *int64, done bool) (*ProgressSummary, error)
}
