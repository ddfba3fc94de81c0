package progress

import (
	"context"
	"testing"

	"github.com/mlvik/coursekit/internal/domain"
	"github.com/mlvik/coursekit/internal/infrastructure/driver"
	"github.com/mlvik/coursekit/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClient struct {
	body  string
	calls []string
}

func (f *fakeClient) Do(ctx context.Context, method, path string, body interface{}, opts ...pipeline.Option) (*pipeline.Result, error) {
	f.calls = append(f.calls, method+" "+path)
	return &pipeline.Result{
		Status:      200,
		ContentType: "application/json",
		Body:        []byte(f.body),
	}, nil
}

type fakeIdentity struct {
	userID int64
}

func (f *fakeIdentity) Credential() *domain.Credential {
	return &domain.Credential{UserID: f.userID}
}

func testCourse() *domain.CourseDetail {
	return &domain.CourseDetail{
		ID:    7,
		Title: "Foundations of Typography",
		Modules: []*domain.CourseModule{
			{ID: 71, Title: "Letterforms", Lessons: []*domain.Lesson{
				{ID: 711, Title: "Anatomy"},
				{ID: 712, Title: "Classification"},
			}},
			{ID: 72, Title: "Layout", Lessons: []*domain.Lesson{
				{ID: 721, Title: "Grids"},
			}},
		},
	}
}

func staticDetail(detail *domain.CourseDetail) DetailFunc {
	return func(ctx context.Context, courseID int64) (*domain.CourseDetail, error) {
		return detail, nil
	}
}

func newMockStore(kv driver.KeyValueDB) *Store {
	return NewStore(nil, kv, &fakeIdentity{userID: 101}, staticDetail(testCourse()), true, zap.NewNop())
}

func TestMockProgressStartsEmpty(t *testing.T) {
	store := newMockStore(driver.NewMemoryKV())
	summary, err := store.GetProgress(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 0, summary.Completed)
	assert.Equal(t, 0, summary.Percent)
}

func TestMockSetDoneExplicitLesson(t *testing.T) {
	ctx := context.Background()
	store := newMockStore(driver.NewMemoryKV())

	lessonID := int64(712)
	summary, err := store.SetDone(ctx, 7, &lessonID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 33, summary.Percent)
	assert.True(t, summary.Completion[712])
	assert.False(t, summary.Completion[711])

	// marking the same lesson again changes nothing
	summary, err = store.SetDone(ctx, 7, &lessonID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
}

func TestMockImplicitLessonOrder(t *testing.T) {
	ctx := context.Background()
	store := newMockStore(driver.NewMemoryKV())

	// 711 is already done, the implicit walk resumes at 712 then 721
	first := int64(711)
	_, err := store.SetDone(ctx, 7, &first, true)
	require.NoError(t, err)

	summary, err := store.SetDone(ctx, 7, nil, true)
	require.NoError(t, err)
	assert.True(t, summary.Completion[712])
	assert.False(t, summary.Completion[721])

	summary, err = store.SetDone(ctx, 7, nil, true)
	require.NoError(t, err)
	assert.True(t, summary.Completion[721])
	assert.Equal(t, 100, summary.Percent)

	_, err = store.SetDone(ctx, 7, nil, true)
	assert.ErrorIs(t, err, domain.ErrNoPendingLesson)
}

func TestMockUndoRemovesFromPersistedMap(t *testing.T) {
	ctx := context.Background()
	kv := driver.NewMemoryKV()
	store := newMockStore(kv)

	lessonID := int64(711)
	_, err := store.SetDone(ctx, 7, &lessonID, true)
	require.NoError(t, err)

	raw, err := kv.Get("progress:user:101")
	require.NoError(t, err)
	assert.JSONEq(t, `{"711":true}`, raw)

	summary, err := store.SetDone(ctx, 7, &lessonID, false)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Completed)

	raw, err = kv.Get("progress:user:101")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, raw, "undone lessons leave no false entries behind")
}

func TestMockProgressSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	kv := driver.NewMemoryKV()

	lessonID := int64(711)
	_, err := newMockStore(kv).SetDone(ctx, 7, &lessonID, true)
	require.NoError(t, err)

	summary, err := newMockStore(kv).GetProgress(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.True(t, summary.Completion[711])
}

func TestMockCorruptStateIsDiscarded(t *testing.T) {
	ctx := context.Background()
	kv := driver.NewMemoryKV()
	require.NoError(t, kv.Set("progress:user:101", "not json at all"))

	summary, err := newMockStore(kv).GetProgress(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Completed)
}

func TestMockProgressIsPerUser(t *testing.T) {
	ctx := context.Background()
	kv := driver.NewMemoryKV()

	lessonID := int64(711)
	_, err := newMockStore(kv).SetDone(ctx, 7, &lessonID, true)
	require.NoError(t, err)

	other := NewStore(nil, kv, &fakeIdentity{userID: 102}, staticDetail(testCourse()), true, zap.NewNop())
	summary, err := other.GetProgress(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Completed)
}

func TestLiveNormalizeLessonList(t *testing.T) {
	client := &fakeClient{body: `{
		"total": 3,
		"completed": 99,
		"percent": 12,
		"lessons": [
			{"id": 711, "done": true},
			{"id": 712, "done": false},
			{"id": 721, "done": true}
		]
	}`}
	store := NewStore(client, driver.NewMemoryKV(), &fakeIdentity{userID: 101}, nil, false, zap.NewNop())

	summary, err := store.GetProgress(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"GET /api/v1/courses/7/progress"}, client.calls)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Completed, "lesson flags beat the reported counter")
	assert.Equal(t, 67, summary.Percent, "percent is recomputed, never trusted")
	assert.Equal(t, map[int64]bool{711: true, 712: false, 721: true}, summary.Completion)
}

func TestLiveNormalizeSparseMap(t *testing.T) {
	client := &fakeClient{body: `{"total": 4, "completion": {"711": true, "712": false}}`}
	store := NewStore(client, driver.NewMemoryKV(), &fakeIdentity{userID: 101}, nil, false, zap.NewNop())

	summary, err := store.GetProgress(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 25, summary.Percent)
}

func TestLiveNormalizeBareCounters(t *testing.T) {
	client := &fakeClient{body: `{"lessons_total": "10", "lessons_completed": 4}`}
	store := NewStore(client, driver.NewMemoryKV(), &fakeIdentity{userID: 101}, nil, false, zap.NewNop())

	summary, err := store.GetProgress(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Total)
	assert.Equal(t, 4, summary.Completed)
	assert.Equal(t, 40, summary.Percent)
}

func TestLiveSetDonePostsBody(t *testing.T) {
	client := &fakeClient{body: `{"total": 3, "completed": 1}`}
	store := NewStore(client, driver.NewMemoryKV(), &fakeIdentity{userID: 101}, nil, false, zap.NewNop())

	lessonID := int64(711)
	summary, err := store.SetDone(context.Background(), 7, &lessonID, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"POST /api/v1/courses/7/progress"}, client.calls)
	assert.Equal(t, 33, summary.Percent)
}
