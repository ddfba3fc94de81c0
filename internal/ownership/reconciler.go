package ownership

import (
	"context"
	"fmt"
	"sync"

	"github.com/mlvik/coursekit/internal/domain"
	"github.com/mlvik/coursekit/internal/pipeline"
	"go.uber.org/zap"
)

// backend query routes
const (
	unionCoursesPath  = "/api/v1/courses?mode=union"
	strictCoursesPath = "/api/v1/courses?mode=strict"
	userProductsPath  = "/api/v1/user/products"
)

type backendClient interface {
	Do(ctx context.Context, method, path string, body interface{}, opts ...pipeline.Option) (*pipeline.Result, error)
}

// Reconciler merges possibly-inconsistent ownership signals from up to three
// backend sources into one deduplicated, precedence-ordered course list with a
// canonical ownership verdict per course. Sources are queried lazily and each
// is best-effort: a failed source never aborts reconciliation.
type Reconciler struct {
	client backendClient
	logger *zap.Logger
}

// NewReconciler create a reconciler on the given request pipeline
func NewReconciler(client backendClient, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		client: client,
		logger: logger,
	}
}

// Reconcile produce the canonical course list for a user.
//
// Union mode is the cheap common path: if it flags any course as owned it is
// authoritative and no further source is consulted. An all-locked union
// response is ambiguous (owns nothing vs. mode cannot compute ownership), so
// the strict list becomes the metadata base and the product-entitlement chain
// decides ownership on top of it.
func (r *Reconciler) Reconcile(ctx context.Context, userID int64) ([]*domain.CourseRecord, error) {
	union, anyOwned := r.fetchUnion(ctx)
	if anyOwned {
		return union, nil
	}

	base := r.fetchStrict(ctx)
	entitled := r.fetchEntitlements(ctx)

	seen := make(map[int64]struct{}, len(base))
	merged := make([]*domain.CourseRecord, 0, len(base)+len(entitled.order))
	for _, record := range base {
		if _, dup := seen[record.ID]; dup {
			continue
		}
		seen[record.ID] = struct{}{}
		if _, ok := entitled.titles[record.ID]; ok {
			record.Ownership = domain.OwnershipOwned
			record.OwnershipReason = domain.OwnershipReasonProductGrant
		}
		merged = append(merged, record)
	}

	// entitled courses the strict list never mentioned: synthesize a minimal
	// record so the grant is not silently dropped
	for _, id := range entitled.order {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		title := entitled.titles[id]
		if title == "" {
			title = fmt.Sprintf("Course %d", id)
		}
		merged = append(merged, &domain.CourseRecord{
			ID:              id,
			Title:           title,
			Ownership:       domain.OwnershipOwned,
			OwnershipReason: domain.OwnershipReasonProductGrant,
		})
	}
	return merged, nil
}

// fetchUnion query the union-mode listing. The second return reports whether
// any course came back flagged owned, which makes this source authoritative.
func (r *Reconciler) fetchUnion(ctx context.Context) ([]*domain.CourseRecord, bool) {
	rawList, err := r.fetchCourseList(ctx, unionCoursesPath)
	if err != nil {
		r.logger.Warn("Union-mode course fetch failed", zap.Error(err))
		return nil, false
	}

	seen := make(map[int64]struct{}, len(rawList))
	records := make([]*domain.CourseRecord, 0, len(rawList))
	anyOwned := false
	for _, raw := range rawList {
		record, ok := normalizeRecord(raw)
		if !ok {
			r.logger.Debug("Dropping union claim with unresolvable course id")
			continue
		}
		if _, dup := seen[record.ID]; dup {
			continue
		}
		seen[record.ID] = struct{}{}
		if owned, ok := resolveOwnership(raw); ok && owned {
			record.Ownership = domain.OwnershipOwned
			record.OwnershipReason = domain.OwnershipReasonUnionFlag
			anyOwned = true
		}
		records = append(records, record)
	}
	return records, anyOwned
}

// fetchStrict query the strict-mode listing, the source of truth for course
// metadata when union mode reported no ownership
func (r *Reconciler) fetchStrict(ctx context.Context) []*domain.CourseRecord {
	rawList, err := r.fetchCourseList(ctx, strictCoursesPath)
	if err != nil {
		r.logger.Warn("Strict-mode course fetch failed", zap.Error(err))
		return nil
	}
	records := make([]*domain.CourseRecord, 0, len(rawList))
	for _, raw := range rawList {
		record, ok := normalizeRecord(raw)
		if !ok {
			r.logger.Debug("Dropping strict claim with unresolvable course id")
			continue
		}
		records = append(records, record)
	}
	return records
}

// entitledCourses entitlement-derived course ids in a deterministic order
// with the first-seen title per id
type entitledCourses struct {
	order  []int64
	titles map[int64]string
}

// fetchEntitlements resolve purchased products, then the courses each product
// grants. Per-product fetches run concurrently but results merge in product
// order, so the outcome is independent of completion order. A failing product
// is skipped, never fatal.
func (r *Reconciler) fetchEntitlements(ctx context.Context) *entitledCourses {
	entitled := &entitledCourses{titles: make(map[int64]string)}
	products := r.fetchProducts(ctx)
	if len(products) == 0 {
		return entitled
	}

	type grant struct {
		id    int64
		title string
	}
	batches := make([][]grant, len(products))
	var wg sync.WaitGroup
	for i, productID := range products {
		wg.Add(1)
		go func(slot int, productID int64) {
			defer wg.Done()
			rawList, err := r.fetchCourseList(ctx, fmt.Sprintf("/api/v1/products/%d/courses", productID))
			if err != nil {
				r.logger.Warn("Product course fetch failed",
					zap.Int64("product.id", productID),
					zap.Error(err),
				)
				return
			}
			grants := make([]grant, 0, len(rawList))
			for _, raw := range rawList {
				id, ok := resolveCourseID(raw)
				if !ok {
					continue
				}
				grants = append(grants, grant{id: id, title: stringField(raw, "title", "name", "course_title")})
			}
			batches[slot] = grants
		}(i, productID)
	}
	wg.Wait()

	for _, batch := range batches {
		for _, g := range batch {
			if _, dup := entitled.titles[g.id]; dup {
				continue
			}
			entitled.order = append(entitled.order, g.id)
			entitled.titles[g.id] = g.title
		}
	}
	return entitled
}

func (r *Reconciler) fetchProducts(ctx context.Context) []int64 {
	res, err := r.client.Do(ctx, "GET", userProductsPath, nil)
	if err != nil {
		r.logger.Warn("Product listing fetch failed", zap.Error(err))
		return nil
	}
	var payload interface{}
	if err := res.Decode(&payload); err != nil {
		r.logger.Warn("Malformed product listing body", zap.Error(err))
		return nil
	}

	items := extractList(payload, "products", "items", "data", "results")
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		var (
			id int64
			ok bool
		)
		if raw, isMap := item.(map[string]interface{}); isMap {
			id, ok = resolveProductID(raw)
		} else {
			id, ok = coerceID(item)
		}
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func (r *Reconciler) fetchCourseList(ctx context.Context, path string) ([]map[string]interface{}, error) {
	res, err := r.client.Do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	var payload interface{}
	if err := res.Decode(&payload); err != nil {
		return nil, fmt.Errorf("malformed course list body: %w", err)
	}
	items := extractList(payload, "courses", "items", "data", "results")
	list := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if raw, ok := item.(map[string]interface{}); ok {
			list = append(list, raw)
		}
	}
	return list, nil
}

// extractList accept either a bare JSON array or an object wrapping the array
// under one of the given keys
func extractList(payload interface{}, keys ...string) []interface{} {
	switch v := payload.(type) {
	case []interface{}:
		return v
	case map[string]interface{}:
		for _, key := range keys {
			if items, ok := v[key].([]interface{}); ok {
				return items
			}
		}
	}
	return nil
}
