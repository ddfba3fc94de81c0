package ownership

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/mlvik/coursekit/internal/domain"
)

// Backend payloads are loose: ids and ownership flags arrive under many key
// names, as numbers, strings or nested objects. All of that is normalized
// here, at the boundary, so the rest of the layer only sees strict types.

// candidate course id fields, tried in priority order
var courseIDFields = []string{"id", "course_id", "courseId", "cid", "pk", "item_id"}

// candidate product id fields, tried in priority order
var productIDFields = []string{"id", "product_id", "productId", "pid", "sku"}

// candidate ownership flag fields, tried in priority order
var ownershipFields = []string{"is_owned", "owned", "has_access", "access", "purchased", "paid", "unlocked"}

var digitRun = regexp.MustCompile(`[0-9]{2,}`)

// resolveCourseID extract a numeric course id from a raw payload object.
// Falls through a fixed field priority list, then recurses one level into a
// nested course object. Returns false when nothing numeric is found; such a
// claim is dropped from reconciliation, never raised.
func resolveCourseID(raw map[string]interface{}) (int64, bool) {
	if id, ok := resolveID(raw, courseIDFields); ok {
		return id, true
	}
	if nested, ok := raw["course"].(map[string]interface{}); ok {
		return resolveID(nested, courseIDFields)
	}
	if value, ok := raw["course"]; ok {
		return coerceID(value)
	}
	return 0, false
}

// resolveProductID extract a numeric product id from a raw payload object
func resolveProductID(raw map[string]interface{}) (int64, bool) {
	if id, ok := resolveID(raw, productIDFields); ok {
		return id, true
	}
	if nested, ok := raw["product"].(map[string]interface{}); ok {
		return resolveID(nested, productIDFields)
	}
	if value, ok := raw["product"]; ok {
		return coerceID(value)
	}
	return 0, false
}

func resolveID(raw map[string]interface{}, fields []string) (int64, bool) {
	for _, field := range fields {
		value, ok := raw[field]
		if !ok {
			continue
		}
		if id, ok := coerceID(value); ok {
			return id, true
		}
	}
	return 0, false
}

// coerceID turn a loose value into a numeric id. Strings are parsed whole
// first; extracting the first run of two or more digits is the last resort.
func coerceID(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case float64:
		if v > 0 && v == math.Trunc(v) {
			return int64(v), true
		}
	case int64:
		if v > 0 {
			return v, true
		}
	case int:
		if v > 0 {
			return int64(v), true
		}
	case json.Number:
		if id, err := v.Int64(); err == nil && id > 0 {
			return id, true
		}
	case string:
		trimmed := strings.TrimSpace(v)
		if id, err := strconv.ParseInt(trimmed, 10, 64); err == nil && id > 0 {
			return id, true
		}
		if run := digitRun.FindString(trimmed); run != "" {
			if id, err := strconv.ParseInt(run, 10, 64); err == nil && id > 0 {
				return id, true
			}
		}
	}
	return 0, false
}

// resolveOwnership read an ownership flag from a raw payload object. The
// second return reports whether any recognizable flag was present at all.
func resolveOwnership(raw map[string]interface{}) (bool, bool) {
	for _, field := range ownershipFields {
		value, ok := raw[field]
		if !ok {
			continue
		}
		if owned, ok := coerceBool(value); ok {
			return owned, true
		}
	}
	return false, false
}

func coerceBool(value interface{}) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case float64:
		return v != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "owned", "purchased":
			return true, true
		case "0", "false", "no", "n", "locked":
			return false, true
		}
	}
	return false, false
}

func stringField(raw map[string]interface{}, fields ...string) string {
	for _, field := range fields {
		if value, ok := raw[field].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

func intField(raw map[string]interface{}, fields ...string) int {
	for _, field := range fields {
		value, ok := raw[field]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case float64:
			return int(math.Round(v))
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return 0
}

// normalizeRecord build a strict CourseRecord from a raw payload object.
// Records without a resolvable id are excluded.
func normalizeRecord(raw map[string]interface{}) (*domain.CourseRecord, bool) {
	id, ok := resolveCourseID(raw)
	if !ok {
		return nil, false
	}
	record := &domain.CourseRecord{
		ID:          id,
		Title:       stringField(raw, "title", "name", "course_title"),
		Image:       stringField(raw, "image", "cover", "thumbnail", "image_url"),
		Summary:     stringField(raw, "summary", "description", "short_desc"),
		Percent:     intField(raw, "percent", "progress"),
		ModuleCount: intField(raw, "module_count", "modules"),
		LessonCount: intField(raw, "lesson_count", "lessons"),
		Ownership:   domain.OwnershipLocked,
	}
	if record.Percent < 0 {
		record.Percent = 0
	}
	if record.Percent > 100 {
		record.Percent = 100
	}
	return record, true
}
