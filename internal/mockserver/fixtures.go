package mockserver

import (
	"github.com/mlvik/coursekit/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

type mockUser struct {
	ID           int64
	Identifier   string
	PasswordHash []byte
}

// seedUsers development accounts. ada sees union-mode ownership flags, grace
// only has product entitlements, so she exercises the strict+entitlement
// fallback chain.
func seedUsers() map[string]*mockUser {
	users := map[string]*mockUser{}
	for _, seed := range []struct {
		id         int64
		identifier string
		password   string
	}{
		{101, "ada@example.com", "analytical-engine"},
		{102, "grace@example.com", "nanoseconds"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.password), bcrypt.DefaultCost)
		if err != nil {
			panic(err)
		}
		users[seed.identifier] = &mockUser{
			ID:           seed.id,
			Identifier:   seed.identifier,
			PasswordHash: hash,
		}
	}
	return users
}

// seedCatalog the fixture course catalog
func seedCatalog() []*domain.CourseDetail {
	return []*domain.CourseDetail{
		{
			ID:    7,
			Title: "Foundations of Typography",
			Modules: []*domain.CourseModule{
				{
					ID:    71,
					Title: "Letterforms",
					Lessons: []*domain.Lesson{
						{ID: 711, Title: "Anatomy of a glyph", DurationSec: 420},
						{ID: 712, Title: "Serif and sans", DurationSec: 380},
					},
				},
				{
					ID:    72,
					Title: "Composition",
					Lessons: []*domain.Lesson{
						{ID: 721, Title: "Grids", DurationSec: 540},
					},
				},
			},
		},
		{
			ID:    9,
			Title: "Color Theory in Practice",
			Modules: []*domain.CourseModule{
				{
					ID:    91,
					Title: "Perception",
					Lessons: []*domain.Lesson{
						{ID: 911, Title: "How we see color", DurationSec: 300},
						{ID: 912, Title: "Contrast", DurationSec: 360},
						{ID: 913, Title: "Palettes", DurationSec: 480},
					},
				},
			},
		},
		{
			ID:    12,
			Title: "Interface Animation",
			Modules: []*domain.CourseModule{
				{
					ID:    121,
					Title: "Motion basics",
					Lessons: []*domain.Lesson{
						{ID: 1211, Title: "Timing and easing", DurationSec: 400},
						{ID: 1212, Title: "Choreography", DurationSec: 450},
					},
				},
			},
		},
	}
}

// seedOwnership which courses union mode directly flags per user
func seedOwnership() map[int64][]int64 {
	return map[int64][]int64{
		101: {7},
	}
}

// seedProducts purchased product ids per user
func seedProducts() map[int64][]int64 {
	return map[int64][]int64{
		102: {5001, 5002},
	}
}

// seedGrants product to course associations
func seedGrants() map[int64][]int64 {
	return map[int64][]int64{
		5001: {9},
		5002: {12, 14}, // course 14 has no catalog metadata on purpose
	}
}
