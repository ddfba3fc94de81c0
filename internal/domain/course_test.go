package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressPercent(t *testing.T) {
	cases := []struct {
		name      string
		completed int
		total     int
		expected  int
	}{
		{"empty course", 0, 0, 0},
		{"nothing done", 0, 10, 0},
		{"everything done", 10, 10, 100},
		{"one third rounds", 1, 3, 33},
		{"two thirds rounds", 2, 3, 67},
		{"half", 1, 2, 50},
		{"overflow clamps", 12, 10, 100},
		{"negative total", 3, -1, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, ProgressPercent(c.completed, c.total))
		})
	}
}

func TestProgressPercentBounds(t *testing.T) {
	for total := 0; total <= 40; total++ {
		for completed := 0; completed <= total; completed++ {
			percent := ProgressPercent(completed, total)
			assert.GreaterOrEqual(t, percent, 0)
			assert.LessOrEqual(t, percent, 100)
		}
	}
}

func TestSummarizeLessons(t *testing.T) {
	summary := SummarizeLessons(7, []*Lesson{
		{ID: 1, Done: true},
		{ID: 2, Done: false},
		{ID: 3, Done: true},
	})

	assert.Equal(t, int64(7), summary.CourseID)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 67, summary.Percent)
	assert.Equal(t, map[int64]bool{1: true, 2: false, 3: true}, summary.Completion)
}

func TestCompletionSetSparseFormat(t *testing.T) {
	set := NewCompletionSet(12, 34)

	encoded, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `{"12":true,"34":true}`, string(encoded))

	set.Remove(34)
	encoded, err = json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `{"12":true}`, string(encoded))
}

func TestCompletionSetDecodeDropsJunk(t *testing.T) {
	var set CompletionSet
	require.NoError(t, json.Unmarshal([]byte(`{"12":true,"34":false,"not-an-id":true}`), &set))

	assert.Equal(t, 1, set.Len())
	assert.True(t, set.Has(12))
	assert.False(t, set.Has(34))
}

func nowAt(seconds int) time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(seconds) * time.Second)
}

func TestCredentialTokenValid(t *testing.T) {
	cred := &Credential{SecurityToken: "tok"}
	assert.False(t, cred.TokenValid(nowAt(0), DefaultTokenTTL), "zero issue time is invalid")

	cred.TokenIssuedAt = nowAt(0)
	assert.True(t, cred.TokenValid(nowAt(1), DefaultTokenTTL))
	assert.False(t, cred.TokenValid(nowAt(601), DefaultTokenTTL))

	cred.SecurityToken = ""
	assert.False(t, cred.TokenValid(nowAt(1), DefaultTokenTTL))
}
