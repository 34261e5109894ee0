package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noteprompt/internal/models"
)

var suiteStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestViolation(identifier, policy string, createdAt time.Time) *models.Violation {
	return &models.Violation{
		ID:         uuid.NewString(),
		Identifier: identifier,
		Policy:     policy,
		Limit:      5,
		Window:     time.Minute,
		ResetAt:    createdAt.Add(30 * time.Second),
		CreatedAt:  createdAt,
	}
}

// runStorageSuite exercises the Storage contract. Identifiers are unique per
// run so database-backed stores can be reused across runs.
func runStorageSuite(t *testing.T, s Storage) {
	ctx := context.Background()
	run := uuid.NewString()[:8]
	alice := "alice-" + run
	bob := "bob-" + run

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("RecordAndList", func(t *testing.T) {
		first := newTestViolation(alice, "login", suiteStart)
		second := newTestViolation(alice, "api", suiteStart.Add(time.Second))
		third := newTestViolation(bob, "login", suiteStart.Add(2*time.Second))
		for _, v := range []*models.Violation{first, second, third} {
			require.NoError(t, s.RecordViolation(ctx, v))
		}

		got, err := s.Violations(ctx, models.ViolationFilter{Identifier: alice})
		require.NoError(t, err)
		require.Len(t, got, 2)

		// Newest first
		assert.Equal(t, second.ID, got[0].ID)
		assert.Equal(t, first.ID, got[1].ID)

		v := got[1]
		assert.Equal(t, alice, v.Identifier)
		assert.Equal(t, "login", v.Policy)
		assert.Equal(t, 5, v.Limit)
		assert.Equal(t, time.Minute, v.Window)
		assert.WithinDuration(t, first.CreatedAt, v.CreatedAt, time.Millisecond)
		assert.WithinDuration(t, first.ResetAt, v.ResetAt, time.Millisecond)
	})

	t.Run("Filters", func(t *testing.T) {
		got, err := s.Violations(ctx, models.ViolationFilter{Identifier: alice, Policy: "login"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "login", got[0].Policy)

		got, err = s.Violations(ctx, models.ViolationFilter{Identifier: alice, Since: suiteStart.Add(time.Second)})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "api", got[0].Policy)

		got, err = s.Violations(ctx, models.ViolationFilter{Identifier: alice, Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "api", got[0].Policy)

		got, err = s.Violations(ctx, models.ViolationFilter{Identifier: "nobody-" + run})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("InvalidViolation", func(t *testing.T) {
		assert.ErrorIs(t, s.RecordViolation(ctx, nil), ErrInvalidViolation)
		assert.ErrorIs(t, s.RecordViolation(ctx, &models.Violation{Identifier: alice, Policy: "login"}), ErrInvalidViolation)
		assert.ErrorIs(t, s.RecordViolation(ctx, &models.Violation{ID: uuid.NewString(), Policy: "login"}), ErrInvalidViolation)
		assert.ErrorIs(t, s.RecordViolation(ctx, &models.Violation{ID: uuid.NewString(), Identifier: alice}), ErrInvalidViolation)
	})

	t.Run("Purge", func(t *testing.T) {
		removed, err := s.PurgeViolations(ctx, suiteStart.Add(1500*time.Millisecond))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, removed, int64(2))

		got, err := s.Violations(ctx, models.ViolationFilter{Identifier: alice})
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = s.Violations(ctx, models.ViolationFilter{Identifier: bob})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}
