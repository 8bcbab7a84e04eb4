package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recognition-ledger/ledger"
)

func TestPointEvent_Validate(t *testing.T) {
	valid := map[ledger.Source]ledger.PointEvent{
		ledger.SourceManualAward: event("e1", "emp-a", 10, ledger.SourceManualAward, base),
		ledger.SourceGameAward:   event("e2", "emp-a", 10, ledger.SourceGameAward, base),
		ledger.SourceRedemption:  event("e3", "emp-a", -10, ledger.SourceRedemption, base),
		ledger.SourceUndo:        event("e4", "emp-a", -10, ledger.SourceUndo, base),
	}
	for src, e := range valid {
		assert.NoError(t, e.Validate(), "source %s", src)
	}

	cases := []struct {
		name   string
		mutate func(*ledger.PointEvent)
		from   ledger.Source
	}{
		{"award with zero amount", func(e *ledger.PointEvent) { e.Amount = 0 }, ledger.SourceManualAward},
		{"award without reason", func(e *ledger.PointEvent) { e.SourceDetail = "  " }, ledger.SourceManualAward},
		{"award without awarder", func(e *ledger.PointEvent) { e.AwardedBy = "" }, ledger.SourceManualAward},
		{"game award with awarder", func(e *ledger.PointEvent) { e.AwardedBy = "mgr-1" }, ledger.SourceGameAward},
		{"positive redemption", func(e *ledger.PointEvent) { e.Amount = 5 }, ledger.SourceRedemption},
		{"undo without actor", func(e *ledger.PointEvent) { e.AwardedBy = "" }, ledger.SourceUndo},
		{"unknown source", func(e *ledger.PointEvent) { e.Source = "bonus" }, ledger.SourceManualAward},
		{"award above the cap", func(e *ledger.PointEvent) { e.Amount = ledger.MaxEventAmount + 1 }, ledger.SourceGameAward},
		{"redemption below the cap", func(e *ledger.PointEvent) { e.Amount = -ledger.MaxEventAmount - 1 }, ledger.SourceRedemption},
		{"missing timestamp", func(e *ledger.PointEvent) { e.CreatedAt = time.Time{} }, ledger.SourceGameAward},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := valid[tc.from]
			tc.mutate(&e)
			err := e.Validate()
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
}

func TestPointEvent_ReversalNegatesExactly(t *testing.T) {
	orig := event("e1", "emp-a", 25, ledger.SourceManualAward, base)

	undo := orig.Reversal("u1", "wrong employee", "mgr-2", base.Add(time.Minute))

	assert.Equal(t, int64(-25), undo.Amount)
	assert.Equal(t, ledger.SourceUndo, undo.Source)
	assert.Equal(t, "e1", undo.ReferenceID)
	assert.Equal(t, ledger.EmployeeID("mgr-2"), undo.AwardedBy)
	assert.NoError(t, undo.Validate())
}

func TestParseSource(t *testing.T) {
	for _, s := range ledger.Sources {
		got, err := ledger.ParseSource(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ledger.ParseSource("refund")
	assert.Error(t, err)
}

func TestErrors_UnwrapToSentinels(t *testing.T) {
	assert.ErrorIs(t, &ledger.NotFoundError{Kind: "event", ID: "x"}, ledger.ErrNotFound)
	assert.ErrorIs(t, &ledger.PermissionError{}, ledger.ErrPermission)
	assert.ErrorIs(t, &ledger.ExpiredWindowError{}, ledger.ErrExpiredWindow)

	short := &ledger.InsufficientBalanceError{Available: 40, Requested: 50}
	assert.ErrorIs(t, short, ledger.ErrInsufficientBalance)
	assert.Equal(t, int64(10), short.Shortfall())

	dup := &ledger.ConflictError{Op: "insert", Cause: ledger.ErrDuplicateIdempotencyKey}
	assert.ErrorIs(t, dup, ledger.ErrConflict)
	assert.ErrorIs(t, dup, ledger.ErrDuplicateIdempotencyKey)
	assert.False(t, ledger.IsRetryable(dup))
	assert.True(t, ledger.IsRetryable(&ledger.ConflictError{Op: "tx"}))

	wrapped := errors.Join(errors.New("context"), &ledger.ValidationError{Field: "amount"})
	assert.Equal(t, "validation", ledger.Kind(wrapped))
	assert.Equal(t, "internal", ledger.Kind(errors.New("boom")))
}

func TestPeriod_WeekOf(t *testing.T) {
	// 2025-03-12 is a Wednesday
	week := ledger.WeekOf(base, time.Monday)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), week.Start)
	assert.Equal(t, time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC), week.End)

	sunday := ledger.WeekOf(base, time.Sunday)
	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), sunday.Start)

	// A Monday is the start of its own week
	monday := ledger.WeekOf(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), time.Monday)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), monday.Start)
}

func TestPeriod_MonthOf(t *testing.T) {
	month := ledger.MonthOf(time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), month.Start)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), month.End)
}

func TestParseWeekday(t *testing.T) {
	d, err := ledger.ParseWeekday("Monday")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d)

	d, err = ledger.ParseWeekday("sun")
	require.NoError(t, err)
	assert.Equal(t, time.Sunday, d)

	_, err = ledger.ParseWeekday("funday")
	assert.Error(t, err)
}
