package rewards_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/recognition-ledger/ledger"
	"github.com/warp/recognition-ledger/ledger/store"
	"github.com/warp/recognition-ledger/rewards"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const loc = ledger.LocationID("loc-downtown")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.May, 14, 15, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store     ledger.Store
	directory *rewards.MemoryDirectory
	catalog   *rewards.MemoryCatalog
	service   *rewards.Service
	agg       *ledger.Aggregator
	clock     *fakeClock
}

func roster() []rewards.Employee {
	return []rewards.Employee{
		{ID: "gm", Name: "Grace", LocationID: loc, Title: rewards.TitleGeneralManager, Active: true},
		{ID: "am", Name: "Miguel", LocationID: loc, Title: rewards.TitleAssistantManager, Active: true},
		{ID: "sm", Name: "Sam", LocationID: loc, Title: rewards.TitleShiftManager, Active: true},
		{ID: "tm-a", Name: "Avery", LocationID: loc, Title: rewards.TitleTeamMember, Active: true},
		{ID: "tm-b", Name: "Blake", LocationID: loc, Title: rewards.TitleTeamMember, Active: true},
		{ID: "tm-c", Name: "Casey", LocationID: loc, Title: rewards.TitleTeamMember, Active: true},
		{ID: "tm-gone", Name: "Drew", LocationID: loc, Title: rewards.TitleTeamMember, Active: false},
		{ID: "tm-other", Name: "Eli", LocationID: "loc-uptown", Title: rewards.TitleTeamMember, Active: true},
		{ID: "gm-uptown", Name: "Harper", LocationID: "loc-uptown", Title: rewards.TitleGeneralManager, Active: true},
		{ID: "odd", Name: "Frankie", LocationID: loc, Title: "Regional Wizard", Active: true},
	}
}

func newFixture(t *testing.T, st ledger.Store) *fixture {
	t.Helper()
	clock := newClock()
	catalog := rewards.NewMemoryCatalog(rewards.StandardCatalog(loc)...)
	require.NoError(t, catalog.SaveReward(context.Background(), rewards.RewardItem{
		ID: "retired", LocationID: loc, Name: "Old Mug", PointsCost: 10, Active: false,
	}))
	f := &fixture{
		store:     st,
		directory: rewards.NewMemoryDirectory(roster()...),
		catalog:   catalog,
		clock:     clock,
	}
	f.service = rewards.NewService(st, f.directory, f.catalog, rewards.WithClock(clock.Now))
	f.agg = ledger.NewAggregator(st, ledger.WithClock(clock.Now))
	return f
}

func newTxFixture(t *testing.T) *fixture {
	return newFixture(t, store.NewTxMemory())
}

func (f *fixture) balance(t *testing.T, id ledger.EmployeeID) int64 {
	t.Helper()
	b, err := f.agg.Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

// grant gives an employee a starting balance through game awards.
func (f *fixture) grant(t *testing.T, id ledger.EmployeeID, amount int64) {
	t.Helper()
	_, err := f.service.GrantGameAward(context.Background(), rewards.GameAwardRequest{
		EmployeeID: id, LocationID: loc, Amount: amount, Label: "Upsell Challenge", GrantedBy: "sm",
	})
	require.NoError(t, err)
}

func (f *fixture) redeemReward(t *testing.T, cost int64) string {
	t.Helper()
	id := fmt.Sprintf("reward-%d", cost)
	require.NoError(t, f.catalog.SaveReward(context.Background(), rewards.RewardItem{
		ID: id, LocationID: loc, Name: "Test Reward", PointsCost: cost, Active: true,
	}))
	return id
}

// =============================================================================
// AWARD TESTS
// =============================================================================

func TestAward_ScenarioA_AssistantManagerAwardsTeamMember(t *testing.T) {
	// GIVEN: Assistant Manager M and Team Member A with no points
	// WHEN: M awards A 25 points for "Great service."
	// THEN: A's balance rises by 25 and A leads this week's leaderboard with 25

	f := newTxFixture(t)
	ctx := context.Background()
	before := f.balance(t, "tm-a")

	id, err := f.service.Award(ctx, rewards.AwardRequest{
		EmployeeID: "tm-a", LocationID: loc, Amount: 25, Reason: "Great service.", AwardedBy: "am",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Equal(t, before+25, f.balance(t, "tm-a"))

	board, err := f.agg.WeeklyLeaderboard(ctx, loc, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, ledger.EmployeeID("tm-a"), board[0].EmployeeID)
	assert.Equal(t, int64(25), board[0].Points)

	e, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceManualAward, e.Source)
	assert.Equal(t, ledger.EmployeeID("am"), e.AwardedBy)
}

func TestAward_ScenarioE_TeamMemberCannotAward(t *testing.T) {
	// GIVEN: A Team Member actor
	// WHEN: Awarding anyone, including a peer and a manager
	// THEN: PermissionError, and no event is written

	f := newTxFixture(t)
	ctx := context.Background()

	for _, target := range []ledger.EmployeeID{"tm-b", "sm", "gm"} {
		_, err := f.service.Award(ctx, rewards.AwardRequest{
			EmployeeID: target, LocationID: loc, Amount: 5, Reason: "thanks", AwardedBy: "tm-a",
		})
		assert.ErrorIs(t, err, ledger.ErrPermission, "target %s", target)

		history, err := f.agg.History(ctx, target)
		require.NoError(t, err)
		assert.Empty(t, history)
	}
}

func TestAward_EqualRankRejected(t *testing.T) {
	f := newTxFixture(t)
	_, err := f.service.Award(context.Background(), rewards.AwardRequest{
		EmployeeID: "gm", LocationID: loc, Amount: 5, Reason: "peer kudos", AwardedBy: "gm",
	})

	var perm *ledger.PermissionError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, ledger.EmployeeID("gm"), perm.ActorID)
}

func TestAward_UnknownTitleFailsClosed(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()

	_, err := f.service.Award(ctx, rewards.AwardRequest{
		EmployeeID: "tm-a", LocationID: loc, Amount: 5, Reason: "x", AwardedBy: "odd",
	})
	assert.ErrorIs(t, err, ledger.ErrPermission)

	_, err = f.service.Award(ctx, rewards.AwardRequest{
		EmployeeID: "odd", LocationID: loc, Amount: 5, Reason: "x", AwardedBy: "gm",
	})
	assert.ErrorIs(t, err, ledger.ErrPermission)
}

func TestAward_InputErrors(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  rewards.AwardRequest
		want error
	}{
		{"zero amount", rewards.AwardRequest{EmployeeID: "tm-a", LocationID: loc, Amount: 0, Reason: "x", AwardedBy: "am"}, ledger.ErrValidation},
		{"negative amount", rewards.AwardRequest{EmployeeID: "tm-a", LocationID: loc, Amount: -3, Reason: "x", AwardedBy: "am"}, ledger.ErrValidation},
		{"blank reason", rewards.AwardRequest{EmployeeID: "tm-a", LocationID: loc, Amount: 5, Reason: "   ", AwardedBy: "am"}, ledger.ErrValidation},
		{"unknown target", rewards.AwardRequest{EmployeeID: "nobody", LocationID: loc, Amount: 5, Reason: "x", AwardedBy: "am"}, ledger.ErrNotFound},
		{"inactive target", rewards.AwardRequest{EmployeeID: "tm-gone", LocationID: loc, Amount: 5, Reason: "x", AwardedBy: "am"}, ledger.ErrNotFound},
		{"unknown actor", rewards.AwardRequest{EmployeeID: "tm-a", LocationID: loc, Amount: 5, Reason: "x", AwardedBy: "ghost"}, ledger.ErrNotFound},
		{"target at other location", rewards.AwardRequest{EmployeeID: "tm-other", LocationID: loc, Amount: 5, Reason: "x", AwardedBy: "am"}, ledger.ErrValidation},
		{"amount above cap", rewards.AwardRequest{EmployeeID: "tm-a", LocationID: loc, Amount: ledger.MaxEventAmount + 1, Reason: "x", AwardedBy: "am"}, ledger.ErrValidation},
		{"max int64 amount", rewards.AwardRequest{EmployeeID: "tm-a", LocationID: loc, Amount: math.MaxInt64, Reason: "x", AwardedBy: "am"}, ledger.ErrValidation},
		{"actor at other location", rewards.AwardRequest{EmployeeID: "tm-a", LocationID: loc, Amount: 5, Reason: "x", AwardedBy: "gm-uptown"}, ledger.ErrPermission},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.Award(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	board, err := f.agg.WeeklyLeaderboard(ctx, loc, f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, board)
}

func TestAward_DuplicateIdempotencyKey(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()
	req := rewards.AwardRequest{
		EmployeeID: "tm-a", LocationID: loc, Amount: 10, Reason: "closing shift", AwardedBy: "sm", IdempotencyKey: "req-1",
	}

	_, err := f.service.Award(ctx, req)
	require.NoError(t, err)
	_, err = f.service.Award(ctx, req)

	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
	assert.Equal(t, int64(10), f.balance(t, "tm-a"))
}

func TestGrantGameAward(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()

	id, err := f.service.GrantGameAward(ctx, rewards.GameAwardRequest{
		EmployeeID: "tm-b", LocationID: loc, Amount: 12, Label: "Speed Round", GrantedBy: "sm",
	})
	require.NoError(t, err)

	e, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceGameAward, e.Source)
	assert.Empty(t, e.AwardedBy)
	assert.Equal(t, "Speed Round", e.SourceDetail)

	_, err = f.service.GrantGameAward(ctx, rewards.GameAwardRequest{
		EmployeeID: "tm-b", LocationID: loc, Amount: 0, Label: "Speed Round", GrantedBy: "sm",
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestAward_AmountCapKeepsSumsExact(t *testing.T) {
	// GIVEN: A General Manager awarding the largest allowed amount twice
	// WHEN: A third award goes over the cap
	// THEN: It is rejected and balance and leaderboard equal the exact sum

	f := newTxFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.service.Award(ctx, rewards.AwardRequest{
			EmployeeID: "tm-a", LocationID: loc, Amount: ledger.MaxEventAmount, Reason: "record week", AwardedBy: "gm",
		})
		require.NoError(t, err)
	}
	_, err := f.service.Award(ctx, rewards.AwardRequest{
		EmployeeID: "tm-a", LocationID: loc, Amount: math.MaxInt64, Reason: "record week", AwardedBy: "gm",
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)
	_, err = f.service.GrantGameAward(ctx, rewards.GameAwardRequest{
		EmployeeID: "tm-a", LocationID: loc, Amount: math.MaxInt64, Label: "Speed Round", GrantedBy: "sm",
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	assert.Equal(t, 2*ledger.MaxEventAmount, f.balance(t, "tm-a"))
	board, err := f.agg.WeeklyLeaderboard(ctx, loc, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, 2*ledger.MaxEventAmount, board[0].Points)
}

func TestGrantGameAward_CallerChecks(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		caller ledger.EmployeeID
		want   error
	}{
		{"no caller", "", ledger.ErrValidation},
		{"unknown caller", "ghost", ledger.ErrNotFound},
		{"inactive caller", "tm-gone", ledger.ErrNotFound},
		{"caller with unknown title", "odd", ledger.ErrPermission},
		{"caller at other location", "gm-uptown", ledger.ErrPermission},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.GrantGameAward(ctx, rewards.GameAwardRequest{
				EmployeeID: "tm-b", LocationID: loc, Amount: 10, Label: "Speed Round", GrantedBy: tc.caller,
			})
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, int64(0), f.balance(t, "tm-b"))
}

// =============================================================================
// UNDO TESTS
// =============================================================================

func award(t *testing.T, f *fixture, target ledger.EmployeeID, amount int64) ledger.EventID {
	t.Helper()
	id, err := f.service.Award(context.Background(), rewards.AwardRequest{
		EmployeeID: target, LocationID: loc, Amount: amount, Reason: "Great service.", AwardedBy: "am",
	})
	require.NoError(t, err)
	return id
}

func TestUndo_ScenarioB_ImmediateUndo(t *testing.T) {
	// GIVEN: M awarded A 25 points
	// WHEN: M undoes it with reason "wrong employee"
	// THEN: A's balance is back, a -25 undo event exists, the original is gone

	f := newTxFixture(t)
	ctx := context.Background()
	before := f.balance(t, "tm-a")
	awardID := award(t, f, "tm-a", 25)

	undoID, err := f.service.Undo(ctx, rewards.UndoRequest{EventID: awardID, Reason: "wrong employee", ActorID: "am"})
	require.NoError(t, err)

	assert.Equal(t, before, f.balance(t, "tm-a"))

	_, err = f.store.Get(ctx, awardID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	undo, err := f.store.Get(ctx, undoID)
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceUndo, undo.Source)
	assert.Equal(t, int64(-25), undo.Amount)
	assert.Equal(t, "wrong employee", undo.SourceDetail)
	assert.Equal(t, string(awardID), undo.ReferenceID)
	assert.Equal(t, ledger.EmployeeID("am"), undo.AwardedBy)

	// Negative events never reduce a leaderboard total
	board, err := f.agg.WeeklyLeaderboard(ctx, loc, f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, board)
}

func TestUndo_TwiceReturnsNotFound(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()
	awardID := award(t, f, "tm-a", 10)

	_, err := f.service.Undo(ctx, rewards.UndoRequest{EventID: awardID, Reason: "y", ActorID: "am"})
	require.NoError(t, err)

	_, err = f.service.Undo(ctx, rewards.UndoRequest{EventID: awardID, Reason: "y", ActorID: "am"})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, int64(0), f.balance(t, "tm-a"))
}

func TestUndo_WindowBoundary(t *testing.T) {
	// GIVEN: Two awards created at the same instant
	// WHEN: Undoing one at +59m59s and the other at +60m01s
	// THEN: The first succeeds, the second fails with ExpiredWindowError

	f := newTxFixture(t)
	ctx := context.Background()
	early := award(t, f, "tm-a", 10)
	late := award(t, f, "tm-b", 10)

	f.clock.Advance(59*time.Minute + 59*time.Second)
	_, err := f.service.Undo(ctx, rewards.UndoRequest{EventID: early, Reason: "oops", ActorID: "gm"})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)
	_, err = f.service.Undo(ctx, rewards.UndoRequest{EventID: late, Reason: "oops", ActorID: "gm"})

	var expired *ledger.ExpiredWindowError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, late, expired.EventID)
	assert.Equal(t, ledger.UndoWindow, expired.Window)
	assert.Equal(t, int64(10), f.balance(t, "tm-b"))
}

func TestUndo_ExactlyOneHourIsExpired(t *testing.T) {
	f := newTxFixture(t)
	id := award(t, f, "tm-a", 10)

	f.clock.Advance(time.Hour)
	_, err := f.service.Undo(context.Background(), rewards.UndoRequest{EventID: id, Reason: "late", ActorID: "am"})
	assert.ErrorIs(t, err, ledger.ErrExpiredWindow)
}

func TestUndo_OnlyAwardsAreReversible(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()
	awardID := award(t, f, "tm-a", 40)

	undoID, err := f.service.Undo(ctx, rewards.UndoRequest{EventID: awardID, Reason: "dup", ActorID: "am"})
	require.NoError(t, err)

	_, err = f.service.Undo(ctx, rewards.UndoRequest{EventID: undoID, Reason: "undo the undo", ActorID: "am"})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	f.grant(t, "tm-b", 40)
	redemptionID, err := f.service.Redeem(ctx, rewards.RedeemRequest{EmployeeID: "tm-b", LocationID: loc, RewardID: string(loc) + "-free-meal", ActorID: "tm-b"})
	require.NoError(t, err)

	_, err = f.service.Undo(ctx, rewards.UndoRequest{EventID: redemptionID, Reason: "refund", ActorID: "am"})
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, int64(10), f.balance(t, "tm-b"))
}

func TestUndo_InputErrors(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()
	id := award(t, f, "tm-a", 5)

	_, err := f.service.Undo(ctx, rewards.UndoRequest{EventID: id, Reason: "", ActorID: "am"})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.service.Undo(ctx, rewards.UndoRequest{EventID: "missing", Reason: "x", ActorID: "am"})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = f.service.Undo(ctx, rewards.UndoRequest{EventID: id, Reason: "x", ActorID: "ghost"})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	assert.Equal(t, int64(5), f.balance(t, "tm-a"))
}

func TestUndo_RoundTripRestoresBalance(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()
	f.grant(t, "tm-c", 7)
	before := f.balance(t, "tm-c")

	id := award(t, f, "tm-c", 10)
	_, err := f.service.Undo(ctx, rewards.UndoRequest{EventID: id, Reason: "y", ActorID: "am"})
	require.NoError(t, err)

	assert.Equal(t, before, f.balance(t, "tm-c"))
}

func TestUndo_ConcurrentUndoExactlyOneWins(t *testing.T) {
	// GIVEN: One award
	// WHEN: Eight actors undo it concurrently
	// THEN: Exactly one succeeds, the rest get NotFoundError, balance is back to zero

	for _, tc := range []struct {
		name  string
		store ledger.Store
	}{
		{"transactional", store.NewTxMemory()},
		{"non-transactional", store.NewMemory()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.store)
			id := award(t, f, "tm-a", 30)

			const workers = 8
			var wg sync.WaitGroup
			errs := make([]error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = f.service.Undo(context.Background(), rewards.UndoRequest{EventID: id, Reason: "race", ActorID: "gm"})
				}(i)
			}
			wg.Wait()

			succeeded := 0
			for _, err := range errs {
				if err == nil {
					succeeded++
					continue
				}
				assert.ErrorIs(t, err, ledger.ErrNotFound)
			}
			assert.Equal(t, 1, succeeded)
			assert.Equal(t, int64(0), f.balance(t, "tm-a"))
		})
	}
}

// failingDelete is a non-transactional store whose deletes always fail.
type failingDelete struct {
	*store.Memory
}

func (failingDelete) Delete(context.Context, ledger.EventID) error {
	return errors.New("disk unplugged")
}

func TestUndo_NonAtomicFailedDeleteIsReported(t *testing.T) {
	// GIVEN: A store without transactions whose delete fails
	// WHEN: Undoing an award
	// THEN: An InconsistencyError is returned and both rows remain (duplicated, not lost)

	f := newFixture(t, failingDelete{Memory: store.NewMemory()})
	ctx := context.Background()
	id := award(t, f, "tm-a", 20)
	assert.False(t, f.service.Transactional())

	_, err := f.service.Undo(ctx, rewards.UndoRequest{EventID: id, Reason: "oops", ActorID: "am"})

	var inconsistency *ledger.InconsistencyError
	require.ErrorAs(t, err, &inconsistency)
	assert.Equal(t, id, inconsistency.OriginalID)
	assert.True(t, rewards.IsInconsistent(err))

	history, err := f.agg.History(ctx, "tm-a")
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, int64(0), f.balance(t, "tm-a"))
}

// =============================================================================
// REDEMPTION TESTS
// =============================================================================

func TestRedeem_ScenarioC_InsufficientBalance(t *testing.T) {
	// GIVEN: B has 40 points
	// WHEN: Redeeming a reward costing 50
	// THEN: InsufficientBalanceError, balance unchanged at 40

	f := newTxFixture(t)
	f.grant(t, "tm-b", 40)
	reward := f.redeemReward(t, 50)

	_, err := f.service.Redeem(context.Background(), rewards.RedeemRequest{EmployeeID: "tm-b", LocationID: loc, RewardID: reward, ActorID: "tm-b"})

	var short *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, int64(40), short.Available)
	assert.Equal(t, int64(50), short.Requested)
	assert.Equal(t, int64(10), short.Shortfall())
	assert.Equal(t, int64(40), f.balance(t, "tm-b"))
}

func TestRedeem_ScenarioD_ExactBalance(t *testing.T) {
	// GIVEN: C has 50 points
	// WHEN: Redeeming a reward costing 50
	// THEN: Success, balance 0, one redemption event of -50

	f := newTxFixture(t)
	ctx := context.Background()
	f.grant(t, "tm-c", 50)
	reward := f.redeemReward(t, 50)

	id, err := f.service.Redeem(ctx, rewards.RedeemRequest{EmployeeID: "tm-c", LocationID: loc, RewardID: reward, ActorID: "tm-c"})
	require.NoError(t, err)

	assert.Equal(t, int64(0), f.balance(t, "tm-c"))
	e, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceRedemption, e.Source)
	assert.Equal(t, int64(-50), e.Amount)
	assert.Equal(t, "Test Reward", e.SourceDetail)
	assert.Equal(t, reward, e.ReferenceID)

	// Spending never lowers what was earned
	board, err := f.agg.WeeklyLeaderboard(ctx, loc, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, int64(50), board[0].Points)
}

func TestRedeem_ScenarioF_ConcurrentRedemptions(t *testing.T) {
	// GIVEN: Balance 40, reward costing 30
	// WHEN: Two redemptions race
	// THEN: Exactly one succeeds, the other gets InsufficientBalanceError, final balance 10

	for _, tc := range []struct {
		name  string
		store ledger.Store
	}{
		{"transactional", store.NewTxMemory()},
		{"non-transactional", store.NewMemory()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.store)
			f.grant(t, "tm-a", 40)
			reward := f.redeemReward(t, 30)

			var wg sync.WaitGroup
			errs := make([]error, 2)
			start := make(chan struct{})
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, errs[i] = f.service.Redeem(context.Background(), rewards.RedeemRequest{EmployeeID: "tm-a", LocationID: loc, RewardID: reward, ActorID: "tm-a"})
				}(i)
			}
			close(start)
			wg.Wait()

			succeeded, short := 0, 0
			for _, err := range errs {
				switch {
				case err == nil:
					succeeded++
				case errors.Is(err, ledger.ErrInsufficientBalance):
					short++
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			assert.Equal(t, 1, succeeded)
			assert.Equal(t, 1, short)
			assert.Equal(t, int64(10), f.balance(t, "tm-a"))
		})
	}
}

func TestRedeem_ManyConcurrentNeverNegative(t *testing.T) {
	f := newTxFixture(t)
	f.grant(t, "tm-a", 100)
	reward := f.redeemReward(t, 15)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.service.Redeem(context.Background(), rewards.RedeemRequest{EmployeeID: "tm-a", LocationID: loc, RewardID: reward, ActorID: "tm-a"})
		}()
	}
	wg.Wait()

	// 100 / 15 = 6 redemptions fit
	assert.Equal(t, int64(10), f.balance(t, "tm-a"))
}

func TestRedeem_RewardAndEmployeeLookups(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()
	f.grant(t, "tm-a", 100)

	cases := []struct {
		name string
		req  rewards.RedeemRequest
	}{
		{"unknown reward", rewards.RedeemRequest{EmployeeID: "tm-a", LocationID: loc, RewardID: "nope", ActorID: "tm-a"}},
		{"inactive reward", rewards.RedeemRequest{EmployeeID: "tm-a", LocationID: loc, RewardID: "retired", ActorID: "tm-a"}},
		{"reward at another location", rewards.RedeemRequest{EmployeeID: "tm-a", LocationID: "loc-uptown", RewardID: string(loc) + "-free-drink", ActorID: "tm-a"}},
		{"inactive employee", rewards.RedeemRequest{EmployeeID: "tm-gone", LocationID: loc, RewardID: string(loc) + "-free-drink", ActorID: "tm-gone"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.Redeem(ctx, tc.req)
			assert.ErrorIs(t, err, ledger.ErrNotFound)
		})
	}
	assert.Equal(t, int64(100), f.balance(t, "tm-a"))
}

func TestRedeem_CallerChecks(t *testing.T) {
	// GIVEN: tm-a holds 100 points
	// WHEN: Someone other than tm-a spends them
	// THEN: Only an outranking manager at the location may, balance moves only then

	f := newTxFixture(t)
	ctx := context.Background()
	f.grant(t, "tm-a", 100)
	reward := f.redeemReward(t, 30)

	cases := []struct {
		name  string
		actor ledger.EmployeeID
		want  error
	}{
		{"no caller", "", ledger.ErrValidation},
		{"unknown caller", "ghost", ledger.ErrNotFound},
		{"inactive caller", "tm-gone", ledger.ErrNotFound},
		{"peer", "tm-b", ledger.ErrPermission},
		{"manager at other location", "gm-uptown", ledger.ErrPermission},
		{"caller with unknown title", "odd", ledger.ErrPermission},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.Redeem(ctx, rewards.RedeemRequest{EmployeeID: "tm-a", LocationID: loc, RewardID: reward, ActorID: tc.actor})
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, int64(100), f.balance(t, "tm-a"))

	_, err := f.service.Redeem(ctx, rewards.RedeemRequest{EmployeeID: "tm-a", LocationID: loc, RewardID: reward, ActorID: "sm"})
	require.NoError(t, err)
	assert.Equal(t, int64(70), f.balance(t, "tm-a"))
}

func TestListRewards(t *testing.T) {
	f := newTxFixture(t)

	items, err := f.service.ListRewards(context.Background(), loc)
	require.NoError(t, err)

	require.Len(t, items, len(rewards.StandardCatalog(loc)))
	assert.Equal(t, "Free Drink", items[0].Name)
	for _, it := range items {
		assert.True(t, it.Active)
	}
}

// =============================================================================
// LEDGER PROPERTIES
// =============================================================================

func TestBalanceEqualsSumOfEventsAfterMixedOperations(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()

	a1 := award(t, f, "tm-a", 25)
	award(t, f, "tm-a", 15)
	f.grant(t, "tm-a", 20)
	_, err := f.service.Undo(ctx, rewards.UndoRequest{EventID: a1, Reason: "wrong", ActorID: "am"})
	require.NoError(t, err)
	_, err = f.service.Redeem(ctx, rewards.RedeemRequest{EmployeeID: "tm-a", LocationID: loc, RewardID: string(loc) + "-free-meal", ActorID: "tm-a"})
	require.NoError(t, err)

	history, err := f.agg.History(ctx, "tm-a")
	require.NoError(t, err)
	assert.Equal(t, ledger.SumBalance(history), f.balance(t, "tm-a"))
	assert.Equal(t, int64(5), f.balance(t, "tm-a"))

	for _, e := range history {
		if e.Source == ledger.SourceUndo {
			assert.Equal(t, int64(-25), e.Amount)
		}
	}
}

func TestTitle_Rank(t *testing.T) {
	got, err := rewards.ParseTitle("  assistant manager ")
	require.NoError(t, err)
	assert.Equal(t, rewards.TitleAssistantManager, got)

	_, err = rewards.ParseTitle("Intern")
	assert.Error(t, err)

	assert.True(t, rewards.TitleGeneralManager.Outranks(rewards.TitleShiftManager))
	assert.False(t, rewards.TitleShiftManager.Outranks(rewards.TitleShiftManager))
	assert.False(t, rewards.Title("Intern").Outranks(rewards.TitleTeamMember))
	assert.False(t, rewards.TitleGeneralManager.Outranks(rewards.Title("Intern")))
}
