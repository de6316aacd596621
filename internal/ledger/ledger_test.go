package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditmem "github.com/smartbank/ledger-core/internal/audit/memory"
	"github.com/smartbank/ledger-core/internal/auth"
	"github.com/smartbank/ledger-core/internal/interfaces"
	"github.com/smartbank/ledger-core/internal/ledger"
	"github.com/smartbank/ledger-core/internal/models"
	"github.com/smartbank/ledger-core/internal/storage/memory"
)

var actor = models.Principal{ID: "user-1", Email: "user@example.com", Role: models.RoleCustomer}

func newTestEngine(t *testing.T) (*ledger.Engine, *memory.Store, *auditmem.Sink) {
	t.Helper()
	store := memory.NewStore()
	sink := auditmem.NewSink()
	engine := ledger.NewEngine(store, store, sink, auth.RoleAuthorizer{}, nil)
	return engine, store, sink
}

func createAccount(t *testing.T, store *memory.Store, id string, balance int64) models.Account {
	t.Helper()
	acct, err := store.Create(context.Background(), models.Account{
		ID:           id,
		OwnerID:      "owner-" + id,
		Balance:      decimal.NewFromInt(balance),
		CurrencyCode: "INR",
	})
	require.NoError(t, err)
	return acct
}

func balanceOf(t *testing.T, store *memory.Store, id string) decimal.Decimal {
	t.Helper()
	acct, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return acct.Balance
}

func transactionsOf(t *testing.T, store *memory.Store, id string) []models.Transaction {
	t.Helper()
	txs, err := store.ByAccount(context.Background(), id, time.Time{}, time.Time{})
	require.NoError(t, err)
	return txs
}

func TestDeposit(t *testing.T) {
	engine, store, sink := newTestEngine(t)
	createAccount(t, store, "Y", 0)

	res, err := engine.Deposit(context.Background(), "Y", decimal.NewFromInt(50), actor)
	require.NoError(t, err)

	assert.True(t, res.To.Balance.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, models.TypeDeposit, res.Transaction.Type)
	assert.Equal(t, models.StatusCompleted, res.Transaction.Status)
	assert.Equal(t, actor.ID, res.Transaction.PerformedBy)

	txs := transactionsOf(t, store, "Y")
	require.Len(t, txs, 1)
	assert.Equal(t, models.TypeDeposit, txs[0].Type)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "deposit", events[0].Action)
	assert.Equal(t, actor.ID, events[0].PrincipalID)
}

func TestDepositMissingDestination(t *testing.T) {
	engine, store, sink := newTestEngine(t)

	_, err := engine.Deposit(context.Background(), "nope", decimal.NewFromInt(50), actor)
	require.ErrorIs(t, err, ledger.ErrDestinationNotFound)

	assert.Empty(t, transactionsOf(t, store, "nope"))

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "deposit_rejected", events[0].Action)
}

func TestWithdraw(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	createAccount(t, store, "X", 100)

	res, err := engine.Withdraw(context.Background(), "X", decimal.NewFromInt(40), actor)
	require.NoError(t, err)

	assert.True(t, res.From.Balance.Equal(decimal.NewFromInt(60)))
	require.Len(t, transactionsOf(t, store, "X"), 1)
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	engine, store, sink := newTestEngine(t)
	createAccount(t, store, "X", 100)

	_, err := engine.Withdraw(context.Background(), "X", decimal.NewFromInt(150), actor)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	assert.True(t, balanceOf(t, store, "X").Equal(decimal.NewFromInt(100)))
	assert.Empty(t, transactionsOf(t, store, "X"))

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "withdraw_rejected", events[0].Action)
}

func TestWithdrawMissingAccount(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	// A missing source is indistinguishable from an underfunded one.
	_, err := engine.Withdraw(context.Background(), "nope", decimal.NewFromInt(10), actor)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
}

func TestTransfer(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	createAccount(t, store, "X", 100)
	createAccount(t, store, "Y", 50)

	before := balanceOf(t, store, "X").Add(balanceOf(t, store, "Y"))

	res, err := engine.Transfer(context.Background(), "X", "Y", decimal.NewFromInt(30), actor)
	require.NoError(t, err)

	assert.True(t, res.From.Balance.Equal(decimal.NewFromInt(70)))
	assert.True(t, res.To.Balance.Equal(decimal.NewFromInt(80)))

	// Conservation: the transfer moved value without creating or destroying it.
	after := balanceOf(t, store, "X").Add(balanceOf(t, store, "Y"))
	assert.True(t, before.Equal(after))

	txsX := transactionsOf(t, store, "X")
	require.Len(t, txsX, 1)
	assert.Equal(t, models.TypeTransfer, txsX[0].Type)
	assert.Equal(t, "X", txsX[0].FromAccount)
	assert.Equal(t, "Y", txsX[0].ToAccount)
}

func TestTransferMissingDestinationCompensates(t *testing.T) {
	engine, store, sink := newTestEngine(t)
	createAccount(t, store, "X", 100)

	_, err := engine.Transfer(context.Background(), "X", "Z", decimal.NewFromInt(30), actor)
	require.ErrorIs(t, err, ledger.ErrDestinationNotFound)

	// Compensation restored the deducted amount.
	assert.True(t, balanceOf(t, store, "X").Equal(decimal.NewFromInt(100)))
	assert.Empty(t, transactionsOf(t, store, "X"))

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "transfer_rejected", events[0].Action)
}

func TestTransferInsufficientBalance(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	createAccount(t, store, "X", 20)
	createAccount(t, store, "Y", 0)

	_, err := engine.Transfer(context.Background(), "X", "Y", decimal.NewFromInt(30), actor)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	assert.True(t, balanceOf(t, store, "X").Equal(decimal.NewFromInt(20)))
	assert.True(t, balanceOf(t, store, "Y").Equal(decimal.Zero))
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		op   ledger.Operation
		want error
	}{
		{name: "deposit zero amount", op: ledger.Deposit{To: "Y", Amount: decimal.Zero}, want: ledger.ErrInvalidAmount},
		{name: "deposit negative amount", op: ledger.Deposit{To: "Y", Amount: decimal.NewFromInt(-5)}, want: ledger.ErrInvalidAmount},
		{name: "deposit missing destination", op: ledger.Deposit{Amount: decimal.NewFromInt(5)}, want: ledger.ErrMissingField},
		{name: "withdraw missing source", op: ledger.Withdraw{Amount: decimal.NewFromInt(5)}, want: ledger.ErrMissingField},
		{name: "transfer missing source", op: ledger.Transfer{To: "Y", Amount: decimal.NewFromInt(5)}, want: ledger.ErrMissingField},
		{name: "transfer missing destination", op: ledger.Transfer{From: "X", Amount: decimal.NewFromInt(5)}, want: ledger.ErrMissingField},
		{name: "transfer to itself", op: ledger.Transfer{From: "X", To: "X", Amount: decimal.NewFromInt(5)}, want: ledger.ErrSameAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, store, _ := newTestEngine(t)
			createAccount(t, store, "X", 100)
			createAccount(t, store, "Y", 100)

			_, err := engine.Execute(context.Background(), tt.op, actor)
			require.ErrorIs(t, err, tt.want)

			// Fail fast: nothing was mutated.
			assert.True(t, balanceOf(t, store, "X").Equal(decimal.NewFromInt(100)))
			assert.True(t, balanceOf(t, store, "Y").Equal(decimal.NewFromInt(100)))
		})
	}
}

func TestAuditorMayNotMoveMoney(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	createAccount(t, store, "X", 100)

	auditor := models.Principal{ID: "aud-1", Role: models.RoleAuditor}
	_, err := engine.Withdraw(context.Background(), "X", decimal.NewFromInt(10), auditor)
	require.ErrorIs(t, err, auth.ErrForbidden)

	assert.True(t, balanceOf(t, store, "X").Equal(decimal.NewFromInt(100)))
}

func TestConcurrentWithdrawals(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	createAccount(t, store, "X", 100)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Withdraw(context.Background(), "X", decimal.NewFromInt(60), actor)
		}(i)
	}
	wg.Wait()

	// Exactly one withdrawal succeeds: the second one's balance condition sees
	// the already-decremented balance.
	var succeeded, failed int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
			failed++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.True(t, balanceOf(t, store, "X").Equal(decimal.NewFromInt(40)))
}

func TestNoNegativeBalanceUnderLoad(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	createAccount(t, store, "X", 200)

	const workers = 50
	var wg sync.WaitGroup
	var succeeded int64
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Withdraw(context.Background(), "X", decimal.NewFromInt(10), actor); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	balance := balanceOf(t, store, "X")
	assert.False(t, balance.IsNegative())
	assert.EqualValues(t, 20, succeeded)
	assert.True(t, balance.Equal(decimal.Zero))
}

func TestIdempotentReplay(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	createAccount(t, store, "Y", 0)

	op := ledger.Deposit{To: "Y", Amount: decimal.NewFromInt(50), IdempotencyKey: "key-1"}

	first, err := engine.Execute(context.Background(), op, actor)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := engine.Execute(context.Background(), op, actor)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	// The replay performed no mutation.
	assert.True(t, balanceOf(t, store, "Y").Equal(decimal.NewFromInt(50)))
	assert.Len(t, transactionsOf(t, store, "Y"), 1)
}

// blindLog delegates to the memory store but misses the first n idempotency
// key lookups, widening the window in which two requests with the same key
// both believe they are first.
type blindLog struct {
	*memory.Store
	mu     sync.Mutex
	misses int
}

func (s *blindLog) FindByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.misses > 0 {
		s.misses--
		return models.Transaction{}, interfaces.ErrNotFound
	}
	return s.Store.FindByIdempotencyKey(ctx, key)
}

func TestIdempotencyRaceRollsBackDeposit(t *testing.T) {
	base := memory.NewStore()
	log := &blindLog{Store: base, misses: 2}
	engine := ledger.NewEngine(base, log, nil, nil, nil)

	createAccount(t, base, "Y", 0)

	op := ledger.Deposit{To: "Y", Amount: decimal.NewFromInt(50), IdempotencyKey: "key-1"}

	first, err := engine.Execute(context.Background(), op, actor)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	// The second request's key lookup also misses, so its credit commits
	// before the log rejects the duplicate key. The credit must be rolled
	// back and the winner's transaction served as a replay.
	second, err := engine.Execute(context.Background(), op, actor)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	assert.True(t, balanceOf(t, base, "Y").Equal(decimal.NewFromInt(50)))
	assert.Len(t, transactionsOf(t, base, "Y"), 1)
}

func TestIdempotencyRaceRollsBackTransfer(t *testing.T) {
	base := memory.NewStore()
	log := &blindLog{Store: base, misses: 2}
	engine := ledger.NewEngine(base, log, nil, nil, nil)

	createAccount(t, base, "X", 100)
	createAccount(t, base, "Y", 0)

	op := ledger.Transfer{From: "X", To: "Y", Amount: decimal.NewFromInt(30), IdempotencyKey: "key-2"}

	first, err := engine.Execute(context.Background(), op, actor)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := engine.Execute(context.Background(), op, actor)
	require.NoError(t, err)
	assert.True(t, second.Replayed)

	// Both legs of the losing transfer were undone.
	assert.True(t, balanceOf(t, base, "X").Equal(decimal.NewFromInt(70)))
	assert.True(t, balanceOf(t, base, "Y").Equal(decimal.NewFromInt(30)))
	assert.Len(t, transactionsOf(t, base, "X"), 1)
}

// flakyStore delegates to the memory store but fails the nth conditional
// adjust, simulating a store outage mid-protocol.
type flakyStore struct {
	*memory.Store
	mu       sync.Mutex
	calls    int
	failCall int
}

func (s *flakyStore) ConditionalAdjust(ctx context.Context, id string, delta decimal.Decimal, cond interfaces.Condition) (models.Account, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if call == s.failCall {
		return models.Account{}, errors.New("store unavailable")
	}
	return s.Store.ConditionalAdjust(ctx, id, delta, cond)
}

func TestCompensationFailureIsLoud(t *testing.T) {
	base := memory.NewStore()
	// Call 1: deduct succeeds. Call 2: credit fails (destination missing).
	// Call 3: the compensation itself fails.
	store := &flakyStore{Store: base, failCall: 3}
	sink := auditmem.NewSink()
	engine := ledger.NewEngine(store, base, sink, nil, nil)

	createAccount(t, base, "X", 100)

	_, err := engine.Transfer(context.Background(), "X", "Z", decimal.NewFromInt(30), actor)
	require.ErrorIs(t, err, ledger.ErrCompensationFailed)

	// The deducted amount is stranded; that is exactly what the alarm reports.
	assert.True(t, balanceOf(t, base, "X").Equal(decimal.NewFromInt(70)))
	assert.Empty(t, transactionsOf(t, base, "X"))

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "transfer_compensation_failed", events[0].Action)
}

func TestCompensationRestoresOnCreditOutage(t *testing.T) {
	base := memory.NewStore()
	// Credit fails with a non-missing-account error; compensation succeeds.
	store := &flakyStore{Store: base, failCall: 2}
	engine := ledger.NewEngine(store, base, nil, nil, nil)

	createAccount(t, base, "X", 100)
	createAccount(t, base, "Y", 0)

	_, err := engine.Transfer(context.Background(), "X", "Y", decimal.NewFromInt(30), actor)
	require.Error(t, err)
	require.NotErrorIs(t, err, ledger.ErrCompensationFailed)

	assert.True(t, balanceOf(t, base, "X").Equal(decimal.NewFromInt(100)))
	assert.True(t, balanceOf(t, base, "Y").Equal(decimal.Zero))
	assert.Empty(t, transactionsOf(t, base, "X"))
}

// cancellingStore cancels the caller's context as soon as the first adjustment
// commits and refuses any call arriving with an already-cancelled context.
type cancellingStore struct {
	*memory.Store
	cancel context.CancelFunc
	calls  int
}

func (s *cancellingStore) ConditionalAdjust(ctx context.Context, id string, delta decimal.Decimal, cond interfaces.Condition) (models.Account, error) {
	if err := ctx.Err(); err != nil {
		return models.Account{}, err
	}
	s.calls++
	acct, err := s.Store.ConditionalAdjust(ctx, id, delta, cond)
	if s.calls == 1 {
		s.cancel()
	}
	return acct, err
}

// cancelSensitiveLog refuses appends arriving with an already-cancelled
// context.
type cancelSensitiveLog struct {
	*memory.Store
}

func (s *cancelSensitiveLog) Append(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return models.Transaction{}, err
	}
	return s.Store.Append(ctx, tx)
}

func TestDepositRecordsAfterCallerCancels(t *testing.T) {
	base := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &cancellingStore{Store: base, cancel: cancel}
	engine := ledger.NewEngine(store, &cancelSensitiveLog{Store: base}, nil, nil, nil)

	createAccount(t, base, "Y", 0)

	// The caller cancels right after the credit commits; the log entry must
	// still be written.
	res, err := engine.Deposit(ctx, "Y", decimal.NewFromInt(50), actor)
	require.NoError(t, err)

	assert.True(t, res.To.Balance.Equal(decimal.NewFromInt(50)))
	require.Len(t, transactionsOf(t, base, "Y"), 1)
}

func TestWithdrawRecordsAfterCallerCancels(t *testing.T) {
	base := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &cancellingStore{Store: base, cancel: cancel}
	engine := ledger.NewEngine(store, &cancelSensitiveLog{Store: base}, nil, nil, nil)

	createAccount(t, base, "X", 100)

	res, err := engine.Withdraw(ctx, "X", decimal.NewFromInt(40), actor)
	require.NoError(t, err)

	assert.True(t, res.From.Balance.Equal(decimal.NewFromInt(60)))
	require.Len(t, transactionsOf(t, base, "X"), 1)
}

func TestTransferCompletesAfterCallerCancels(t *testing.T) {
	base := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &cancellingStore{Store: base, cancel: cancel}
	engine := ledger.NewEngine(store, base, nil, nil, nil)

	createAccount(t, base, "X", 100)
	createAccount(t, base, "Y", 0)

	// The caller cancels right after the deduction commits. The protocol is
	// not abortable mid-flight: the credit must still land.
	res, err := engine.Transfer(ctx, "X", "Y", decimal.NewFromInt(30), actor)
	require.NoError(t, err)

	assert.True(t, res.From.Balance.Equal(decimal.NewFromInt(70)))
	assert.True(t, res.To.Balance.Equal(decimal.NewFromInt(30)))
	require.Len(t, transactionsOf(t, base, "X"), 1)
}
