package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/smartbank/ledger-core/internal/interfaces"
	"github.com/smartbank/ledger-core/internal/models"
)

// Engine orchestrates deposits, withdrawals and transfers over the account
// store and the transaction log. It holds no locks of its own: the store's
// atomic conditional update is the only point of mutual exclusion, so
// operations on different accounts proceed fully in parallel and two
// concurrent withdrawals from one account cannot double-spend (the second
// one's balance condition sees the already-decremented balance).
type Engine struct {
	accounts interfaces.AccountStore
	txlog    interfaces.TransactionLog
	audit    interfaces.AuditSink
	authz    interfaces.Authorizer
	logger   *zap.Logger
}

// NewEngine wires the engine to its collaborators. The audit sink and
// authorizer may be nil; the logger defaults to a no-op.
func NewEngine(accounts interfaces.AccountStore, txlog interfaces.TransactionLog, audit interfaces.AuditSink, authz interfaces.Authorizer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		accounts: accounts,
		txlog:    txlog,
		audit:    audit,
		authz:    authz,
		logger:   logger,
	}
}

// Result is the success payload of an executed operation. From and To are the
// updated accounts, populated according to the operation type. Replayed marks
// a response served from a previously recorded idempotency key, in which case
// no balance was touched and the accounts are nil.
type Result struct {
	Transaction models.Transaction `json:"tx"`
	From        *models.Account    `json:"from_account,omitempty"`
	To          *models.Account    `json:"to_account,omitempty"`
	Replayed    bool               `json:"-"`
}

// Deposit credits amount to the given account.
func (e *Engine) Deposit(ctx context.Context, to string, amount decimal.Decimal, actor models.Principal) (*Result, error) {
	return e.Execute(ctx, Deposit{To: to, Amount: amount}, actor)
}

// Withdraw debits amount from the given account.
func (e *Engine) Withdraw(ctx context.Context, from string, amount decimal.Decimal, actor models.Principal) (*Result, error) {
	return e.Execute(ctx, Withdraw{From: from, Amount: amount}, actor)
}

// Transfer moves amount between two accounts.
func (e *Engine) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, actor models.Principal) (*Result, error) {
	return e.Execute(ctx, Transfer{From: from, To: to, Amount: amount}, actor)
}

// Execute runs one operation to completion. Exactly one audit event is emitted
// per call, whether the operation completed or was rejected.
func (e *Engine) Execute(ctx context.Context, op Operation, actor models.Principal) (*Result, error) {
	res, err := e.execute(ctx, op, actor)
	switch {
	case err == nil && res.Replayed:
		// A replay performed no mutation; the original attempt was audited.
	case err == nil:
		e.recordAudit(ctx, actor.ID, string(op.Type()), auditDetails(op))
	case errors.Is(err, ErrCompensationFailed):
		details := auditDetails(op)
		details["error"] = err.Error()
		e.recordAudit(ctx, actor.ID, string(op.Type())+"_compensation_failed", details)
	default:
		details := auditDetails(op)
		details["error"] = err.Error()
		e.recordAudit(ctx, actor.ID, string(op.Type())+"_rejected", details)
	}
	return res, err
}

func (e *Engine) execute(ctx context.Context, op Operation, actor models.Principal) (*Result, error) {
	if e.authz != nil {
		if err := e.authz.Allows(actor, op.Type()); err != nil {
			return nil, err
		}
	}
	if err := validate(op); err != nil {
		return nil, err
	}

	if key := idempotencyKey(op); key != "" {
		prior, err := e.txlog.FindByIdempotencyKey(ctx, key)
		switch {
		case err == nil:
			return &Result{Transaction: prior, Replayed: true}, nil
		case !errors.Is(err, interfaces.ErrNotFound):
			return nil, err
		}
	}

	switch v := op.(type) {
	case Deposit:
		return e.deposit(ctx, v, actor)
	case Withdraw:
		return e.withdraw(ctx, v, actor)
	case Transfer:
		return e.transfer(ctx, v, actor)
	default:
		return nil, fmt.Errorf("unsupported operation %T", op)
	}
}

func validate(op Operation) error {
	switch v := op.(type) {
	case Deposit:
		if !v.Amount.IsPositive() {
			return ErrInvalidAmount
		}
		if v.To == "" {
			return fmt.Errorf("%w: to_account", ErrMissingField)
		}
	case Withdraw:
		if !v.Amount.IsPositive() {
			return ErrInvalidAmount
		}
		if v.From == "" {
			return fmt.Errorf("%w: from_account", ErrMissingField)
		}
	case Transfer:
		if !v.Amount.IsPositive() {
			return ErrInvalidAmount
		}
		if v.From == "" {
			return fmt.Errorf("%w: from_account", ErrMissingField)
		}
		if v.To == "" {
			return fmt.Errorf("%w: to_account", ErrMissingField)
		}
		if v.From == v.To {
			return ErrSameAccount
		}
	}
	return nil
}

func (e *Engine) deposit(ctx context.Context, op Deposit, actor models.Principal) (*Result, error) {
	acct, err := e.accounts.ConditionalAdjust(ctx, op.To, op.Amount, interfaces.Always())
	if err != nil {
		if errors.Is(err, interfaces.ErrNoMatch) {
			return nil, fmt.Errorf("%w: %s", ErrDestinationNotFound, op.To)
		}
		return nil, err
	}

	// The credit has committed; the log append must run even if the caller
	// goes away.
	ctx = context.WithoutCancel(ctx)

	tx, err := e.append(ctx, models.Transaction{
		Type:           models.TypeDeposit,
		ToAccount:      op.To,
		Amount:         op.Amount,
		PerformedBy:    actor.ID,
		IdempotencyKey: op.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			return e.resolveDuplicate(ctx, op.IdempotencyKey, reversal{op.To, op.Amount.Neg()})
		}
		return nil, err
	}
	return &Result{Transaction: tx, To: &acct}, nil
}

func (e *Engine) withdraw(ctx context.Context, op Withdraw, actor models.Principal) (*Result, error) {
	acct, err := e.accounts.ConditionalAdjust(ctx, op.From, op.Amount.Neg(), interfaces.BalanceAtLeast(op.Amount))
	if err != nil {
		if errors.Is(err, interfaces.ErrNoMatch) {
			return nil, fmt.Errorf("%w: %s", ErrInsufficientFunds, op.From)
		}
		return nil, err
	}

	// The debit has committed; the log append must run even if the caller
	// goes away.
	ctx = context.WithoutCancel(ctx)

	tx, err := e.append(ctx, models.Transaction{
		Type:           models.TypeWithdraw,
		FromAccount:    op.From,
		Amount:         op.Amount,
		PerformedBy:    actor.ID,
		IdempotencyKey: op.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			return e.resolveDuplicate(ctx, op.IdempotencyKey, reversal{op.From, op.Amount})
		}
		return nil, err
	}
	return &Result{Transaction: tx, From: &acct}, nil
}

// transfer is the only multi-step protocol. The deduction goes first so the
// failure window between the two adjustments only ever exposes a temporarily
// short source account, never a double credit. There is no cross-step lock:
// a concurrent reader may observe the source short by the amount until the
// credit or the compensation lands.
func (e *Engine) transfer(ctx context.Context, op Transfer, actor models.Principal) (*Result, error) {
	deducted, err := e.accounts.ConditionalAdjust(ctx, op.From, op.Amount.Neg(), interfaces.BalanceAtLeast(op.Amount))
	if err != nil {
		if errors.Is(err, interfaces.ErrNoMatch) {
			return nil, fmt.Errorf("%w: %s", ErrInsufficientFunds, op.From)
		}
		return nil, err
	}

	// The deduction has committed. From here the protocol must run to the
	// credit or the compensation even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	credited, err := e.accounts.ConditionalAdjust(ctx, op.To, op.Amount, interfaces.Always())
	if err != nil {
		if cerr := e.compensate(ctx, op.From, op.Amount); cerr != nil {
			return nil, cerr
		}
		if errors.Is(err, interfaces.ErrNoMatch) {
			return nil, fmt.Errorf("%w: %s", ErrDestinationNotFound, op.To)
		}
		return nil, err
	}

	tx, err := e.append(ctx, models.Transaction{
		Type:           models.TypeTransfer,
		FromAccount:    op.From,
		ToAccount:      op.To,
		Amount:         op.Amount,
		PerformedBy:    actor.ID,
		IdempotencyKey: op.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			return e.resolveDuplicate(ctx, op.IdempotencyKey,
				reversal{op.To, op.Amount.Neg()},
				reversal{op.From, op.Amount},
			)
		}
		return nil, err
	}
	return &Result{Transaction: tx, From: &deducted, To: &credited}, nil
}

// compensate restores a deducted amount after a failed credit. Its failure
// leaves the deducted amount stranded; that is surfaced as
// ErrCompensationFailed and logged at error level, never swallowed.
func (e *Engine) compensate(ctx context.Context, accountID string, amount decimal.Decimal) error {
	if _, err := e.accounts.ConditionalAdjust(ctx, accountID, amount, interfaces.Always()); err != nil {
		e.logger.Error("transfer compensation failed, ledger inconsistent",
			zap.String("account_id", accountID),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: restoring %s to account %s: %v", ErrCompensationFailed, amount, accountID, err)
	}
	return nil
}

// reversal is the inverse adjustment undoing one committed step of an
// operation whose log append lost an idempotency race.
type reversal struct {
	account string
	delta   decimal.Decimal
}

// resolveDuplicate handles an append rejected on the idempotency key: a
// concurrent request with the same key committed between our key lookup and
// our append, so this call's adjustments are a double application. They are
// rolled back and the winner's transaction is served as a replay.
func (e *Engine) resolveDuplicate(ctx context.Context, key string, reversals ...reversal) (*Result, error) {
	for _, r := range reversals {
		if _, err := e.accounts.ConditionalAdjust(ctx, r.account, r.delta, interfaces.Always()); err != nil {
			e.logger.Error("duplicate rollback failed, ledger inconsistent",
				zap.String("account_id", r.account),
				zap.String("delta", r.delta.String()),
				zap.String("idempotency_key", key),
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: undoing %s on account %s: %v", ErrCompensationFailed, r.delta, r.account, err)
		}
	}

	prior, err := e.txlog.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolving duplicate key %s: %w", key, err)
	}
	return &Result{Transaction: prior, Replayed: true}, nil
}

// append records a completed transaction. The balance mutation has already
// committed when this runs. A duplicate idempotency key is handed back
// untouched for the caller to resolve; any other failure is reported loudly
// because it breaks the log-implies-commit correspondence in the other
// direction.
func (e *Engine) append(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	tx.Status = models.StatusCompleted
	stored, err := e.txlog.Append(ctx, tx)
	if err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			return models.Transaction{}, err
		}
		e.logger.Error("balance mutated but transaction log append failed",
			zap.String("type", string(tx.Type)),
			zap.String("from", tx.FromAccount),
			zap.String("to", tx.ToAccount),
			zap.String("amount", tx.Amount.String()),
			zap.Error(err),
		)
		return models.Transaction{}, fmt.Errorf("recording transaction: %w", err)
	}
	return stored, nil
}

func (e *Engine) recordAudit(ctx context.Context, principalID, action string, details map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(context.WithoutCancel(ctx), principalID, action, details); err != nil {
		e.logger.Warn("audit record failed",
			zap.String("principal_id", principalID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}
