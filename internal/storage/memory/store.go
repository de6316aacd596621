package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smartbank/ledger-core/internal/interfaces"
	"github.com/smartbank/ledger-core/internal/models"
)

// Store is an in-memory implementation of the account store, transaction log
// and user store. It is thread-safe; the mutex makes each conditional adjust
// an atomic read-check-write, which is the property the ledger engine needs.
// Intended for tests and local development.
type Store struct {
	mu           sync.Mutex
	accounts     map[string]models.Account
	transactions []models.Transaction
	byIdemKey    map[string]models.Transaction
	users        map[string]models.User
	usersByEmail map[string]string
}

func NewStore() *Store {
	return &Store{
		accounts:     make(map[string]models.Account),
		byIdemKey:    make(map[string]models.Transaction),
		users:        make(map[string]models.User),
		usersByEmail: make(map[string]string),
	}
}

func (s *Store) Create(ctx context.Context, account models.Account) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	s.accounts[account.ID] = account
	return account, nil
}

func (s *Store) Get(ctx context.Context, id string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return models.Account{}, interfaces.ErrNotFound
	}
	return acct, nil
}

func (s *Store) ByOwner(ctx context.Context, ownerID string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acct := range s.accounts {
		if acct.OwnerID == ownerID {
			return acct, nil
		}
	}
	return models.Account{}, interfaces.ErrNotFound
}

func (s *Store) ConditionalAdjust(ctx context.Context, id string, delta decimal.Decimal, cond interfaces.Condition) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return models.Account{}, interfaces.ErrNoMatch
	}
	if min, gated := cond.Gated(); gated && acct.Balance.LessThan(min) {
		return models.Account{}, interfaces.ErrNoMatch
	}

	acct.Balance = acct.Balance.Add(delta)
	s.accounts[id] = acct
	return acct, nil
}

func (s *Store) Append(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.IdempotencyKey != "" {
		if _, exists := s.byIdemKey[tx.IdempotencyKey]; exists {
			return models.Transaction{}, interfaces.ErrDuplicate
		}
	}

	tx.ID = uuid.NewString()
	tx.CreatedAt = time.Now().UTC()
	s.transactions = append(s.transactions, tx)
	if tx.IdempotencyKey != "" {
		s.byIdemKey[tx.IdempotencyKey] = tx
	}
	return tx, nil
}

func (s *Store) ByAccount(ctx context.Context, accountID string, from, to time.Time) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Walk newest-first so entries with equal timestamps keep append order
	// under the stable sort.
	var result []models.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if tx.FromAccount != accountID && tx.ToAccount != accountID {
			continue
		}
		if !from.IsZero() && tx.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !tx.CreatedAt.Before(to) {
			continue
		}
		result = append(result, tx)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byIdemKey[key]
	if !ok {
		return models.Transaction{}, interfaces.ErrNotFound
	}
	return tx, nil
}

func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByEmail[user.Email]; exists {
		return models.User{}, interfaces.ErrDuplicate
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	s.usersByEmail[user.Email] = user.ID
	return user, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByEmail[email]
	if !ok {
		return models.User{}, interfaces.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) UserByID(ctx context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return models.User{}, interfaces.ErrNotFound
	}
	return user, nil
}

// Compile-time checks: Store satisfies all three storage contracts.
var (
	_ interfaces.AccountStore   = (*Store)(nil)
	_ interfaces.TransactionLog = (*Store)(nil)
	_ interfaces.UserStore      = (*Store)(nil)
)
