package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/smartbank/ledger-core/internal/interfaces"
	"github.com/smartbank/ledger-core/internal/models"
)

// Store is the MongoDB implementation of the account store, transaction log
// and user store. Conditional adjusts use a single findOneAndUpdate with the
// balance predicate folded into the filter, which is atomic per document --
// the only atomicity MongoDB guarantees without multi-document transactions,
// and the only one the ledger engine asks for.
//
// Amounts are stored as Decimal128 so $inc and $gte stay exact server-side.
type Store struct {
	accounts     *mongo.Collection
	transactions *mongo.Collection
	users        *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{
		accounts:     db.Collection("accounts"),
		transactions: db.Collection("transactions"),
		users:        db.Collection("users"),
	}
}

// EnsureIndexes creates the unique and query indexes the store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = s.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}},
	})
	if err != nil {
		return err
	}

	_, err = s.transactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "from_account", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "to_account", Value: 1}, {Key: "created_at", Value: -1}}},
		{
			Keys: bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(
				bson.M{"idempotency_key": bson.M{"$exists": true}},
			),
		},
	})
	return err
}

type accountDoc struct {
	ID           string               `bson:"_id"`
	OwnerID      string               `bson:"owner_id"`
	Balance      primitive.Decimal128 `bson:"balance"`
	CurrencyCode string               `bson:"currency_code"`
	CreatedAt    time.Time            `bson:"created_at"`
}

type transactionDoc struct {
	ID             string                   `bson:"_id"`
	Type           models.TransactionType   `bson:"type"`
	FromAccount    string                   `bson:"from_account,omitempty"`
	ToAccount      string                   `bson:"to_account,omitempty"`
	Amount         primitive.Decimal128     `bson:"amount"`
	PerformedBy    string                   `bson:"performed_by"`
	IdempotencyKey string                   `bson:"idempotency_key,omitempty"`
	Status         models.TransactionStatus `bson:"status"`
	CreatedAt      time.Time                `bson:"created_at"`
}

type userDoc struct {
	ID           string      `bson:"_id"`
	Email        string      `bson:"email"`
	PasswordHash string      `bson:"password_hash"`
	FullName     string      `bson:"full_name"`
	Role         models.Role `bson:"role"`
	CreatedAt    time.Time   `bson:"created_at"`
}

func (s *Store) Create(ctx context.Context, account models.Account) (models.Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	balance, err := toDecimal128(account.Balance)
	if err != nil {
		return models.Account{}, err
	}

	_, err = s.accounts.InsertOne(ctx, accountDoc{
		ID:           account.ID,
		OwnerID:      account.OwnerID,
		Balance:      balance,
		CurrencyCode: account.CurrencyCode,
		CreatedAt:    account.CreatedAt,
	})
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func (s *Store) Get(ctx context.Context, id string) (models.Account, error) {
	return s.findAccount(ctx, bson.M{"_id": id})
}

func (s *Store) ByOwner(ctx context.Context, ownerID string) (models.Account, error) {
	return s.findAccount(ctx, bson.M{"owner_id": ownerID})
}

func (s *Store) findAccount(ctx context.Context, filter bson.M) (models.Account, error) {
	var doc accountDoc
	err := s.accounts.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Account{}, interfaces.ErrNotFound
	}
	if err != nil {
		return models.Account{}, err
	}
	return doc.toModel()
}

func (s *Store) ConditionalAdjust(ctx context.Context, id string, delta decimal.Decimal, cond interfaces.Condition) (models.Account, error) {
	inc, err := toDecimal128(delta)
	if err != nil {
		return models.Account{}, err
	}

	filter := bson.M{"_id": id}
	if min, gated := cond.Gated(); gated {
		minDec, err := toDecimal128(min)
		if err != nil {
			return models.Account{}, err
		}
		filter["balance"] = bson.M{"$gte": minDec}
	}

	var doc accountDoc
	err = s.accounts.FindOneAndUpdate(ctx,
		filter,
		bson.M{"$inc": bson.M{"balance": inc}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Account{}, interfaces.ErrNoMatch
	}
	if err != nil {
		return models.Account{}, err
	}
	return doc.toModel()
}

func (s *Store) Append(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	tx.ID = uuid.NewString()
	tx.CreatedAt = time.Now().UTC()

	amount, err := toDecimal128(tx.Amount)
	if err != nil {
		return models.Transaction{}, err
	}

	_, err = s.transactions.InsertOne(ctx, transactionDoc{
		ID:             tx.ID,
		Type:           tx.Type,
		FromAccount:    tx.FromAccount,
		ToAccount:      tx.ToAccount,
		Amount:         amount,
		PerformedBy:    tx.PerformedBy,
		IdempotencyKey: tx.IdempotencyKey,
		Status:         tx.Status,
		CreatedAt:      tx.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return models.Transaction{}, interfaces.ErrDuplicate
	}
	if err != nil {
		return models.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) ByAccount(ctx context.Context, accountID string, from, to time.Time) ([]models.Transaction, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"from_account": accountID},
		bson.M{"to_account": accountID},
	}}

	created := bson.M{}
	if !from.IsZero() {
		created["$gte"] = from
	}
	if !to.IsZero() {
		created["$lt"] = to
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	cursor, err := s.transactions.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []models.Transaction
	for cursor.Next(ctx) {
		var doc transactionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		tx, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, cursor.Err()
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error) {
	var doc transactionDoc
	err := s.transactions.FindOne(ctx, bson.M{"idempotency_key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Transaction{}, interfaces.ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, err
	}
	return doc.toModel()
}

func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.users.InsertOne(ctx, userDoc{
		ID:           user.ID,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		FullName:     user.FullName,
		Role:         user.Role,
		CreatedAt:    user.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return models.User{}, interfaces.ErrDuplicate
	}
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (models.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *Store) UserByID(ctx context.Context, id string) (models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (models.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.User{}, interfaces.ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	return models.User{
		ID:           doc.ID,
		Email:        doc.Email,
		PasswordHash: doc.PasswordHash,
		FullName:     doc.FullName,
		Role:         doc.Role,
		CreatedAt:    doc.CreatedAt,
	}, nil
}

func (d accountDoc) toModel() (models.Account, error) {
	balance, err := fromDecimal128(d.Balance)
	if err != nil {
		return models.Account{}, err
	}
	return models.Account{
		ID:           d.ID,
		OwnerID:      d.OwnerID,
		Balance:      balance,
		CurrencyCode: d.CurrencyCode,
		CreatedAt:    d.CreatedAt,
	}, nil
}

func (d transactionDoc) toModel() (models.Transaction, error) {
	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return models.Transaction{}, err
	}
	return models.Transaction{
		ID:             d.ID,
		Type:           d.Type,
		FromAccount:    d.FromAccount,
		ToAccount:      d.ToAccount,
		Amount:         amount,
		PerformedBy:    d.PerformedBy,
		IdempotencyKey: d.IdempotencyKey,
		Status:         d.Status,
		CreatedAt:      d.CreatedAt,
	}, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(d.String())
}

var (
	_ interfaces.AccountStore   = (*Store)(nil)
	_ interfaces.TransactionLog = (*Store)(nil)
	_ interfaces.UserStore      = (*Store)(nil)
)
