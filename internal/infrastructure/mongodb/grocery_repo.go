package mongodb

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pantrylab/pantryd/internal/domain"
)

type groceryListRow struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    primitive.ObjectID `bson:"user_id"`
	Name      string             `bson:"name"`
	Items     []groceryItemRow   `bson:"items"`
	Version   int64              `bson:"version"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

type groceryItemRow struct {
	Name     string    `bson:"name"`
	Quantity float64   `bson:"quantity"`
	Unit     string    `bson:"unit,omitempty"`
	Checked  bool      `bson:"checked"`
	AddedAt  time.Time `bson:"added_at"`
}

func toGroceryItemRows(items []domain.GroceryItem) []groceryItemRow {
	rows := make([]groceryItemRow, 0, len(items))
	for _, it := range items {
		rows = append(rows, groceryItemRow(it))
	}
	return rows
}

func toDomainGroceryList(row groceryListRow) domain.GroceryList {
	l := domain.GroceryList{
		ID:        row.ID.Hex(),
		UserID:    row.UserID.Hex(),
		Name:      row.Name,
		Version:   row.Version,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	for _, it := range row.Items {
		l.Items = append(l.Items, domain.GroceryItem(it))
	}
	return l
}

// GroceryRepo persists versioned grocery lists. Every mutation goes through
// the transaction runtime's version-filter helper, so concurrent writers on
// the same list serialize via VersionConflict instead of lost updates.
type GroceryRepo struct {
	mgr *Manager
}

func NewGroceryRepo(mgr *Manager) *GroceryRepo {
	return &GroceryRepo{mgr: mgr}
}

func (r *GroceryRepo) Create(ctx context.Context, userID, name string, items []domain.GroceryItem) (domain.GroceryList, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.GroceryList{}, domain.ErrMissingField("name")
	}
	uid, err := parseObjectID(userID, "user_id")
	if err != nil {
		return domain.GroceryList{}, err
	}
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return domain.GroceryList{}, err
	}
	now := time.Now().UTC()
	row := groceryListRow{
		UserID:    uid,
		Name:      name,
		Items:     toGroceryItemRows(items),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res, err := db.Collection(collGrocery).InsertOne(ctx, row)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.GroceryList{}, domain.ErrListAlreadyExists(name)
		}
		return domain.GroceryList{}, domain.ErrConnectionFailed(err)
	}
	row.ID, _ = res.InsertedID.(primitive.ObjectID)
	return toDomainGroceryList(row), nil
}

func (r *GroceryRepo) GetByName(ctx context.Context, userID, name string) (domain.GroceryList, error) {
	uid, err := parseObjectID(userID, "user_id")
	if err != nil {
		return domain.GroceryList{}, err
	}
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return domain.GroceryList{}, err
	}
	var row groceryListRow
	if err := db.Collection(collGrocery).FindOne(ctx, bson.M{"user_id": uid, "name": name}).Decode(&row); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.GroceryList{}, domain.ErrListNotFound(name)
		}
		return domain.GroceryList{}, domain.ErrConnectionFailed(err)
	}
	return toDomainGroceryList(row), nil
}

func (r *GroceryRepo) ListByUser(ctx context.Context, userID string) ([]domain.GroceryList, error) {
	uid, err := parseObjectID(userID, "user_id")
	if err != nil {
		return nil, err
	}
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cur, err := db.Collection(collGrocery).Find(ctx, bson.M{"user_id": uid}, opts)
	if err != nil {
		return nil, domain.ErrConnectionFailed(err)
	}
	var rows []groceryListRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, domain.ErrConnectionFailed(err)
	}
	out := make([]domain.GroceryList, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainGroceryList(row))
	}
	return out, nil
}

// ReplaceItems writes a new item set at exactly expectedVersion and bumps
// the version by one. A stale expectedVersion fails with VersionConflict;
// the caller re-reads and retries at its own level.
func (r *GroceryRepo) ReplaceItems(ctx context.Context, userID, name string, items []domain.GroceryItem, expectedVersion int64) (domain.GroceryList, error) {
	uid, err := parseObjectID(userID, "user_id")
	if err != nil {
		return domain.GroceryList{}, err
	}
	filter := bson.M{"user_id": uid, "name": name}
	now := time.Now().UTC()

	var updated domain.GroceryList
	err = r.mgr.ExecuteInTransaction(ctx, func(tx *Txn) error {
		set := bson.M{
			"items":      toGroceryItemRows(items),
			"updated_at": now,
		}
		if err := tx.UpdateWithVersion(collGrocery, filter, set, expectedVersion, "grocery_list"); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return domain.ErrListNotFound(name)
			}
			return err
		}
		var row groceryListRow
		if err := tx.FindOne(collGrocery, filter, &row); err != nil {
			return err
		}
		updated = toDomainGroceryList(row)
		return nil
	}, defaultTxnAttempts)
	if err != nil {
		return domain.GroceryList{}, err
	}
	return updated, nil
}

func (r *GroceryRepo) Delete(ctx context.Context, userID, name string) error {
	uid, err := parseObjectID(userID, "user_id")
	if err != nil {
		return err
	}
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return err
	}
	res, err := db.Collection(collGrocery).DeleteOne(ctx, bson.M{"user_id": uid, "name": name})
	if err != nil {
		return domain.ErrConnectionFailed(err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrListNotFound(name)
	}
	return nil
}
