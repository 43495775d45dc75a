package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/pantrylab/pantryd/internal/domain"
)

type UserRepo struct {
	mgr *Manager
}

func NewUserRepo(mgr *Manager) *UserRepo {
	return &UserRepo{mgr: mgr}
}

// Create inserts the user row together with its registration audit record
// in one transaction. The audit record's UserID is filled in from the new
// row before the commit.
func (r *UserRepo) Create(ctx context.Context, u domain.User, rec domain.AuditRecord) (domain.User, error) {
	u.Email = domain.NormalizeEmail(u.Email)
	if u.Email == "" {
		return domain.User{}, domain.ErrMissingField("email")
	}
	if u.AuthProvider == "" {
		return domain.User{}, domain.ErrMissingField("auth_provider")
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	row, err := toUserRow(u)
	if err != nil {
		return domain.User{}, err
	}

	var created domain.User
	err = r.mgr.ExecuteInTransaction(ctx, func(tx *Txn) error {
		ins := row
		id, err := tx.InsertOne(collUsers, ins)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return domain.ErrEmailAlreadyExists()
			}
			return err
		}
		ins.ID = id
		created = toDomainUser(ins)

		rec.UserID = created.ID
		rec.Email = created.Email
		return appendAuditTx(tx, rec)
	}, defaultTxnAttempts)
	if err != nil {
		return domain.User{}, err
	}
	return created, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return domain.User{}, domain.ErrMissingField("email")
	}
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return domain.User{}, err
	}
	var row userRow
	if err := db.Collection(collUsers).FindOne(ctx, bson.M{"email": email}).Decode(&row); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, domain.ErrUserNotFound()
		}
		return domain.User{}, domain.ErrConnectionFailed(err)
	}
	return toDomainUser(row), nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (domain.User, error) {
	oid, err := parseObjectID(id, "user_id")
	if err != nil {
		return domain.User{}, err
	}
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return domain.User{}, err
	}
	var row userRow
	if err := db.Collection(collUsers).FindOne(ctx, bson.M{"_id": oid}).Decode(&row); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, domain.ErrUserNotFound()
		}
		return domain.User{}, domain.ErrConnectionFailed(err)
	}
	return toDomainUser(row), nil
}

// RecordLoginSuccess clears the failure counters and stamps last_login.
func (r *UserRepo) RecordLoginSuccess(ctx context.Context, userID string) error {
	oid, err := parseObjectID(userID, "user_id")
	if err != nil {
		return err
	}
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := db.Collection(collUsers).UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$set": bson.M{
			"security.failed_login_attempts": 0,
			"security.last_login":            now,
			"updated_at":                     now,
		},
		"$unset": bson.M{"security.locked_until": ""},
	})
	if err != nil {
		return domain.ErrConnectionFailed(err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrUserNotFound()
	}
	return nil
}

// RecordLoginFailure increments the failure counter and, once it reaches
// maxAttempts, stamps locked_until. The increment and the lock decision run
// in one transaction so two racing failures cannot both observe the
// pre-threshold count.
func (r *UserRepo) RecordLoginFailure(ctx context.Context, userID string, maxAttempts int, lockout time.Duration) (int, *time.Time, error) {
	oid, err := parseObjectID(userID, "user_id")
	if err != nil {
		return 0, nil, err
	}
	now := time.Now().UTC()

	var (
		attempts    int
		lockedUntil *time.Time
	)
	err = r.mgr.ExecuteInTransaction(ctx, func(tx *Txn) error {
		attempts, lockedUntil = 0, nil

		res, err := tx.UpdateOne(collUsers, bson.M{"_id": oid}, bson.M{
			"$inc": bson.M{"security.failed_login_attempts": 1},
			"$set": bson.M{"updated_at": now},
		})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return domain.ErrUserNotFound()
		}

		var row userRow
		if err := tx.FindOne(collUsers, bson.M{"_id": oid}, &row); err != nil {
			return err
		}
		attempts = row.Security.FailedLoginAttempts
		if attempts < maxAttempts {
			return nil
		}

		until := now.Add(lockout)
		if _, err := tx.UpdateOne(collUsers, bson.M{"_id": oid}, bson.M{
			"$set": bson.M{"security.locked_until": until},
		}); err != nil {
			return err
		}
		lockedUntil = &until
		return nil
	}, defaultTxnAttempts)
	if err != nil {
		return 0, nil, err
	}
	return attempts, lockedUntil, nil
}

// LinkOAuthAccount appends an OAuth identity to the user row. Linking the
// same provider identity twice is a no-op.
func (r *UserRepo) LinkOAuthAccount(ctx context.Context, userID string, acct domain.OAuthAccount) error {
	oid, err := parseObjectID(userID, "user_id")
	if err != nil {
		return err
	}
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return err
	}
	filter := bson.M{
		"_id": oid,
		"oauth_accounts": bson.M{"$not": bson.M{"$elemMatch": bson.M{
			"provider":         acct.Provider,
			"provider_user_id": acct.ProviderUserID,
		}}},
	}
	update := bson.M{
		"$push": bson.M{"oauth_accounts": oauthAccountRow(acct)},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	if _, err := db.Collection(collUsers).UpdateOne(ctx, filter, update); err != nil {
		return domain.ErrConnectionFailed(err)
	}
	return nil
}

// UpdateProfile replaces the dietary profile. Saving a profile also
// completes onboarding.
func (r *UserRepo) UpdateProfile(ctx context.Context, userID string, p domain.Profile) error {
	oid, err := parseObjectID(userID, "user_id")
	if err != nil {
		return err
	}
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return err
	}
	res, err := db.Collection(collUsers).UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$set": bson.M{
			"profile":      toProfileRow(p),
			"is_onboarded": true,
			"updated_at":   time.Now().UTC(),
		},
	})
	if err != nil {
		return domain.ErrConnectionFailed(err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrUserNotFound()
	}
	return nil
}

// SetPasswordResetToken stores the pending reset token and its expiry on
// the user row.
func (r *UserRepo) SetPasswordResetToken(ctx context.Context, userID, token string, expires time.Time) error {
	oid, err := parseObjectID(userID, "user_id")
	if err != nil {
		return err
	}
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return err
	}
	res, err := db.Collection(collUsers).UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$set": bson.M{
			"security.password_reset_token":   token,
			"security.password_reset_expires": expires,
			"updated_at":                      time.Now().UTC(),
		},
	})
	if err != nil {
		return domain.ErrConnectionFailed(err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrUserNotFound()
	}
	return nil
}

// GetByResetToken resolves a user from a live (unexpired) reset token.
func (r *UserRepo) GetByResetToken(ctx context.Context, token string) (domain.User, error) {
	if token == "" {
		return domain.User{}, domain.ErrMissingField("reset_token")
	}
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return domain.User{}, err
	}
	filter := bson.M{
		"security.password_reset_token":   token,
		"security.password_reset_expires": bson.M{"$gt": time.Now().UTC()},
	}
	var row userRow
	if err := db.Collection(collUsers).FindOne(ctx, filter).Decode(&row); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, domain.ErrResetTokenNotFound()
		}
		return domain.User{}, domain.ErrConnectionFailed(err)
	}
	return toDomainUser(row), nil
}

// CompletePasswordReset swaps the password hash, clears the reset token and
// the lockout state, revokes every live session for the user and appends
// the completion audit record, all in one transaction. Returns the number
// of sessions revoked.
func (r *UserRepo) CompletePasswordReset(ctx context.Context, userID, newHash string, rec domain.AuditRecord) (int64, error) {
	oid, err := parseObjectID(userID, "user_id")
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()

	var revoked int64
	err = r.mgr.ExecuteInTransaction(ctx, func(tx *Txn) error {
		revoked = 0

		res, err := tx.UpdateOne(collUsers, bson.M{"_id": oid}, bson.M{
			"$set": bson.M{
				"password_hash":                  newHash,
				"security.last_password_change":  now,
				"security.failed_login_attempts": 0,
				"updated_at":                     now,
			},
			"$unset": bson.M{
				"security.password_reset_token":   "",
				"security.password_reset_expires": "",
				"security.locked_until":           "",
			},
		})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return domain.ErrUserNotFound()
		}

		upd, err := tx.UpdateMany(collSessions,
			bson.M{"user_id": oid, "revoked": false},
			bson.M{"$set": bson.M{"revoked": true, "revoked_at": now}})
		if err != nil {
			return err
		}
		revoked = upd.ModifiedCount

		return appendAuditTx(tx, rec)
	}, defaultTxnAttempts)
	if err != nil {
		return 0, err
	}
	return revoked, nil
}
