package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pantrylab/pantryd/internal/domain"
)

type sessionRow struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	UserID          primitive.ObjectID `bson:"user_id"`
	AccessTokenJTI  string             `bson:"access_token_jti"`
	RefreshTokenJTI string             `bson:"refresh_token_jti"`
	DeviceInfo      deviceInfoRow      `bson:"device_info"`
	CreatedAt       time.Time          `bson:"created_at"`
	ExpiresAt       time.Time          `bson:"expires_at"`
	LastActivity    time.Time          `bson:"last_activity"`
	Revoked         bool               `bson:"revoked"`
	RevokedAt       *time.Time         `bson:"revoked_at,omitempty"`
}

type deviceInfoRow struct {
	IPAddress string `bson:"ip_address,omitempty"`
	Interface string `bson:"interface,omitempty"`
	UserAgent string `bson:"user_agent,omitempty"`
}

func toSessionRow(s domain.Session) (sessionRow, error) {
	uid, err := parseObjectID(s.UserID, "user_id")
	if err != nil {
		return sessionRow{}, err
	}
	row := sessionRow{
		UserID:          uid,
		AccessTokenJTI:  s.AccessTokenJTI,
		RefreshTokenJTI: s.RefreshTokenJTI,
		DeviceInfo:      deviceInfoRow(s.DeviceInfo),
		CreatedAt:       s.CreatedAt,
		ExpiresAt:       s.ExpiresAt,
		LastActivity:    s.LastActivity,
		Revoked:         s.Revoked,
		RevokedAt:       s.RevokedAt,
	}
	if s.ID != "" {
		oid, err := parseObjectID(s.ID, "session_id")
		if err != nil {
			return sessionRow{}, err
		}
		row.ID = oid
	}
	return row, nil
}

func toDomainSession(row sessionRow) domain.Session {
	return domain.Session{
		ID:              row.ID.Hex(),
		UserID:          row.UserID.Hex(),
		AccessTokenJTI:  row.AccessTokenJTI,
		RefreshTokenJTI: row.RefreshTokenJTI,
		DeviceInfo:      domain.DeviceInfo(row.DeviceInfo),
		CreatedAt:       row.CreatedAt,
		ExpiresAt:       row.ExpiresAt,
		LastActivity:    row.LastActivity,
		Revoked:         row.Revoked,
		RevokedAt:       row.RevokedAt,
	}
}

type SessionRepo struct {
	mgr *Manager
}

func NewSessionRepo(mgr *Manager) *SessionRepo {
	return &SessionRepo{mgr: mgr}
}

// Create inserts the session row and the tokens_issued audit record in one
// transaction. Callers must not hand out the token pair unless this
// returns nil.
func (r *SessionRepo) Create(ctx context.Context, s domain.Session, rec domain.AuditRecord) (domain.Session, error) {
	if s.AccessTokenJTI == "" || s.RefreshTokenJTI == "" {
		return domain.Session{}, domain.ErrMissingField("token_jti")
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastActivity.IsZero() {
		s.LastActivity = now
	}
	row, err := toSessionRow(s)
	if err != nil {
		return domain.Session{}, err
	}

	var created domain.Session
	err = r.mgr.ExecuteInTransaction(ctx, func(tx *Txn) error {
		ins := row
		id, err := tx.InsertOne(collSessions, ins)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return domain.ErrInternal(err)
			}
			return err
		}
		ins.ID = id
		created = toDomainSession(ins)

		return appendAuditTx(tx, rec)
	}, defaultTxnAttempts)
	if err != nil {
		return domain.Session{}, err
	}
	return created, nil
}

func (r *SessionRepo) GetByAccessJTI(ctx context.Context, jti string) (domain.Session, error) {
	return r.getByJTI(ctx, bson.M{"access_token_jti": jti})
}

func (r *SessionRepo) GetByRefreshJTI(ctx context.Context, jti string) (domain.Session, error) {
	return r.getByJTI(ctx, bson.M{"refresh_token_jti": jti})
}

func (r *SessionRepo) getByJTI(ctx context.Context, filter bson.M) (domain.Session, error) {
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	var row sessionRow
	if err := db.Collection(collSessions).FindOne(ctx, filter).Decode(&row); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Session{}, domain.ErrSessionNotFound()
		}
		return domain.Session{}, domain.ErrConnectionFailed(err)
	}
	return toDomainSession(row), nil
}

// Rotate swaps both JTIs on the live session matching the presented refresh
// JTI, extends the expiry and stamps activity, then appends the
// token_refreshed audit record. The swap is a single update, so there is no
// moment where the old and the new pair are both valid.
func (r *SessionRepo) Rotate(ctx context.Context, refreshJTI, newAccessJTI, newRefreshJTI string, newExpiresAt time.Time, rec domain.AuditRecord) (domain.Session, error) {
	now := time.Now().UTC()

	var rotated domain.Session
	err := r.mgr.ExecuteInTransaction(ctx, func(tx *Txn) error {
		res, err := tx.UpdateOne(collSessions,
			bson.M{"refresh_token_jti": refreshJTI, "revoked": false, "expires_at": bson.M{"$gt": now}},
			bson.M{"$set": bson.M{
				"access_token_jti":  newAccessJTI,
				"refresh_token_jti": newRefreshJTI,
				"expires_at":        newExpiresAt,
				"last_activity":     now,
			}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return domain.ErrSessionNotFound()
		}

		var row sessionRow
		if err := tx.FindOne(collSessions, bson.M{"access_token_jti": newAccessJTI}, &row); err != nil {
			return err
		}
		rotated = toDomainSession(row)

		return appendAuditTx(tx, rec)
	}, defaultTxnAttempts)
	if err != nil {
		return domain.Session{}, err
	}
	return rotated, nil
}

// TouchActivity stamps last_activity on the session holding the access JTI.
func (r *SessionRepo) TouchActivity(ctx context.Context, accessJTI string) error {
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return err
	}
	res, err := db.Collection(collSessions).UpdateOne(ctx,
		bson.M{"access_token_jti": accessJTI},
		bson.M{"$set": bson.M{"last_activity": time.Now().UTC()}})
	if err != nil {
		return domain.ErrConnectionFailed(err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrSessionNotFound()
	}
	return nil
}

// RevokeByJTI revokes any live session whose access or refresh JTI matches
// and appends the token_revoked audit record. Reports whether a session was
// actually revoked.
func (r *SessionRepo) RevokeByJTI(ctx context.Context, jti string, rec domain.AuditRecord) (bool, error) {
	now := time.Now().UTC()

	var hit bool
	err := r.mgr.ExecuteInTransaction(ctx, func(tx *Txn) error {
		hit = false
		res, err := tx.UpdateMany(collSessions,
			bson.M{
				"$or":     bson.A{bson.M{"access_token_jti": jti}, bson.M{"refresh_token_jti": jti}},
				"revoked": false,
			},
			bson.M{"$set": bson.M{"revoked": true, "revoked_at": now}})
		if err != nil {
			return err
		}
		if res.ModifiedCount == 0 {
			return nil
		}
		hit = true
		return appendAuditTx(tx, rec)
	}, defaultTxnAttempts)
	if err != nil {
		return false, err
	}
	return hit, nil
}

// RevokeAllForUser revokes every live session of one user. Returns the
// number revoked.
func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	oid, err := parseObjectID(userID, "user_id")
	if err != nil {
		return 0, err
	}
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return 0, err
	}
	res, err := db.Collection(collSessions).UpdateMany(ctx,
		bson.M{"user_id": oid, "revoked": false},
		bson.M{"$set": bson.M{"revoked": true, "revoked_at": time.Now().UTC()}})
	if err != nil {
		return 0, domain.ErrConnectionFailed(err)
	}
	return res.ModifiedCount, nil
}

// List returns sessions newest-first, optionally scoped to one user. Used
// by the operator CLI.
func (r *SessionRepo) List(ctx context.Context, userID string, limit int64) ([]domain.Session, error) {
	filter := bson.M{}
	if userID != "" {
		oid, err := parseObjectID(userID, "user_id")
		if err != nil {
			return nil, err
		}
		filter["user_id"] = oid
	}
	if limit <= 0 {
		limit = 100
	}
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cur, err := db.Collection(collSessions).Find(ctx, filter, opts)
	if err != nil {
		return nil, domain.ErrConnectionFailed(err)
	}
	var rows []sessionRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, domain.ErrConnectionFailed(err)
	}
	out := make([]domain.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainSession(row))
	}
	return out, nil
}

// DeleteExpired removes sessions past their expiry. The TTL index does this
// in the background; the manual sweep exists for the operator CLI.
func (r *SessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return 0, err
	}
	res, err := db.Collection(collSessions).DeleteMany(ctx,
		bson.M{"expires_at": bson.M{"$lt": time.Now().UTC()}})
	if err != nil {
		return 0, domain.ErrConnectionFailed(err)
	}
	return res.DeletedCount, nil
}
