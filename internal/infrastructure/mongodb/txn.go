package mongodb

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/metrics"
)

const (
	txnWallClock       = 30 * time.Second
	txnRetryBase       = 100 * time.Millisecond
	defaultTxnAttempts = 3
	transientTxnLabel  = "TransientTransactionError"
)

var (
	errTxnClosed        = errors.New("transaction is no longer active")
	errCommitAfterAbort = errors.New("commit after abort")
)

// OpRecord is one entry of a transaction's diagnostic op log.
type OpRecord struct {
	Op         string
	Collection string
	Matched    int64
	Modified   int64
	Inserted   int64
	Deleted    int64
}

// TxnFunc runs inside an open transaction. It is re-invoked from scratch on
// transient retries, so it must be idempotent with respect to retry.
type TxnFunc func(tx *Txn) error

// Txn scopes a set of operations to one store session with snapshot reads
// and majority writes. Operations run on the transaction's own session
// context and must not be used once Commit or Abort has returned.
type Txn struct {
	ctx       context.Context
	db        *mongo.Database
	sess      txnSession
	started   time.Time
	wall      time.Duration
	committed bool
	aborted   bool
	ops       []OpRecord
	log       zerolog.Logger
}

// txnSession is the slice of mongo.Session the Txn drives.
type txnSession interface {
	CommitTransaction(context.Context) error
	AbortTransaction(context.Context) error
}

func newTxn(sc context.Context, db *mongo.Database, sess txnSession, log zerolog.Logger) *Txn {
	return &Txn{
		ctx:     sc,
		db:      db,
		sess:    sess,
		started: time.Now(),
		wall:    txnWallClock,
		log:     log,
	}
}

// ExecuteInTransaction runs fn inside a transaction, retrying errors the
// store labels transient (and driver network/timeout errors) with a delay of
// 100ms * attempt, up to maxAttempts. Non-transient errors surface
// immediately.
func (m *Manager) ExecuteInTransaction(ctx context.Context, fn TxnFunc, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = defaultTxnAttempts
	}
	client, err := m.AcquireClient(ctx)
	if err != nil {
		return err
	}
	db := client.Database(m.cfg.Database)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := m.runTxn(ctx, client, db, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransientTxnError(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		metrics.RecordTxnRetry()
		m.log.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("transient transaction error, retrying")
		delay := time.Duration(attempt) * txnRetryBase
		select {
		case <-ctx.Done():
			return domain.ErrTimeout("transaction", ctx.Err())
		case <-time.After(delay):
		}
	}
	return domain.ErrTransactionTransient(lastErr)
}

func (m *Manager) runTxn(ctx context.Context, client Client, db *mongo.Database, fn TxnFunc) error {
	sess, err := client.StartSession()
	if err != nil {
		return domain.ErrConnectionFailed(err)
	}
	defer sess.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority()).
		SetReadPreference(readpref.Primary())
	if err := sess.StartTransaction(txnOpts); err != nil {
		return domain.ErrInternal(err)
	}

	return mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		tx := newTxn(sc, db, sess, m.log)
		if err := fn(tx); err != nil {
			tx.Abort()
			return err
		}
		return tx.Commit()
	})
}

// IsTransientTxnError reports whether err is safe to retry from the top of
// the transaction: the server labeled it transient, or the failure happened
// at the network level.
func IsTransientTxnError(err error) bool {
	if err == nil {
		return false
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel(transientTxnLabel) {
		return true
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}

// Commit makes the transaction's writes visible. Committing twice warns and
// no-ops; committing after Abort fails.
func (t *Txn) Commit() error {
	if t.aborted {
		return domain.ErrTransactionAborted(errCommitAfterAbort)
	}
	if t.committed {
		t.log.Warn().Msg("commit called twice on the same transaction")
		return nil
	}
	if err := t.sess.CommitTransaction(t.ctx); err != nil {
		return err
	}
	t.committed = true
	metrics.RecordTxnCommit()
	t.log.Debug().
		Int("ops", len(t.ops)).
		Dur("elapsed", time.Since(t.started)).
		Msg("transaction committed")
	return nil
}

// Abort rolls the transaction back. It is a no-op after Commit or a prior
// Abort.
func (t *Txn) Abort() {
	if t.committed || t.aborted {
		return
	}
	t.aborted = true
	metrics.RecordTxnAbort()
	if err := t.sess.AbortTransaction(t.ctx); err != nil {
		t.log.Warn().Err(err).Msg("transaction abort failed")
	}
	if len(t.ops) > 0 {
		t.log.Debug().Interface("ops", t.ops).Msg("transaction aborted")
	}
}

// Operations returns a copy of the op log accumulated so far.
func (t *Txn) Operations() []OpRecord {
	out := make([]OpRecord, len(t.ops))
	copy(out, t.ops)
	return out
}

// guard rejects operations once the transaction is closed or past its
// wall-clock deadline.
func (t *Txn) guard() error {
	if t.committed || t.aborted {
		return domain.ErrInternal(errTxnClosed)
	}
	if elapsed := time.Since(t.started); elapsed > t.wall {
		return domain.ErrTransactionTimedOut(elapsed.Round(time.Millisecond).String())
	}
	return nil
}

func (t *Txn) record(op OpRecord) {
	t.ops = append(t.ops, op)
}

func (t *Txn) InsertOne(collection string, doc any) (primitive.ObjectID, error) {
	if err := t.guard(); err != nil {
		return primitive.NilObjectID, err
	}
	res, err := t.db.Collection(collection).InsertOne(t.ctx, doc)
	if err != nil {
		return primitive.NilObjectID, err
	}
	t.record(OpRecord{Op: "insert_one", Collection: collection, Inserted: 1})
	id, _ := res.InsertedID.(primitive.ObjectID)
	return id, nil
}

func (t *Txn) InsertMany(collection string, docs []any) ([]primitive.ObjectID, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	res, err := t.db.Collection(collection).InsertMany(t.ctx, docs)
	if err != nil {
		return nil, err
	}
	t.record(OpRecord{Op: "insert_many", Collection: collection, Inserted: int64(len(res.InsertedIDs))})
	ids := make([]primitive.ObjectID, 0, len(res.InsertedIDs))
	for _, raw := range res.InsertedIDs {
		if id, ok := raw.(primitive.ObjectID); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (t *Txn) UpdateOne(collection string, filter, update any) (*mongo.UpdateResult, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	res, err := t.db.Collection(collection).UpdateOne(t.ctx, filter, update)
	if err != nil {
		return nil, err
	}
	t.record(OpRecord{Op: "update_one", Collection: collection, Matched: res.MatchedCount, Modified: res.ModifiedCount})
	return res, nil
}

func (t *Txn) UpdateMany(collection string, filter, update any) (*mongo.UpdateResult, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	res, err := t.db.Collection(collection).UpdateMany(t.ctx, filter, update)
	if err != nil {
		return nil, err
	}
	t.record(OpRecord{Op: "update_many", Collection: collection, Matched: res.MatchedCount, Modified: res.ModifiedCount})
	return res, nil
}

// FindOne decodes the first match into out. A miss returns
// mongo.ErrNoDocuments for the caller to map.
func (t *Txn) FindOne(collection string, filter any, out any) error {
	if err := t.guard(); err != nil {
		return err
	}
	err := t.db.Collection(collection).FindOne(t.ctx, filter).Decode(out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			t.record(OpRecord{Op: "find_one", Collection: collection})
		}
		return err
	}
	t.record(OpRecord{Op: "find_one", Collection: collection, Matched: 1})
	return nil
}

// Find decodes all matches into out, which must be a pointer to a slice.
func (t *Txn) Find(collection string, filter any, out any, opts ...*options.FindOptions) error {
	if err := t.guard(); err != nil {
		return err
	}
	cur, err := t.db.Collection(collection).Find(t.ctx, filter, opts...)
	if err != nil {
		return err
	}
	if err := cur.All(t.ctx, out); err != nil {
		return err
	}
	n := int64(reflect.ValueOf(out).Elem().Len())
	t.record(OpRecord{Op: "find", Collection: collection, Matched: n})
	return nil
}

func (t *Txn) DeleteOne(collection string, filter any) (int64, error) {
	if err := t.guard(); err != nil {
		return 0, err
	}
	res, err := t.db.Collection(collection).DeleteOne(t.ctx, filter)
	if err != nil {
		return 0, err
	}
	t.record(OpRecord{Op: "delete_one", Collection: collection, Deleted: res.DeletedCount})
	return res.DeletedCount, nil
}

// UpdateWithVersion applies set to the document matching filter at exactly
// expectedVersion and bumps the version by one. When nothing matches, the
// document is re-read under the same snapshot to tell "gone"
// (mongo.ErrNoDocuments) apart from "concurrently modified"
// (VersionConflict). set must not touch the version field itself.
func (t *Txn) UpdateWithVersion(collection string, filter bson.M, set bson.M, expectedVersion int64, resource string) error {
	versioned := bson.M{"version": expectedVersion}
	for k, v := range filter {
		versioned[k] = v
	}
	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}
	res, err := t.UpdateOne(collection, versioned, update)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	var probe struct {
		Version int64 `bson:"version"`
	}
	if err := t.FindOne(collection, filter, &probe); err != nil {
		return err
	}
	return domain.ErrVersionConflict(resource)
}
