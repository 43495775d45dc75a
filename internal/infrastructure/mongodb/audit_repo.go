package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/pantrylab/pantryd/internal/domain"
)

// auditRow keeps user_id as the hex string form of the user id so records
// written before a user exists (or for unknown principals) need no special
// casing.
type auditRow struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	EventType     string             `bson:"event_type"`
	UserID        string             `bson:"user_id,omitempty"`
	Email         string             `bson:"email,omitempty"`
	Provider      string             `bson:"provider,omitempty"`
	IPAddress     string             `bson:"ip_address,omitempty"`
	Success       bool               `bson:"success"`
	FailureReason string             `bson:"failure_reason,omitempty"`
	Metadata      map[string]string  `bson:"metadata,omitempty"`
	Timestamp     time.Time          `bson:"timestamp"`
}

func toAuditRow(rec domain.AuditRecord) auditRow {
	return auditRow{
		EventType:     rec.EventType,
		UserID:        rec.UserID,
		Email:         rec.Email,
		Provider:      rec.Provider,
		IPAddress:     rec.IPAddress,
		Success:       rec.Success,
		FailureReason: rec.FailureReason,
		Metadata:      rec.Metadata,
		Timestamp:     rec.Timestamp,
	}
}

// appendAuditTx writes an audit record inside an open transaction. Shared
// by the repos whose writes must land together with their audit trail.
func appendAuditTx(tx *Txn, rec domain.AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	_, err := tx.InsertOne(collAudit, toAuditRow(rec))
	return err
}

// AuditRepo appends standalone audit records. The log is append-only: there
// are no update or delete operations, removal is the TTL index's job.
type AuditRepo struct {
	mgr *Manager
}

func NewAuditRepo(mgr *Manager) *AuditRepo {
	return &AuditRepo{mgr: mgr}
}

func (r *AuditRepo) Append(ctx context.Context, rec domain.AuditRecord) error {
	if rec.EventType == "" {
		return domain.ErrMissingField("event_type")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return err
	}
	if _, err := db.Collection(collAudit).InsertOne(ctx, toAuditRow(rec)); err != nil {
		return domain.ErrConnectionFailed(err)
	}
	return nil
}
