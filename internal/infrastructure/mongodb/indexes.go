package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collUsers    = "users_v2"
	collSessions = "auth_sessions"
	collAudit    = "auth_audit_log"
	collGrocery  = "grocery_lists"
	collConfig   = "system_config"
)

const auditRetention = 90 * 24 * time.Hour

// EnsureIndexes creates every index the repositories rely on. Index creation
// is idempotent server-side, so this runs on every startup and from the
// operator CLI.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	spec := map[string][]mongo.IndexModel{
		collUsers: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("email_unique"),
			},
			{
				Keys:    bson.D{{Key: "security.password_reset_token", Value: 1}},
				Options: options.Index().SetName("password_reset_token"),
			},
		},
		collSessions: {
			{
				Keys:    bson.D{{Key: "access_token_jti", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("access_token_jti_unique"),
			},
			{
				Keys:    bson.D{{Key: "refresh_token_jti", Value: 1}},
				Options: options.Index().SetName("refresh_token_jti"),
			},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetName("user_id"),
			},
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
			},
		},
		collAudit: {
			{
				Keys:    bson.D{{Key: "timestamp", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(int32(auditRetention / time.Second)).SetName("timestamp_ttl"),
			},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetName("user_id"),
			},
		},
		collGrocery: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("user_id_name_unique"),
			},
		},
	}

	for coll, models := range spec {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("ensure indexes on %s: %w", coll, err)
		}
	}
	return nil
}
