package mongodb

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pantrylab/pantryd/internal/domain"
)

const configTypeCameraURL = "camera_url"

type cameraConfigRow struct {
	ConfigType  string    `bson:"config_type"`
	PublicURL   string    `bson:"public_url"`
	LastUpdated time.Time `bson:"last_updated"`
}

// ConfigRepo stores runtime-adjustable settings, currently the camera base
// URL override.
type ConfigRepo struct {
	mgr *Manager
}

func NewConfigRepo(mgr *Manager) *ConfigRepo {
	return &ConfigRepo{mgr: mgr}
}

// CameraURL returns the persisted camera base URL override, or "" when none
// is set.
func (r *ConfigRepo) CameraURL(ctx context.Context) (string, error) {
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return "", err
	}
	var row cameraConfigRow
	err = db.Collection(collConfig).FindOne(ctx, bson.M{"config_type": configTypeCameraURL}).Decode(&row)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil
		}
		return "", domain.ErrConnectionFailed(err)
	}
	return row.PublicURL, nil
}

// SetCameraURL upserts the camera base URL override.
func (r *ConfigRepo) SetCameraURL(ctx context.Context, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return domain.ErrMissingField("url")
	}
	db, err := r.mgr.Database(ctx)
	if err != nil {
		return err
	}
	_, err = db.Collection(collConfig).UpdateOne(ctx,
		bson.M{"config_type": configTypeCameraURL},
		bson.M{"$set": bson.M{"public_url": url, "last_updated": time.Now().UTC()}},
		options.Update().SetUpsert(true))
	if err != nil {
		return domain.ErrConnectionFailed(err)
	}
	return nil
}
