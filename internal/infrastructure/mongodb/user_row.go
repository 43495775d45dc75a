package mongodb

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/pantrylab/pantryd/internal/domain"
)

type userRow struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Email         string             `bson:"email"`
	EmailVerified bool               `bson:"email_verified"`
	AuthProvider  string             `bson:"auth_provider"`
	PasswordHash  *string            `bson:"password_hash"`
	OAuthAccounts []oauthAccountRow  `bson:"oauth_accounts,omitempty"`
	Profile       profileRow         `bson:"profile"`
	Security      securityRow        `bson:"security"`
	IsOnboarded   bool               `bson:"is_onboarded"`
	CreatedAt     time.Time          `bson:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at"`
}

type oauthAccountRow struct {
	Provider       string         `bson:"provider"`
	ProviderUserID string         `bson:"provider_user_id"`
	Email          string         `bson:"email"`
	LinkedAt       time.Time      `bson:"linked_at"`
	ProfileBlob    map[string]any `bson:"profile_blob,omitempty"`
}

type profileRow struct {
	DietTypes            []string       `bson:"diet_types,omitempty"`
	Allergies            []string       `bson:"allergies,omitempty"`
	CulturalRestrictions []string       `bson:"cultural_restrictions,omitempty"`
	HouseholdSize        int            `bson:"household_size,omitempty"`
	Extra                map[string]any `bson:"extra,omitempty"`
}

type securityRow struct {
	FailedLoginAttempts  int        `bson:"failed_login_attempts"`
	LockedUntil          *time.Time `bson:"locked_until,omitempty"`
	LastLogin            *time.Time `bson:"last_login,omitempty"`
	LastPasswordChange   *time.Time `bson:"last_password_change,omitempty"`
	PasswordResetToken   string     `bson:"password_reset_token,omitempty"`
	PasswordResetExpires *time.Time `bson:"password_reset_expires,omitempty"`
}

func toUserRow(u domain.User) (userRow, error) {
	row := userRow{
		Email:         domain.NormalizeEmail(u.Email),
		EmailVerified: u.EmailVerified,
		AuthProvider:  u.AuthProvider,
		PasswordHash:  u.PasswordHash,
		Profile:       toProfileRow(u.Profile),
		Security: securityRow{
			FailedLoginAttempts:  u.Security.FailedLoginAttempts,
			LockedUntil:          u.Security.LockedUntil,
			LastLogin:            u.Security.LastLogin,
			LastPasswordChange:   u.Security.LastPasswordChange,
			PasswordResetToken:   u.Security.PasswordResetToken,
			PasswordResetExpires: u.Security.PasswordResetExpires,
		},
		IsOnboarded: u.IsOnboarded,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
	if u.ID != "" {
		oid, err := parseObjectID(u.ID, "user_id")
		if err != nil {
			return userRow{}, err
		}
		row.ID = oid
	}
	for _, a := range u.OAuthAccounts {
		row.OAuthAccounts = append(row.OAuthAccounts, oauthAccountRow(a))
	}
	return row, nil
}

func toDomainUser(row userRow) domain.User {
	u := domain.User{
		ID:            row.ID.Hex(),
		Email:         row.Email,
		EmailVerified: row.EmailVerified,
		AuthProvider:  row.AuthProvider,
		PasswordHash:  row.PasswordHash,
		Profile:       toDomainProfile(row.Profile),
		Security: domain.Security{
			FailedLoginAttempts:  row.Security.FailedLoginAttempts,
			LockedUntil:          row.Security.LockedUntil,
			LastLogin:            row.Security.LastLogin,
			LastPasswordChange:   row.Security.LastPasswordChange,
			PasswordResetToken:   row.Security.PasswordResetToken,
			PasswordResetExpires: row.Security.PasswordResetExpires,
		},
		IsOnboarded: row.IsOnboarded,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	for _, a := range row.OAuthAccounts {
		u.OAuthAccounts = append(u.OAuthAccounts, domain.OAuthAccount(a))
	}
	return u
}

func toProfileRow(p domain.Profile) profileRow {
	return profileRow{
		DietTypes:            p.DietTypes,
		Allergies:            p.Allergies,
		CulturalRestrictions: p.CulturalRestrictions,
		HouseholdSize:        p.HouseholdSize,
		Extra:                p.Extra,
	}
}

func toDomainProfile(row profileRow) domain.Profile {
	return domain.Profile{
		DietTypes:            row.DietTypes,
		Allergies:            row.Allergies,
		CulturalRestrictions: row.CulturalRestrictions,
		HouseholdSize:        row.HouseholdSize,
		Extra:                row.Extra,
	}
}

// parseObjectID maps hex ids from the domain layer to ObjectIDs, turning
// malformed input into a validation error instead of a driver error.
func parseObjectID(id, field string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return primitive.NilObjectID, domain.ErrInvalidField(field, "malformed id")
	}
	return oid, nil
}
