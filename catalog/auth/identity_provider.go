package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"genome_catalog/catalog/schema"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

var (
	ErrUserNotFoundWithId = errors.New("no user found for given id")
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrGeneratingJwt      = errors.New("error generating jwt")
	ErrEmailAlreadyInUse  = errors.New("email is already in use")
	ErrUserIdAlreadyInUse = errors.New("user id is already in use")
)

type LoginResult struct {
	UserId      string
	AccessToken string
}

// IdentityProvider authenticates callers and resolves the request principal.
// Authorization is not its job: requests without a usable token proceed as
// the anonymous principal and the ACL engine decides what they may touch.
type IdentityProvider interface {
	AuthMiddleware() chi.Middlewares

	Login(userId, password string) (LoginResult, error)

	CreateUser(userId, name, email, password string) error

	TokenExpiration(r *http.Request) (time.Time, error)
}

type requestContextKey string

const principalContextKey requestContextKey = "principal"

// Principal returns the caller resolved by the auth middleware. Requests
// that never passed through the middleware count as anonymous.
func Principal(r *http.Request) string {
	principal, ok := r.Context().Value(principalContextKey).(string)
	if !ok || principal == "" {
		return schema.AnonymousUser
	}
	return principal
}

func withPrincipal(r *http.Request, principal string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), principalContextKey, principal))
}

// User ids share a namespace with the reserved principals and the reference
// grammar, so the separators the resolver assigns meaning to are forbidden.
func validateUserId(userId string) error {
	if userId == "" {
		return fmt.Errorf("user id must not be empty")
	}
	if userId == schema.AdminUser || userId == schema.AnonymousUser || userId == schema.AllMembers {
		return fmt.Errorf("user id '%v' is reserved", userId)
	}
	if strings.ContainsAny(userId, "@:,!/ ") {
		return fmt.Errorf("user id '%v' contains reserved characters", userId)
	}
	return nil
}

func addInitialAdminToDb(db *gorm.DB, email string, password []byte) error {
	user := schema.User{
		Id:       schema.AdminUser,
		Name:     "Catalog Admin",
		Email:    email,
		Password: password,
		Status:   schema.StatusReady,
	}

	err := db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "id = ?", schema.AdminUser)
		if result.Error != nil {
			slog.Error("sql error checking if admin has already been added", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected == 0 {
			result := txn.Create(&user)
			if result.Error != nil {
				slog.Error("sql error creating initial admin user", "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error adding initial admin to db: %w", err)
	}

	return nil
}
