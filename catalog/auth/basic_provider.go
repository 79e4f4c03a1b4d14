package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"genome_catalog/catalog/schema"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type BasicIdentityProvider struct {
	jwtManager *JwtManager
	db         *gorm.DB
	auditLog   AuditLogger
}

type BasicProviderArgs struct {
	Secret        []byte
	AdminEmail    string
	AdminPassword string
}

func NewBasicIdentityProvider(db *gorm.DB, auditLog AuditLogger, args BasicProviderArgs) (IdentityProvider, error) {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(args.AdminPassword), 10)
	if err != nil {
		return nil, fmt.Errorf("error encrypting admin password: %w", err)
	}

	err = addInitialAdminToDb(db, args.AdminEmail, hashedPwd)
	if err != nil {
		return nil, fmt.Errorf("error adding initial admin to db: %w", err)
	}

	return &BasicIdentityProvider{
		jwtManager: NewJwtManager(args.Secret),
		db:         db,
		auditLog:   auditLog,
	}, nil
}

// resolvePrincipal maps the verified token, when there is one, to a user id.
// Missing, expired, or otherwise unusable tokens downgrade the request to
// the anonymous principal instead of rejecting it, anonymous reads are a
// legitimate access mode and the ACL engine governs them.
func (auth *BasicIdentityProvider) resolvePrincipal() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			token, claims, err := jwtauth.FromContext(r.Context())
			if err != nil || token == nil {
				next.ServeHTTP(w, withPrincipal(r, schema.AnonymousUser))
				return
			}

			userId, ok := claims[userIdKey].(string)
			if !ok {
				next.ServeHTTP(w, withPrincipal(r, schema.AnonymousUser))
				return
			}

			user, err := schema.GetUser(userId, auth.db)
			if err != nil {
				if errors.Is(err, schema.ErrUserNotFound) {
					next.ServeHTTP(w, withPrincipal(r, schema.AnonymousUser))
					return
				}
				http.Error(w, fmt.Sprintf("unable to resolve user %v: %v", userId, err), http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, withPrincipal(r, user.Id))
		}

		return http.HandlerFunc(handler)
	}
}

func (auth *BasicIdentityProvider) AuthMiddleware() chi.Middlewares {
	return chi.Middlewares{auth.jwtManager.Verifier(), auth.resolvePrincipal(), auth.auditLog.Middleware}
}

func (auth *BasicIdentityProvider) Login(userId, password string) (LoginResult, error) {
	var user schema.User
	result := auth.db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return LoginResult{}, ErrUserNotFoundWithId
		}
		slog.Error("sql error looking up user for login", "error", result.Error)
		return LoginResult{}, schema.ErrDbAccessFailed
	}

	err := bcrypt.CompareHashAndPassword(user.Password, []byte(password))
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := auth.jwtManager.CreateUserJwt(user.Id)
	if err != nil {
		return LoginResult{}, ErrGeneratingJwt
	}

	auth.auditLog.Record("login", user.Id)

	return LoginResult{UserId: user.Id, AccessToken: token}, nil
}

func (auth *BasicIdentityProvider) CreateUser(userId, name, email, password string) error {
	if err := validateUserId(userId); err != nil {
		return err
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	if err != nil {
		return fmt.Errorf("error encrypting password: %w", err)
	}

	newUser := schema.User{
		Id:           userId,
		Name:         name,
		Email:        email,
		Password:     hashedPwd,
		CreationDate: time.Now().UTC(),
		Status:       schema.StatusReady,
	}

	err = auth.db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "id = ? or email = ?", userId, email)
		if result.Error != nil {
			slog.Error("sql error checking for existing user id/email", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected != 0 {
			if existingUser.Id == userId {
				return ErrUserIdAlreadyInUse
			} else {
				return ErrEmailAlreadyInUse
			}
		}

		result = txn.Create(&newUser)
		if result.Error != nil {
			slog.Error("sql error creating new user entry", "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("error creating new user: %w", err)
	}

	auth.auditLog.Record("create-user", userId, "email", email)

	return nil
}

func (auth *BasicIdentityProvider) TokenExpiration(r *http.Request) (time.Time, error) {
	token, _, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return time.Time{}, fmt.Errorf("error retrieving access token: %w", err)
	}
	if token == nil {
		return time.Time{}, fmt.Errorf("no access token on request")
	}

	return token.Expiration(), nil
}
