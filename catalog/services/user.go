package services

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"genome_catalog/catalog/auth"
	"genome_catalog/catalog/schema"
	"genome_catalog/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type UserService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *UserService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/login", s.Login)

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Get("/token-expiration", s.TokenExpiration)
		r.Get("/{user}/info", s.Info)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)
		r.Use(auth.AdminOnly())

		r.Post("/", s.Create)
	})

	return r
}

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserId      string `json:"userId"`
	AccessToken string `json:"accessToken"`
}

func (s *UserService) Login(w http.ResponseWriter, r *http.Request) {
	var params loginRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	started := time.Now()

	login, err := s.userAuth.Login(params.User, params.Password)
	if err != nil {
		responseCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, auth.ErrUserNotFoundWithId):
			responseCode = http.StatusNotFound
		case errors.Is(err, auth.ErrInvalidCredentials):
			responseCode = http.StatusUnauthorized
		}
		writeQueryError(w, CodedError(fmt.Errorf("login failed: %w", err), responseCode))
		return
	}

	writeQueryResponse(w, resultOf(started, loginResponse{UserId: login.UserId, AccessToken: login.AccessToken}))
}

type createUserRequest struct {
	User     string `json:"user"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *UserService) Create(w http.ResponseWriter, r *http.Request) {
	var params createUserRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	started := time.Now()

	err := s.userAuth.CreateUser(params.User, params.Name, params.Email, params.Password)
	if err != nil {
		responseCode := http.StatusBadRequest
		switch {
		case errors.Is(err, auth.ErrEmailAlreadyInUse), errors.Is(err, auth.ErrUserIdAlreadyInUse):
			responseCode = http.StatusConflict
		case errors.Is(err, schema.ErrDbAccessFailed):
			responseCode = http.StatusInternalServerError
		}
		writeQueryError(w, CodedError(err, responseCode))
		return
	}

	user, err := schema.GetUser(params.User, s.db)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeQueryResponse(w, resultOf(started, userInfoOf(&user)))
}

type userInfo struct {
	Id           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

func userInfoOf(user *schema.User) userInfo {
	return userInfo{
		Id:           user.Id,
		Name:         user.Name,
		Email:        user.Email,
		CreationDate: user.CreationDate,
		Status:       user.Status,
	}
}

// Info is restricted to the user themselves and the admin; other users'
// account details are never exposed, acl members are referenced by id only.
func (s *UserService) Info(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	requested, err := utils.URLParam(r, "user")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}

	if userId != requested && userId != schema.AdminUser {
		writeQueryError(w, CodedError(fmt.Errorf("user %v cannot view the account of %v", userId, requested), http.StatusForbidden))
		return
	}

	user, err := schema.GetUser(requested, s.db)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeQueryResponse(w, resultOf(started, userInfoOf(&user)))
}

type tokenExpirationResponse struct {
	Expiration time.Time `json:"expiration"`
}

func (s *UserService) TokenExpiration(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	expiration, err := s.userAuth.TokenExpiration(r)
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusUnauthorized))
		return
	}

	writeQueryResponse(w, resultOf(started, tokenExpirationResponse{Expiration: expiration}))
}
