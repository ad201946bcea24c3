package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/machine-treatments/internal/config"
	"github.com/iliyamo/machine-treatments/internal/logger"
	"github.com/iliyamo/machine-treatments/internal/middleware"
	"github.com/iliyamo/machine-treatments/internal/model"
	"github.com/iliyamo/machine-treatments/internal/queue"
	"github.com/iliyamo/machine-treatments/internal/repository"
	"github.com/iliyamo/machine-treatments/internal/utils"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg    config.Config
	Users  UserStore
	Tokens TokenStore
	Events EventPublisher
	Log    *logger.Logger

	pending sync.WaitGroup
}

func NewAuthHandler(cfg config.Config, u UserStore, t TokenStore, events EventPublisher, log *logger.Logger) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u, Tokens: t, Events: events, Log: log.With("auth")}
}

// ----- DTOs -----

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type userPart struct {
	Email string `json:"email"`
}
type sessionResp struct {
	Message string    `json:"message,omitempty"`
	User    userPart  `json:"user"`
	Access  tokenPart `json:"access"`
	Refresh tokenPart `json:"refresh"`
}

func (r *credentialsReq) normalize() bool {
	r.Email = repository.NormalizeEmail(r.Email)
	return r.Email != "" && r.Password != ""
}

// Register: create a user.  No tokens are issued; the client logs in next.
func (h *AuthHandler) Register(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if !req.normalize() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and password are required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	u, err := h.Users.Create(ctx, req.Email, req.Password, h.Cfg.BcryptCost)
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
		}
		h.Log.Error().Err(err).Msg("create user")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to register user"})
	}

	if h.Events != nil {
		ev := queue.UserRegisteredEvent{UserID: u.ID.Hex(), Email: u.Email, At: time.Now().UTC()}
		h.pending.Add(1)
		go func() {
			defer h.pending.Done()
			pubCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := h.Events.PublishUserRegistered(pubCtx, ev); err != nil {
				h.Log.Warn().Err(err).Msg("publish user registered")
			}
		}()
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"message": "User registered successfully",
		"user":    userPart{Email: u.Email},
	})
}

// Login: verify credentials and return a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if !req.normalize() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and password are required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		h.Log.Error().Err(err).Msg("load user")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid password"})
	}

	resp, err := h.issueSession(ctx, u)
	if err != nil {
		h.Log.Error().Err(err).Msg("issue session")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
	}
	resp.Message = "Login successful"
	return c.JSON(http.StatusOK, resp)
}

// Refresh: validate by hash, revoke old, issue new.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}
	hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	userID, err := h.Tokens.ValidateRefresh(ctx, hash)
	if err != nil {
		if !errors.Is(err, repository.ErrTokenNotFound) {
			h.Log.Error().Err(err).Msg("validate refresh")
		}
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
	}
	if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
		h.Log.Error().Err(err).Msg("revoke refresh")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "refresh failed"})
	}

	u, err := h.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
		}
		h.Log.Error().Err(err).Msg("load user")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "refresh failed"})
	}

	resp, err := h.issueSession(ctx, u)
	if err != nil {
		h.Log.Error().Err(err).Msg("issue session")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "refresh failed"})
	}
	return c.JSON(http.StatusOK, resp)
}

// Logout revokes one session when a refresh_token is posted, or every
// session of the bearer's user when only an access token is presented.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	_ = c.Bind(&req)
	refreshToken := strings.TrimSpace(req.RefreshToken)

	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	if refreshToken != "" {
		hash := utils.HashRefreshRaw(refreshToken)
		if _, err := h.Tokens.ValidateRefresh(ctx, hash); err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
		}
		if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
			h.Log.Error().Err(err).Msg("revoke refresh")
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
		}
		return c.NoContent(http.StatusNoContent)
	}

	auth := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "provide Authorization header or refresh_token"})
	}
	claims, err := utils.ParseAccessToken(h.Cfg.JWTSecret, strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
	}
	uid, ok := parseID(claims.Subject)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
	}
	if err := h.Tokens.RevokeAllForUser(ctx, uid); err != nil {
		h.Log.Error().Err(err).Msg("revoke user tokens")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// Flush waits for registration events still being published.
func (h *AuthHandler) Flush() {
	h.pending.Wait()
}

// Me: protected identity echo.
func (h *AuthHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"user_id": middleware.UserID(c),
		"email":   middleware.Email(c),
	})
}

func (h *AuthHandler) issueSession(ctx context.Context, u model.User) (sessionResp, error) {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID.Hex(), u.Email, h.Cfg.AccessTTLMin)
	if err != nil {
		return sessionResp{}, err
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return sessionResp{}, err
	}
	if err := h.Tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return sessionResp{}, err
	}
	return sessionResp{
		User:    userPart{Email: u.Email},
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp},
	}, nil
}
