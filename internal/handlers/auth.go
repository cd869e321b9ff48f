package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/troy12x/si-copilot/internal/middleware"
	"github.com/troy12x/si-copilot/internal/models"
	"github.com/troy12x/si-copilot/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler handles authentication and session endpoints
type AuthHandler struct {
	users     store.UserRepository
	sessions  store.SessionRepository
	jwtSecret string
	tokenTTL  time.Duration
	logger    *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(users store.UserRepository, sessions store.SessionRepository, jwtSecret string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		users:     users,
		sessions:  sessions,
		jwtSecret: jwtSecret,
		tokenTTL:  24 * time.Hour,
		logger:    logger,
	}
}

// RegisterRequest is the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required,min=2"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest is the request body for login
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse is the response for auth endpoints
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Register creates a new user account
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.BadRequest(c, err.Error())
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		middleware.InternalError(c, "internal server error")
		return
	}

	user := &models.User{
		ID:           uuid.New(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hashedPassword),
	}
	if err := h.users.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			middleware.RespondError(c, http.StatusConflict, "CONFLICT", "email already exists")
			return
		}
		h.logger.Error("failed to create user", zap.Error(err))
		middleware.RespondError(c, http.StatusInternalServerError, middleware.ErrCodeDatabaseError, "failed to create user")
		return
	}

	h.respondWithToken(c, http.StatusCreated, user)
}

// Login authenticates a user
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.BadRequest(c, err.Error())
		return
	}

	user, err := h.users.UserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		middleware.Unauthorized(c, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		middleware.Unauthorized(c, "invalid credentials")
		return
	}

	h.respondWithToken(c, http.StatusOK, user)
}

// GetCurrentUser returns the current authenticated user
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		middleware.Unauthorized(c, "unauthorized")
		return
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		middleware.Unauthorized(c, "unauthorized")
		return
	}

	user, err := h.users.UserByID(c.Request.Context(), id)
	if err != nil {
		middleware.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// CreateSession issues a session key that scopes scratch snapshots
func (h *AuthHandler) CreateSession(c *gin.Context) {
	var body struct {
		Metadata map[string]any `json:"metadata"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			middleware.BadRequest(c, err.Error())
			return
		}
	}
	userID, _ := middleware.GetUserID(c)
	session, err := h.sessions.CreateSession(c.Request.Context(), userID, body.Metadata)
	if err != nil {
		h.logger.Error("failed to create session", zap.String("user_id", userID), zap.Error(err))
		middleware.RespondError(c, http.StatusInternalServerError, middleware.ErrCodeDatabaseError, "failed to create session")
		return
	}
	c.JSON(http.StatusCreated, session)
}

// ValidateSession reports whether the session key belongs to the caller
func (h *AuthHandler) ValidateSession(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	valid, err := h.sessions.ValidateSession(c.Request.Context(), userID, c.Param("key"))
	if err != nil {
		h.logger.Error("failed to validate session", zap.String("user_id", userID), zap.Error(err))
		middleware.RespondError(c, http.StatusInternalServerError, middleware.ErrCodeDatabaseError, "failed to validate session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

func (h *AuthHandler) respondWithToken(c *gin.Context, status int, user *models.User) {
	token, expiresAt, err := h.generateToken(user)
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		middleware.InternalError(c, "internal server error")
		return
	}
	c.JSON(status, AuthResponse{Token: token, ExpiresAt: expiresAt, User: user})
}

func (h *AuthHandler) generateToken(user *models.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(h.tokenTTL)

	claims := middleware.Claims{
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   user.ID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(h.jwtSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}
