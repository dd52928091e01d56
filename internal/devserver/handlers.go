package devserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"blinkchat-client/internal/auth"
	"blinkchat-client/internal/models"
	"blinkchat-client/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
)

const (
	authorizationHeaderKey  = "Authorization"
	authorizationTypeBearer = "bearer"
	authorizationPayloadKey = "userID"

	defaultPageSize = 20
	maxPageSize     = 100
)

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RegisterUserRequest captures the registration body.
type RegisterUserRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

func errorBody(code, message string) models.ErrorResponse {
	return models.ErrorResponse{Error: message, Code: code}
}

// AuthMiddleware validates bearer tokens and stores the user id.
func (s *Server) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(authorizationHeaderKey)
		if len(authHeader) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(websocket.CodeInvalidToken, "Authorization header is not provided"))
			return
		}

		fields := strings.Fields(authHeader)
		if len(fields) < 2 || strings.ToLower(fields[0]) != authorizationTypeBearer {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(websocket.CodeInvalidToken, "Invalid authorization header format"))
			return
		}

		userID, err := s.authenticate(fields[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(websocket.CodeInvalidToken, "Invalid or expired token"))
			return
		}

		c.Set(authorizationPayloadKey, userID)
		c.Next()
	}
}

func (s *Server) authenticate(token string) (uuid.UUID, error) {
	claims, err := s.issuer.Validate(token)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(claims.UserID)
}

func (s *Server) Register(c *gin.Context) {
	var req RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("", "Invalid request data"))
		return
	}

	user, err := s.CreateUser(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrEmailExists) {
			c.JSON(http.StatusConflict, errorBody("", "Email already exists"))
			return
		}
		s.log.Error().Err(err).Str("email", req.Email).Msg("register failed")
		c.JSON(http.StatusInternalServerError, errorBody("", "Failed to register user"))
		return
	}

	token, err := s.issuer.Generate(user.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("generate token failed")
		c.JSON(http.StatusInternalServerError, errorBody("", "Registration successful, but failed to generate token"))
		return
	}

	c.JSON(http.StatusCreated, models.LoginResponse{
		Message: "User registered successfully",
		Token:   token,
		User:    user.ToPublicUser(),
	})
}

func (s *Server) Login(c *gin.Context) {
	var req models.LoginUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("", "Invalid request data"))
		return
	}

	user, err := s.users.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, errorBody(websocket.CodeUserNotFound, "Invalid email or password"))
			return
		}
		s.log.Error().Err(err).Msg("login lookup failed")
		c.JSON(http.StatusInternalServerError, errorBody("", "Login failed"))
		return
	}

	if !auth.CheckPasswordHash(req.Password, user.HashedPassword) {
		c.JSON(http.StatusUnauthorized, errorBody(websocket.CodeAccessDenied, "Invalid email or password"))
		return
	}

	token, err := s.issuer.Generate(user.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("generate token failed")
		c.JSON(http.StatusInternalServerError, errorBody("", "Login successful, but failed to generate token"))
		return
	}

	c.JSON(http.StatusOK, models.LoginResponse{
		Message: "Login successful",
		Token:   token,
		User:    user.ToPublicUser(),
	})
}

func (s *Server) ListUsers(c *gin.Context) {
	users, err := s.users.ListUsers(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list users failed")
		c.JSON(http.StatusInternalServerError, errorBody("", "Failed to list users"))
		return
	}
	out := make([]*models.PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.ToPublicUser())
	}
	c.JSON(http.StatusOK, out)
}

// GetMessages returns one page of the conversation between the caller and
// target.
// GET /messages?target=<uuid>&page=<int>&page_size=<int>
func (s *Server) GetMessages(c *gin.Context) {
	userID := c.MustGet(authorizationPayloadKey).(uuid.UUID)

	target, err := uuid.Parse(c.Query("target"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("", "Invalid target format"))
		return
	}
	if _, err := s.users.GetUserByID(c.Request.Context(), target); err != nil {
		c.JSON(http.StatusNotFound, errorBody(websocket.CodeUserNotFound, "User not found"))
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		page = 0
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if err != nil || pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	records, err := s.messages.GetConversation(c.Request.Context(), userID, target, page, pageSize)
	if err != nil {
		s.log.Error().Err(err).Msg("get conversation failed")
		c.JSON(http.StatusInternalServerError, errorBody("", "Failed to retrieve messages"))
		return
	}
	c.JSON(http.StatusOK, records)
}

// HandleWebSocketConnection authenticates the token query parameter and
// upgrades the request.
// GET /ws?token=<jwt>
func (s *Server) HandleWebSocketConnection(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		if fields := strings.Fields(c.GetHeader(authorizationHeaderKey)); len(fields) == 2 {
			token = fields[1]
		}
	}
	if token == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	userID, err := s.authenticate(token)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket token rejected")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	if _, err := s.users.GetUserByID(c.Request.Context(), userID); err != nil {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("user", userID.String()).Msg("upgrade failed")
		return
	}

	client := NewClient(s.hub, conn, userID)
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	case <-time.After(writeWait):
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
