package middleware

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 7 * 24 * time.Hour

type Claims struct {
	SessionID uuid.UUID `json:"sid"`
	Admin     bool      `json:"adm"`
	jwt.RegisteredClaims
}

// Auth issues and checks admin session tokens.
type Auth struct {
	adminToken string
	secret     []byte
	now        func() time.Time
}

func NewAuth(adminToken, secret string) *Auth {
	return &Auth{adminToken: adminToken, secret: []byte(secret), now: time.Now}
}

// CheckAdminToken compares a login attempt with the configured admin token,
// which may be stored as a bcrypt hash.
func (a *Auth) CheckAdminToken(candidate string) bool {
	if candidate == "" {
		return false
	}
	if strings.HasPrefix(a.adminToken, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(a.adminToken), []byte(candidate)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(a.adminToken), []byte(candidate)) == 1
}

func (a *Auth) GenerateToken() (string, error) {
	now := a.now()
	claims := Claims{
		SessionID: uuid.New(),
		Admin:     true,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "klibrarian",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Parse validates a session token and returns its claims.
func (a *Auth) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || !claims.Admin {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (a *Auth) Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "Missing authorization header")
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return unauthorized(c, "Invalid authorization format")
		}

		claims, err := a.Parse(tokenString)
		if err != nil {
			return unauthorized(c, "Invalid or expired token")
		}

		c.Locals("sessionId", claims.SessionID)
		return c.Next()
	}
}

// GetSessionID extracts the admin session id from context
func GetSessionID(c *fiber.Ctx) uuid.UUID {
	id, ok := c.Locals("sessionId").(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"ok":    false,
		"error": msg,
		"code":  "unauthorized",
	})
}
