package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"directchat/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

const (
	ctxUserID = "userID"
	ctxUser   = "user"
)

type Claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// UserFinder is the slice of the user store the middleware needs.
type UserFinder interface {
	FindUserByID(ctx context.Context, id string) (*models.User, error)
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func GenerateAccessToken(userID, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// BearerToken extracts a token from the Authorization header, falling back to
// the "token" query parameter or an "access_token, <token>" websocket
// subprotocol offer, which is all a browser websocket can send.
func BearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if proto := r.Header.Get("Sec-WebSocket-Protocol"); proto != "" {
		parts := strings.Split(proto, ",")
		if len(parts) == 2 && strings.TrimSpace(parts[0]) == "access_token" {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

// Authenticate verifies the request credential and loads its user. It is the
// single check shared by the REST middleware and the websocket handshake.
func Authenticate(r *http.Request, secret string, users UserFinder) (*models.User, error) {
	tokenStr := BearerToken(r)
	if tokenStr == "" {
		return nil, ErrMissingToken
	}
	claims, err := ParseAccessToken(tokenStr, secret)
	if err != nil {
		return nil, ErrInvalidToken
	}
	user, err := users.FindUserByID(r.Context(), claims.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return user, nil
}

func AuthMiddleware(secret string, users UserFinder) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := Authenticate(c.Request, secret, users)
		if err != nil {
			msg := "Not authorized, token failed"
			if errors.Is(err, ErrMissingToken) {
				msg = "Not authorized, no token"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"statusCode": http.StatusUnauthorized, "success": false, "message": msg, "data": nil})
			return
		}
		c.Set(ctxUserID, user.ID)
		c.Set(ctxUser, user)
		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func GetUser(c *gin.Context) *models.User {
	if v, ok := c.Get(ctxUser); ok {
		if u, ok2 := v.(*models.User); ok2 {
			return u
		}
	}
	return nil
}
