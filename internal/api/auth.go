package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// accessTokenTTL bounds how long a stolen token stays useful.
const accessTokenTTL = time.Hour

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

type loginRequest struct {
	Token string `json:"token" binding:"required"`
}

// handleLogin exchanges the operator token for a short-lived JWT. The
// token itself is never stored; the config carries only a bcrypt hash.
func (s *Server) handleLogin(c *gin.Context) {
	if !s.authEnabled {
		errorResponse(c, http.StatusNotFound, "authentication disabled")
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "token is required")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.AuthTokenHash), []byte(req.Token)); err != nil {
		s.logger.Warn().Str("ip", c.ClientIP()).Msg("login rejected")
		errorResponse(c, http.StatusUnauthorized, "invalid operator token")
		return
	}

	signed, err := s.generateAccessToken()
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "token generation failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": signed,
		"token_type":   "Bearer",
		"expires_in":   int64(accessTokenTTL.Seconds()),
	})
}

func (s *Server) generateAccessToken() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator",
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
		Issuer:    "momentum-trading-bot",
	})
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *Server) validateAccessToken(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// authMiddleware guards the /api group with a bearer JWT.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			errorResponse(c, http.StatusUnauthorized, "authorization required")
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			errorResponse(c, http.StatusUnauthorized, "authorization header must be Bearer <token>")
			c.Abort()
			return
		}

		if err := s.validateAccessToken(parts[1]); err != nil {
			errorResponse(c, http.StatusUnauthorized, err.Error())
			c.Abort()
			return
		}
		c.Next()
	}
}
