package auth

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/zrobank/otc-settlement/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

// Credentials registered for non-production environments and the simulation.
var (
	TestAPIKey    = "test-api-key"
	TestAPISecret = "test-api-secret"
)

// Scopes granted to desk tokens. The ops API only distinguishes read access
// from mutating access; internal endpoints use a separate shared secret.
var deskScopes = []string{"settlement:read", "settlement:write"}

const tokenTTL = 24 * time.Hour

// Credentials is the key pair a settlement desk authenticates with.
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims carried by a desk token. ClientID is the desk's API key; the
// middleware requires it alongside the standard expiry claim.
type Claims struct {
	jwt.RegisteredClaims
	ClientID    string   `json:"client_id"`
	Permissions []string `json:"permissions"`
}

// Service issues and validates desk tokens. Credentials are held in memory
// and registered at startup from configuration.
type Service struct {
	jwtSecret   []byte
	credentials map[string]string
}

func NewService(jwtSecret string) *Service {
	return &Service{
		jwtSecret:   []byte(jwtSecret),
		credentials: make(map[string]string),
	}
}

// RegisterAPICredentials adds a desk key pair to the accepted set.
func (s *Service) RegisterAPICredentials(apiKey, apiSecret string) {
	s.credentials[apiKey] = apiSecret
}

// GenerateToken exchanges valid desk credentials for a signed token carrying
// the settlement scopes.
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	secret, ok := s.credentials[creds.APIKey]
	if !ok || secret != creds.APISecret {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	expiration := now.Add(tokenTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		ClientID:    creds.APIKey,
		Permissions: deskScopes,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      signed,
		Expiration: expiration,
	}, nil
}

// ValidateToken parses a desk token, checking the signature method and expiry.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateTokenHandler exchanges posted desk credentials for a token.
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}
