package service

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	uuid "github.com/google/uuid"

	"relaychat/platform"
)

var ErrInvalidToken = errors.New("invalid token")

// AccessDetails is the verified identity of a request.
type AccessDetails struct {
	AccessUUID string
	UserID     string
}

// TokenService verifies bearer tokens issued by the identity provider. Tokens are signed either
// with a shared HS256 secret or with the provider's RS256 key.
type TokenService struct {
	secret    []byte
	publicKey *rsa.PublicKey
	issuer    string
}

func NewTokenService(cfg platform.AuthConfig) (*TokenService, error) {
	t := &TokenService{secret: []byte(cfg.Secret), issuer: cfg.Issuer}
	if cfg.PublicKey != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse auth public key: %w", err)
		}
		t.publicKey = key
	}
	if len(t.secret) == 0 && t.publicKey == nil {
		return nil, errors.New("either auth.secret or auth.public_key must be set")
	}
	return t, nil
}

// CreateToken signs an HS256 token for userID. Used for local development and tests.
func (t *TokenService) CreateToken(userID string, ttl time.Duration) (string, error) {
	if len(t.secret) == 0 {
		return "", errors.New("auth.secret is not configured")
	}
	claims := jwt.MapClaims{
		"sub": userID,
		"jti": uuid.New().String(),
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	if t.issuer != "" {
		claims["iss"] = t.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *TokenService) ExtractToken(r *http.Request) string {
	bearToken := r.Header.Get("Authorization")
	//normally Authorization: Bearer the_token_xxx
	strArr := strings.Split(bearToken, " ")
	if len(strArr) == 2 && strings.EqualFold(strArr[0], "Bearer") {
		return strArr[1]
	}
	return ""
}

func (t *TokenService) VerifyToken(tokenString string) (*jwt.Token, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(t.secret) > 0 {
				return t.secret, nil
			}
		case *jwt.SigningMethodRSA:
			if t.publicKey != nil {
				return t.publicKey, nil
			}
		}
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return token, nil
}

// ExtractTokenMetadata verifies the bearer token of r and returns the user it was issued to.
func (t *TokenService) ExtractTokenMetadata(r *http.Request) (*AccessDetails, error) {
	token, err := t.VerifyToken(t.ExtractToken(r))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if t.issuer != "" && !claims.VerifyIssuer(t.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}

	userID := claimString(claims["sub"])
	if userID == "" {
		userID = claimString(claims["user_id"])
	}
	if userID == "" || len(userID) > 128 {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	accessUUID := claimString(claims["jti"])
	if accessUUID == "" {
		accessUUID = claimString(claims["access_uuid"])
	}
	return &AccessDetails{AccessUUID: accessUUID, UserID: userID}, nil
}

func claimString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
