package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleCustomer = "customer"
	RolePartner  = "partner"
	RoleAdmin    = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the caller identity. The subject is the user id.
type Claims struct {
	Role      string `json:"role"`
	PartnerID *int64 `json:"partner_id,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// Identity is the caller a validated token speaks for.
type Identity struct {
	UserID    int64
	Role      string
	PartnerID *int64
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// GenerateToken signs an HS256 token for the user.
func (i *Issuer) GenerateToken(userID int64, role string, partnerID *int64) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role:      role,
		PartnerID: partnerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// ValidateToken rejects forged, expired and non-HS256 tokens as well as
// tokens without a numeric subject or a known role.
func (i *Issuer) ValidateToken(tokenString string) (*Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}
	switch claims.Role {
	case RoleCustomer, RolePartner, RoleAdmin:
	default:
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: userID, Role: claims.Role, PartnerID: claims.PartnerID}, nil
}
