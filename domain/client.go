package domain

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ClientType defines the type of client application. Confidential or Public
type ClientType string

const (
	// ClientTypeConfidential clients can securely store secrets
	ClientTypeConfidential ClientType = "confidential"
	// ClientTypePublic clients cannot securely store secrets (mobile apps, SPAs)
	ClientTypePublic ClientType = "public"
)

// Client represents a registered OAuth2 client application.
//
//nolint:tagliatelle
type Client struct {
	ID                string     `bson:"client_id"                   json:"client_id"`
	SecretHash        string     `bson:"client_secret,omitempty"     json:"-"`
	Type              ClientType `bson:"client_type"                 json:"type"`
	Name              string     `bson:"client_name"                 json:"name"`
	RedirectURIs      []string   `bson:"redirect_uris"               json:"redirect_uris"`
	AllowedScopes     []string   `bson:"allowed_scopes"              json:"allowed_scopes"`
	AllowedGrantTypes []string   `bson:"allowed_grant_types"         json:"allowed_grant_types"`
	RequireConsent    bool       `bson:"require_consent"             json:"require_consent"`
	RequirePKCE       bool       `bson:"require_pkce"                json:"require_pkce"`
	RequirePKCES256   bool       `bson:"require_pkce_s256,omitempty" json:"require_pkce_s256,omitempty"`
	IsActive          bool       `bson:"is_active"                   json:"is_active"`
	CreatedAt         time.Time  `bson:"created_at"                  json:"created_at"`
	UpdatedAt         time.Time  `bson:"updated_at"                  json:"updated_at"`
}

// SetSecret hashes and stores the client secret. The plaintext is never kept.
func (c *Client) SetSecret(secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	c.SecretHash = string(hash)
	return nil
}

// CheckSecret verifies a presented client secret against the stored hash.
func (c *Client) CheckSecret(secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)) == nil
}

// HasRedirectURI reports whether uri exactly matches a registered redirect
// URI. Matching is strict equality: prefix or pattern matching would open the
// door to open-redirect attacks.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// HasGrantType reports whether the client may use the given grant type.
func (c *Client) HasGrantType(grantType string) bool {
	for _, g := range c.AllowedGrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowsScopes reports whether every requested scope is allowed for the
// client, returning the first disallowed scope otherwise.
func (c *Client) AllowsScopes(scopes []string) (string, bool) {
	allowed := make(map[string]struct{}, len(c.AllowedScopes))
	for _, s := range c.AllowedScopes {
		allowed[s] = struct{}{}
	}
	for _, s := range scopes {
		if _, ok := allowed[s]; !ok {
			return s, false
		}
	}
	return "", true
}

// ClientRepository defines the interface for client storage and retrieval.
//
//go:generate mockgen -source=$GOFILE -destination=../mocks/mock_$GOPACKAGE/mock_$GOFILE -package=mock_$GOPACKAGE
type ClientRepository interface {
	CreateClient(ctx context.Context, client *Client) error
	GetClient(ctx context.Context, clientID string) (*Client, error)
	UpdateClient(ctx context.Context, client *Client) error
	DeleteClient(ctx context.Context, clientID string) error
	ListClients(ctx context.Context) ([]*Client, error)
}
