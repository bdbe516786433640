package auth

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/trialmatch-ai/platform/pkg/common/logger"
	"golang.org/x/oauth2"
)

type OIDCAuthenticator struct {
	config *oauth2.Config
	issuer string
}

func NewOIDCAuthenticator(issuer, clientID, clientSecret string) (*OIDCAuthenticator, error) {
	if issuer == "" || clientID == "" {
		return nil, fmt.Errorf("OIDC configuration incomplete")
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  fmt.Sprintf("%s/authorize", issuer),
			TokenURL: fmt.Sprintf("%s/token", issuer),
		},
		Scopes: []string{"openid", "profile", "email"},
	}

	return &OIDCAuthenticator{
		config: config,
		issuer: issuer,
	}, nil
}

func (a *OIDCAuthenticator) ValidateToken(ctx context.Context, token string) (map[string]interface{}, error) {
	// In production, validate JWT token with issuer
	if token == "" {
		return nil, fmt.Errorf("token is empty")
	}

	// Placeholder claims until issuer-backed validation lands
	logger.Log.Debug("Token validation (placeholder)")

	return map[string]interface{}{
		"sub":   "user123",
		"email": "user@example.com",
	}, nil
}

func (a *OIDCAuthenticator) GetMTLSConfig() *tls.Config {
	return &tls.Config{
		ClientAuth: tls.RequireAndVerifyClientCert,
	}
}
