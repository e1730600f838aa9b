package gmail

import (
	"context"
	"fmt"

	"github.com/attachflow/relay/internal/adapter"
	"github.com/attachflow/relay/internal/auth"
)

// Provider implements adapter.MailProvider for Gmail.
type Provider struct {
	authService *auth.AuthService
}

// NewProvider creates a new Gmail provider.
func NewProvider(authService *auth.AuthService) *Provider {
	return &Provider{authService: authService}
}

// GetMailSource returns a Gmail MailSource for the given user ID.
func (p *Provider) GetMailSource(ctx context.Context, userID string) (adapter.MailSource, error) {
	client, err := p.authService.GetClient(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	source, err := NewMailSource(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail source: %w", err)
	}

	return source, nil
}
