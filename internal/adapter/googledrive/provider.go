package googledrive

import (
	"context"
	"fmt"

	"github.com/attachflow/relay/internal/adapter"
	"github.com/attachflow/relay/internal/auth"
)

// Provider implements adapter.StorageProvider for Google Drive.
type Provider struct {
	authService *auth.AuthService
}

// NewProvider creates a new Google Drive provider.
func NewProvider(authService *auth.AuthService) *Provider {
	return &Provider{authService: authService}
}

// GetStorageSink returns a DriveSink for the given user ID.
func (p *Provider) GetStorageSink(ctx context.Context, userID string) (adapter.StorageSink, error) {
	client, err := p.authService.GetClient(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	sink, err := NewDriveSink(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive sink: %w", err)
	}

	return sink, nil
}
