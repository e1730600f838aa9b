package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/attachflow/relay/internal/crypto"
	"github.com/attachflow/relay/internal/model"
	"golang.org/x/oauth2"
)

// providerGoogle is the only provider currently wired; the storage schema
// keys on (user_id, provider) so more can be added without a migration.
const providerGoogle = "google"

// expiryLeeway is how early a token counts as expired, so a token that dies
// mid-request is refreshed before use instead.
const expiryLeeway = time.Minute

// AuthService handles OAuth2 authentication flows and token management.
// Refresh tokens are KMS-encrypted at rest; access tokens are cached in the
// same row and refreshed on demand.
type AuthService struct {
	oauthConfig  *oauth2.Config
	dynamoClient *dynamodb.Client
	tableName    string
	kmsService   crypto.Encryptor

	// In-memory fallback when no DynamoDB client is configured (dev mode).
	tokens map[string]model.UserToken
	mu     sync.RWMutex

	// refreshMu serializes token refresh per user, so concurrent callers
	// trigger exactly one upstream refresh and the rest observe its result.
	refreshMu   sync.Mutex
	userRefresh map[string]*sync.Mutex
}

// NewAuthService creates a new AuthService.
// The oauthConfig should be constructed by the caller (e.g., from environment variables).
func NewAuthService(oauthConfig *oauth2.Config, dynamoClient *dynamodb.Client, tableName string, kmsService crypto.Encryptor) *AuthService {
	return &AuthService{
		oauthConfig:  oauthConfig,
		dynamoClient: dynamoClient,
		tableName:    tableName,
		kmsService:   kmsService,
		tokens:       make(map[string]model.UserToken),
		userRefresh:  make(map[string]*sync.Mutex),
	}
}

// Config returns the OAuth2 config.
func (s *AuthService) Config() *oauth2.Config {
	return s.oauthConfig
}

// GenerateAuthURL returns the URL to redirect the user to for Google login.
func (s *AuthService) GenerateAuthURL(state string) string {
	return s.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges the authorization code for an access token.
func (s *AuthService) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return s.oauthConfig.Exchange(ctx, code)
}

// SaveToken encrypts the refresh token and stores the credential bundle.
// A save replaces the user's existing bundle; there is never more than one
// row per (user, provider).
func (s *AuthService) SaveToken(ctx context.Context, userID string, token *oauth2.Token) error {
	if token.RefreshToken == "" {
		return fmt.Errorf("no refresh token in response")
	}

	encrypted, err := s.kmsService.Encrypt(ctx, token.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	userToken := model.UserToken{
		UserID:                userID,
		Provider:              providerGoogle,
		AccessToken:           token.AccessToken,
		EncryptedRefreshToken: encrypted,
		ProviderToken:         token.AccessToken,
		Expiry:                token.Expiry,
		UpdatedAt:             time.Now(),
	}
	return s.putToken(ctx, userToken)
}

func (s *AuthService) putToken(ctx context.Context, userToken model.UserToken) error {
	if s.dynamoClient == nil {
		s.mu.Lock()
		s.tokens[userToken.UserID] = userToken
		s.mu.Unlock()
		return nil
	}

	item, err := attributevalue.MarshalMap(userToken)
	if err != nil {
		return fmt.Errorf("failed to marshal user token: %w", err)
	}

	_, err = s.dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save token to DynamoDB: %w", err)
	}
	return nil
}

// GetUserToken retrieves the stored credential bundle for the user.
func (s *AuthService) GetUserToken(ctx context.Context, userID string) (*model.UserToken, error) {
	if s.dynamoClient == nil {
		s.mu.RLock()
		t, ok := s.tokens[userID]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("user not found")
		}
		return &t, nil
	}

	out, err := s.dynamoClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"user_id":  &types.AttributeValueMemberS{Value: userID},
			"provider": &types.AttributeValueMemberS{Value: providerGoogle},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user not found")
	}

	var userToken model.UserToken
	if err := attributevalue.UnmarshalMap(out.Item, &userToken); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user token: %w", err)
	}
	return &userToken, nil
}

// FreshToken returns a valid access token for the user, refreshing through
// the OAuth2 endpoint when the cached one is expired or about to expire.
// Concurrent callers for the same user share a single refresh: the first
// caller performs it, the rest block on the per-user lock and then observe
// the refreshed bundle.
func (s *AuthService) FreshToken(ctx context.Context, userID string) (*oauth2.Token, error) {
	userToken, err := s.GetUserToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	if userToken.AccessToken != "" && !userToken.Expired(expiryLeeway) {
		return &oauth2.Token{AccessToken: userToken.AccessToken, Expiry: userToken.Expiry}, nil
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: another caller may have refreshed already.
	userToken, err = s.GetUserToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	if userToken.AccessToken != "" && !userToken.Expired(expiryLeeway) {
		return &oauth2.Token{AccessToken: userToken.AccessToken, Expiry: userToken.Expiry}, nil
	}

	return s.refreshToken(ctx, userToken)
}

// ForceRefresh discards the stored access token and performs one refresh
// immediately, for when the provider rejected a token the cache still
// considered valid (revocation, clock skew). It shares the per-user lock
// with FreshToken, so concurrent refreshes stay single-flight.
func (s *AuthService) ForceRefresh(ctx context.Context, userID string) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	userToken, err := s.GetUserToken(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.refreshToken(ctx, userToken)
	return err
}

func (s *AuthService) userLock(userID string) *sync.Mutex {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	lock, ok := s.userRefresh[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userRefresh[userID] = lock
	}
	return lock
}

func (s *AuthService) refreshToken(ctx context.Context, userToken *model.UserToken) (*oauth2.Token, error) {
	refreshToken, err := s.kmsService.Decrypt(ctx, userToken.EncryptedRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	seed := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}
	token, err := s.oauthConfig.TokenSource(ctx, seed).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh access token: %w", err)
	}

	updated := *userToken
	updated.AccessToken = token.AccessToken
	updated.ProviderToken = token.AccessToken
	updated.Expiry = token.Expiry
	updated.UpdatedAt = time.Now()
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		encrypted, err := s.kmsService.Encrypt(ctx, token.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt rotated refresh token: %w", err)
		}
		updated.EncryptedRefreshToken = encrypted
	}
	if err := s.putToken(ctx, updated); err != nil {
		return nil, err
	}
	return token, nil
}

// ProviderToken returns the delegated Google access token used by the
// fallback transport, refreshing it first when expired.
func (s *AuthService) ProviderToken(ctx context.Context, userID string) (string, error) {
	token, err := s.FreshToken(ctx, userID)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// GetClient returns an authenticated http.Client for the user. The client's
// token source refreshes through FreshToken, so its refreshes are also
// single-flight per user.
func (s *AuthService) GetClient(ctx context.Context, userID string) (*http.Client, error) {
	// Fail fast if the user has no stored credentials.
	if _, err := s.GetUserToken(ctx, userID); err != nil {
		return nil, err
	}
	src := &serviceTokenSource{ctx: ctx, svc: s, userID: userID}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, src)), nil
}

type serviceTokenSource struct {
	ctx    context.Context
	svc    *AuthService
	userID string
}

func (t *serviceTokenSource) Token() (*oauth2.Token, error) {
	return t.svc.FreshToken(t.ctx, t.userID)
}
