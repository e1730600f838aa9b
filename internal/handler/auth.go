package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/attachflow/relay/internal/auth"
	xoauth2 "golang.org/x/oauth2"
	"google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// AuthHandler handles authentication requests.
type AuthHandler struct {
	authService *auth.AuthService
	jwtSecret   string
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s *auth.AuthService, jwtSecret string) *AuthHandler {
	return &AuthHandler{authService: s, jwtSecret: jwtSecret}
}

// Login initiates the Google OAuth2 flow.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	// TODO: Generate a secure random state and store it in a cookie to prevent CSRF
	state := "random-state"
	url := h.authService.GenerateAuthURL(state)

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": url,
		},
	}, nil
}

// Callback handles the OAuth2 callback from Google. A successful exchange
// stores the credential bundle and issues a session JWT cookie.
func (h *AuthHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	code := req.QueryStringParameters["code"]
	if code == "" {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest, Body: "Missing code"}, nil
	}

	token, err := h.authService.ExchangeCode(ctx, code)
	if err != nil {
		fmt.Printf("ExchangeCode error: %v\n", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Failed to exchange code"}, nil
	}

	// Get User Info from Google
	oauth2Service, err := oauth2.NewService(ctx, option.WithTokenSource(h.authService.Config().TokenSource(ctx, token)))
	if err != nil {
		fmt.Printf("NewService error: %v\n", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Failed to create oauth2 service"}, nil
	}

	userinfo, err := oauth2Service.Userinfo.Get().Do()
	if err != nil {
		fmt.Printf("Userinfo error: %v\n", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Failed to get user info"}, nil
	}

	// We use userinfo.Id (Google Subject ID) as UserID.
	userID := userinfo.Id

	if err := h.authService.SaveToken(ctx, userID, token); err != nil {
		// Google omits the refresh token on repeat consent; the stored one
		// stays valid, so proceed with the session.
		fmt.Printf("SaveToken error: %v\n", err)
	}

	signedToken, err := h.signSession(userID, userinfo.Email, userinfo.Name, 24*time.Hour)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Failed to sign token"}, nil
	}

	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = "http://localhost:3000"
	}

	// Determine Cookie Settings based on Environment
	sameSite := "Lax"
	if os.Getenv("DEV_MODE") != "true" {
		sameSite = "None"
	}

	cookie := fmt.Sprintf("session_token=%s; HttpOnly; Path=/; Max-Age=86400; SameSite=%s; Secure", signedToken, sameSite)

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": fmt.Sprintf("%s/?success=true", frontendURL),
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {cookie},
		},
	}, nil
}

// GetUser returns the current user's profile.
func (h *AuthHandler) GetUser(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}

	token, err := h.authService.GetUserToken(ctx, userID)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "Failed to get user profile"), nil
	}

	return jsonResponse(http.StatusOK, map[string]string{
		"id":         token.UserID,
		"provider":   token.Provider,
		"updated_at": token.UpdatedAt.Format(time.RFC3339),
	}), nil
}

// DemoLogin issues a temporary JWT without Google OAuth, for dev mode.
func (h *AuthHandler) DemoLogin(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID := fmt.Sprintf("demo-user-%s", uuid.New().String())
	email := "demo@attachflow.local"

	// Save a dummy credential bundle so profile and flow lookups work.
	dummyToken := &xoauth2.Token{
		AccessToken:  "dummy-access-token",
		RefreshToken: "dummy-refresh-token",
		Expiry:       time.Now().Add(1 * time.Hour),
		TokenType:    "Bearer",
	}
	if err := h.authService.SaveToken(ctx, userID, dummyToken); err != nil {
		fmt.Printf("DemoLogin SaveToken error: %v\n", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Failed to save demo user token"}, nil
	}

	signedToken, err := h.signSession(userID, email, "Demo User", 1*time.Hour)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Failed to sign token"}, nil
	}

	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = "http://localhost:3000"
	}

	cookie := fmt.Sprintf("session_token=%s; HttpOnly; Path=/; Max-Age=86400; SameSite=Lax; Secure", signedToken)

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": fmt.Sprintf("%s/?token=%s", frontendURL, signedToken),
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {cookie},
		},
	}, nil
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	// SameSite should match Login/DemoLogin
	sameSite := "Lax"
	if os.Getenv("DEV_MODE") != "true" {
		sameSite = "None"
	}

	cookie := fmt.Sprintf("session_token=; HttpOnly; Path=/; Max-Age=0; SameSite=%s; Secure", sameSite)

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Body:       `{"success":true}`,
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {cookie},
		},
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}, nil
}

func (h *AuthHandler) signSession(userID, email, name string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"name":  name,
		"exp":   time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.jwtSecret))
}
