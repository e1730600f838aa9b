package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/attachflow/relay/internal/adapter"
	"github.com/attachflow/relay/internal/adapter/gmail"
	"github.com/attachflow/relay/internal/adapter/googledrive"
	"github.com/attachflow/relay/internal/adapter/memory"
	"github.com/attachflow/relay/internal/auth"
	"github.com/attachflow/relay/internal/crypto"
	"github.com/attachflow/relay/internal/handler"
	"github.com/attachflow/relay/internal/model"
	"github.com/attachflow/relay/internal/payload"
	"github.com/attachflow/relay/internal/progress"
	"github.com/attachflow/relay/internal/relay"
	"github.com/attachflow/relay/internal/runlock"
	"github.com/attachflow/relay/internal/runner"
	"github.com/attachflow/relay/internal/secret"
	"github.com/attachflow/relay/internal/store"
)

// App holds the dependencies for the Lambda function.
type App struct {
	authHandler      *handler.AuthHandler
	flowHandler      *handler.FlowHandler
	executeHandler   *handler.ExecuteHandler
	scriptHandler    *handler.ScriptHandler
	webhookHandler   *handler.WebhookHandler
	apiGatewaySecret string
}

// NewApp initializes the application dependencies.
func NewApp(ctx context.Context) *App {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		panic(fmt.Sprintf("unable to load SDK config, %v", err))
	}
	devMode := os.Getenv("DEV_MODE") == "true"

	// DynamoDB Client (token bundles and run locks)
	dynamoClient := dynamodb.NewFromConfig(cfg)

	// KMS Client
	var kmsService crypto.Encryptor
	if devMode {
		kmsService = crypto.NewMockEncryptor()
		fmt.Println("Using MockEncryptor (DEV_MODE=true)")
	} else {
		kmsClient := kms.NewFromConfig(cfg)
		kmsKeyID := os.Getenv("KMS_KEY_ID")
		if kmsKeyID == "" {
			kmsKeyID = "alias/attachflow-token-key"
		}
		kmsService = crypto.NewKMSService(kmsClient, kmsKeyID)
	}

	userTokensTable := os.Getenv("USER_TOKENS_TABLE")
	if userTokensTable == "" {
		userTokensTable = "UserTokens"
	}

	// ---------- Secret Resolver ----------
	var resolver secret.Resolver
	if devMode {
		resolver = secret.NewEnvResolver()
		fmt.Println("Using EnvResolver (DEV_MODE=true)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(cfg))
		fmt.Println("Using SSMResolver (SSM Parameter Store)")
	}

	googleClientSecret := resolveSecret(ctx, resolver, "GOOGLE_CLIENT_SECRET_PARAM", "/attachflow/google-client-secret", "")
	jwtSecret := resolveSecret(ctx, resolver, "JWT_SECRET_PARAM", "/attachflow/jwt-secret", "default-dev-secret")
	apiGatewaySecret := resolveSecret(ctx, resolver, "API_GATEWAY_SECRET_PARAM", "/attachflow/api-gateway-secret", "")
	scriptSecret := resolveSecret(ctx, resolver, "SCRIPT_SECRET_PARAM", "/attachflow/script-secret", "default-dev-script-secret")
	relayAPIKey := resolveSecret(ctx, resolver, "RELAY_API_KEY_PARAM", "/attachflow/relay-api-key", "")

	// OAuth2 Config
	redirectURL := os.Getenv("GOOGLE_REDIRECT_URL")
	if redirectURL == "" {
		if devMode {
			redirectURL = "http://localhost:8080/auth/callback"
		} else {
			frontendURL := os.Getenv("FRONTEND_URL")
			if frontendURL == "" {
				frontendURL = "http://localhost:3000"
			}
			redirectURL = frontendURL + "/api/auth/callback"
		}
	}

	oauthConfig := &oauth2.Config{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: googleClientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/gmail.readonly",
			"https://www.googleapis.com/auth/drive",
			"https://www.googleapis.com/auth/userinfo.email",
		},
		Endpoint: google.Endpoint,
	}

	authService := auth.NewAuthService(oauthConfig, dynamoClient, userTokensTable, kmsService)

	// Mail and storage providers. The script runtime reads Gmail and writes
	// Drive as the user; dev mode swaps both for the in-memory pair.
	var mailProvider adapter.MailProvider
	var storageProvider adapter.StorageProvider
	if devMode {
		provider := memory.NewProvider()
		mailProvider = provider
		storageProvider = provider
		fmt.Println("Using in-memory mail and storage providers (DEV_MODE=true)")
	} else {
		mailProvider = gmail.NewProvider(authService)
		storageProvider = googledrive.NewProvider(authService)
	}

	// Flow store: Postgres when DATABASE_URL is set, in-memory otherwise.
	var flowStore store.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pg, err := store.NewPostgresStore(ctx, dbURL)
		if err != nil {
			panic(fmt.Sprintf("unable to connect to postgres, %v", err))
		}
		if err := pg.Migrate(ctx); err != nil {
			panic(fmt.Sprintf("unable to migrate postgres schema, %v", err))
		}
		flowStore = pg
		fmt.Println("Using PostgresStore (DATABASE_URL set)")
	} else {
		flowStore = store.NewMemoryStore()
		fmt.Println("Using MemoryStore (no DATABASE_URL)")
	}

	// Run locks (FlowRunLocks Table)
	var locker runlock.Locker
	if devMode {
		locker = runlock.NewMockLocker()
	} else {
		locksTable := os.Getenv("FLOW_RUN_LOCKS_TABLE")
		if locksTable == "" {
			locksTable = "FlowRunLocks"
		}
		locker = runlock.NewLockManager(dynamoClient, locksTable)
	}

	// Progress channel and the webhook URL the script runtime posts back to.
	channel := progress.NewChannel(progress.DefaultRetention)
	webhookURL := os.Getenv("PROGRESS_WEBHOOK_URL")

	builder := payload.NewBuilder("relay-api")

	relayEndpoint := os.Getenv("RELAY_ENDPOINT")
	fallbackEndpoint := os.Getenv("RELAY_FALLBACK_ENDPOINT")
	relayFor := newRelayFactory(authService, relayEndpoint, fallbackEndpoint, relayAPIKey)

	// In dev mode the webhook round trip is pointless; feed the channel
	// directly instead.
	var notifierFor handler.NotifierFactory
	if devMode {
		notifierFor = func(p model.JobPayload) runner.Notifier {
			return runner.FuncNotifier(func(event model.ProgressEvent) {
				channel.Ingest(event)
			})
		}
	}

	return &App{
		authHandler:      handler.NewAuthHandler(authService, jwtSecret),
		flowHandler:      handler.NewFlowHandler(flowStore, jwtSecret),
		executeHandler:   handler.NewExecuteHandler(flowStore, locker, builder, relayFor, authService, jwtSecret, webhookURL, scriptSecret),
		scriptHandler:    handler.NewScriptHandler(scriptSecret, mailProvider, storageProvider, runner.DefaultConfig(), notifierFor),
		webhookHandler:   handler.NewWebhookHandler(channel),
		apiGatewaySecret: apiGatewaySecret,
	}
}

// resolveSecret reads one secret through the resolver, with an env var for
// the parameter name and a fallback value when resolution fails.
func resolveSecret(ctx context.Context, resolver secret.Resolver, envName, defaultParam, fallback string) string {
	param := os.Getenv(envName)
	if param == "" {
		param = defaultParam
	}
	value, err := resolver.GetSecret(ctx, param)
	if err != nil {
		log.Printf("WARNING: failed to resolve %s: %v", param, err)
		return fallback
	}
	return value
}

// newRelayFactory builds per-user relay clients. The primary transport rides
// the user's oauth2 client; the fallback posts the delegated token directly
// to the alternate endpoint with the gateway API key.
func newRelayFactory(authService *auth.AuthService, endpoint, fallbackEndpoint, apiKey string) handler.RelayFactory {
	return func(ctx context.Context, userID string) (*relay.Client, error) {
		client, err := authService.GetClient(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get authenticated client: %w", err)
		}
		primary := &relay.HTTPTransport{
			TransportName: "script-api",
			Endpoint:      endpoint,
			Client:        client,
		}

		var fallback relay.Transport
		if fallbackEndpoint != "" {
			token, err := authService.ProviderToken(ctx, userID)
			if err != nil {
				log.Printf("WARNING: no fallback transport for user %s: %v", userID, err)
			} else {
				fallback = &relay.HTTPTransport{
					TransportName: "direct",
					Endpoint:      fallbackEndpoint,
					Bearer:        token,
					APIKey:        apiKey,
				}
			}
		}

		return relay.NewClient(primary, fallback, relay.DefaultPolicy()), nil
	}
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := req.Path
	method := req.HTTPMethod

	fmt.Printf("Request: %s %s\n", method, path)

	// CORS Preflight
	if method == "OPTIONS" {
		return corsResponse(events.APIGatewayProxyResponse{StatusCode: 204}), nil
	}

	// Security: Verify Request Origin (CloudFront only)
	// Skip check for OPTIONS (preflight) and if DEV_MODE is true
	if os.Getenv("DEV_MODE") != "true" {
		if req.Headers["X-Origin-Verify"] != app.apiGatewaySecret && req.Headers["x-origin-verify"] != app.apiGatewaySecret {
			fmt.Printf("Security Block: Missing or invalid X-Origin-Verify header\n")
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusForbidden,
				Body:       "Forbidden: Access denied",
			}, nil
		}
	}

	// Router logic
	// Strip /api prefix if present (for CloudFront proxying)
	if strings.HasPrefix(path, "/api") {
		path = strings.TrimPrefix(path, "/api")
	}

	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}

	// /auth
	if strings.HasPrefix(path, "/auth") {
		if path == "/auth/login" && method == "GET" {
			return corsResponse(must(app.authHandler.Login(ctx, req))), nil
		}
		if path == "/auth/callback" && method == "GET" {
			return corsResponse(must(app.authHandler.Callback(ctx, req))), nil
		}
		if path == "/auth/demo-login" && method == "GET" {
			return corsResponse(must(app.authHandler.DemoLogin(ctx, req))), nil
		}
		if path == "/auth/logout" && method == "POST" {
			return corsResponse(must(app.authHandler.Logout(ctx, req))), nil
		}
		if path == "/auth/user" && method == "GET" {
			return corsResponse(must(app.authHandler.GetUser(ctx, req))), nil
		}
	}

	// /flows
	if strings.HasPrefix(path, "/flows") {
		if path == "/flows" && method == "GET" {
			return corsResponse(must(app.flowHandler.ListFlows(ctx, req))), nil
		}
		if path == "/flows" && method == "POST" {
			return corsResponse(must(app.flowHandler.CreateFlow(ctx, req))), nil
		}
		if path == "/flows/execute" && method == "POST" {
			return corsResponse(must(app.executeHandler.Execute(ctx, req))), nil
		}
		// /flows/{flowId} and /flows/{flowId}/runs
		if len(path) > len("/flows/") {
			pathParts := strings.Split(strings.Trim(path, "/"), "/")
			if len(pathParts) == 3 && pathParts[2] == "runs" && method == "GET" {
				req.PathParameters["flowId"] = pathParts[1]
				return corsResponse(must(app.flowHandler.ListRuns(ctx, req))), nil
			}
			if len(pathParts) == 2 {
				req.PathParameters["flowId"] = pathParts[1]
				if method == "GET" {
					return corsResponse(must(app.flowHandler.GetFlow(ctx, req))), nil
				}
				if method == "PUT" {
					return corsResponse(must(app.flowHandler.UpdateFlow(ctx, req))), nil
				}
				if method == "DELETE" {
					return corsResponse(must(app.flowHandler.DeleteFlow(ctx, req))), nil
				}
			}
		}
	}

	// /script is the runtime-side endpoint: it receives the {secret, payload}
	// envelope, not a browser session, so no CORS headers.
	if path == "/script" && method == "POST" {
		return must(app.scriptHandler.Handle(ctx, req)), nil
	}

	// /webhook/progress
	if path == "/webhook/progress" && method == "POST" {
		return must(app.webhookHandler.ReceiveProgress(ctx, req)), nil
	}

	// /progress/{requestId}
	if strings.HasPrefix(path, "/progress/") && method == "GET" {
		req.PathParameters["requestId"] = strings.TrimPrefix(path, "/progress/")
		return corsResponse(must(app.webhookHandler.GetProgress(ctx, req))), nil
	}

	// /health
	if path == "/health" && method == "GET" {
		return corsResponse(must(handler.Health(ctx, req))), nil
	}

	return corsResponse(events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, path),
	}), nil
}

// corsResponse adds CORS headers to an API Gateway response.
func corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = os.Getenv("FRONTEND_URL")
	if resp.Headers["Access-Control-Allow-Origin"] == "" {
		resp.Headers["Access-Control-Allow-Origin"] = "http://localhost:3000"
	}
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,PUT,DELETE,OPTIONS,PATCH"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, ignoring the error.
func must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		fmt.Printf("Handler error: %v\n", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}
