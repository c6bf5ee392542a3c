package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/forumcore/internal/session"
	"github.com/jmerrifield20/forumcore/internal/users"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// OAuthProviderConfig holds OAuth client credentials for a single provider.
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// authUsers is the interface expected by AuthHandler, satisfied by *users.UserService.
type authUsers interface {
	Signup(ctx context.Context, in users.SignupInput) (*users.User, error)
	Authenticate(ctx context.Context, username, password string) (*users.User, error)
	GetOrCreateFromIdentityProvider(ctx context.Context, openidURL, email, preferred string) (*users.User, bool, error)
	MarkActive(ctx context.Context, u *users.User, now time.Time) error
}

// externalIdentity is what a provider tells us about the person signing in.
type externalIdentity struct {
	URL       string // canonical profile URL, stored as the account's openid_url
	Email     string
	Preferred string // username hint
}

type identityFetcher func(ctx context.Context, provider, accessToken string) (externalIdentity, error)

// AuthHandler handles signup, login and identity-provider sign-in.
type AuthHandler struct {
	users       authUsers
	tokens      *session.Issuer
	oauthCfgs   map[string]*oauth2.Config
	fetch       identityFetcher
	frontendURL string
	logger      *zap.Logger
}

// NewAuthHandler creates an AuthHandler. Providers without both a client ID
// and a secret are disabled.
func NewAuthHandler(
	svc authUsers,
	tokens *session.Issuer,
	oauthProviders map[string]OAuthProviderConfig,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		users:       svc,
		tokens:      tokens,
		oauthCfgs:   buildOAuthConfigs(oauthProviders),
		fetch:       fetchExternalIdentity,
		frontendURL: "http://localhost:3000",
		logger:      logger,
	}
}

// SetFrontendURL sets where the browser lands after an OAuth callback.
func (h *AuthHandler) SetFrontendURL(url string) {
	h.frontendURL = strings.TrimRight(url, "/")
}

func buildOAuthConfigs(providers map[string]OAuthProviderConfig) map[string]*oauth2.Config {
	cfgs := make(map[string]*oauth2.Config)
	for name, p := range providers {
		if p.ClientID == "" || p.ClientSecret == "" {
			continue
		}
		var endpoint oauth2.Endpoint
		var scopes []string
		switch name {
		case "github":
			endpoint = github.Endpoint
			scopes = []string{"read:user", "user:email"}
		case "google":
			endpoint = google.Endpoint
			scopes = []string{"openid", "email", "profile"}
		default:
			continue
		}
		cfgs[name] = &oauth2.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  p.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		}
	}
	return cfgs
}

// Register mounts all auth routes on the provided router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.POST("/signup", h.Signup)
		auth.POST("/login", h.Login)
		auth.GET("/oauth/:provider", h.OAuthRedirect)
		auth.GET("/oauth/:provider/callback", h.OAuthCallback)
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Signup handles POST /auth/signup. Accounts that need approval are created
// inactive and get no token.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req users.SignupInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.users.Signup(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "signup failed", err)
		return
	}

	if !u.Activated {
		c.JSON(http.StatusCreated, gin.H{
			"user": u,
			"note": "your application is awaiting approval",
		})
		return
	}

	tok, err := h.tokens.Issue(u)
	if err != nil {
		h.logger.Error("issue session after signup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": u, "token": tok})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	u, err := h.users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		writeError(c, h.logger, "login failed", err)
		return
	}
	if err := h.users.MarkActive(ctx, u, time.Now().UTC()); err != nil {
		h.logger.Warn("mark active after login", zap.String("user_id", u.ID.String()), zap.Error(err))
	}

	tok, err := h.tokens.Issue(u)
	if err != nil {
		h.logger.Error("issue session after login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "token": tok})
}

// OAuthRedirect handles GET /auth/oauth/:provider.
func (h *AuthHandler) OAuthRedirect(c *gin.Context) {
	provider := c.Param("provider")
	cfg, ok := h.oauthCfgs[provider]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("OAuth provider %q not configured", provider)})
		return
	}

	state, err := h.tokens.IssueOAuthState(provider)
	if err != nil {
		h.logger.Error("generate oauth state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate OAuth state"})
		return
	}
	c.Redirect(http.StatusFound, cfg.AuthCodeURL(state, oauth2.AccessTypeOnline))
}

// OAuthCallback handles GET /auth/oauth/:provider/callback. The provider
// profile URL becomes the account's openid_url; a first visit signs up.
func (h *AuthHandler) OAuthCallback(c *gin.Context) {
	provider := c.Param("provider")
	cfg, ok := h.oauthCfgs[provider]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("OAuth provider %q not configured", provider)})
		return
	}

	gotProvider, err := h.tokens.VerifyOAuthState(c.Query("state"))
	if err != nil || gotProvider != provider {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid OAuth state"})
		return
	}

	code := c.Query("code")
	if code == "" {
		msg := c.Query("error_description")
		if msg == "" {
			msg = c.Query("error")
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "OAuth authorization failed: " + msg})
		return
	}

	ctx := c.Request.Context()
	oauthToken, err := cfg.Exchange(ctx, code)
	if err != nil {
		h.logger.Error("oauth code exchange", zap.String("provider", provider), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "OAuth code exchange failed"})
		return
	}

	ident, err := h.fetch(ctx, provider, oauthToken.AccessToken)
	if err != nil {
		h.logger.Error("fetch oauth identity", zap.String("provider", provider), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch identity from provider"})
		return
	}

	u, created, err := h.users.GetOrCreateFromIdentityProvider(ctx, ident.URL, ident.Email, ident.Preferred)
	if err != nil {
		writeError(c, h.logger, "failed to process OAuth login", err)
		return
	}
	if created {
		h.logger.Info("account created from identity provider",
			zap.String("user_id", u.ID.String()),
			zap.String("provider", provider),
		)
	}

	switch {
	case u.Banned:
		c.Redirect(http.StatusFound, h.frontendURL+"/oauth/callback#error=banned")
		return
	case !u.Activated:
		c.Redirect(http.StatusFound, h.frontendURL+"/oauth/callback#error=pending_approval")
		return
	}

	tok, err := h.tokens.Issue(u)
	if err != nil {
		h.logger.Error("issue session after oauth", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	// The fragment never reaches a server, so the token stays in the browser.
	c.Redirect(http.StatusFound, h.frontendURL+"/oauth/callback#token="+tok)
}

// ── Provider identity lookups ────────────────────────────────────────────

func fetchExternalIdentity(ctx context.Context, provider, accessToken string) (externalIdentity, error) {
	switch provider {
	case "github":
		return fetchGitHubIdentity(ctx, accessToken)
	case "google":
		return fetchGoogleIdentity(ctx, accessToken)
	}
	return externalIdentity{}, fmt.Errorf("unsupported provider: %s", provider)
}

func fetchGitHubIdentity(ctx context.Context, accessToken string) (externalIdentity, error) {
	body, err := providerGet(ctx, "https://api.github.com/user", accessToken)
	if err != nil {
		return externalIdentity{}, err
	}
	var info struct {
		Login   string `json:"login"`
		HTMLURL string `json:"html_url"`
		Email   string `json:"email"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return externalIdentity{}, fmt.Errorf("parse github user: %w", err)
	}
	if info.HTMLURL == "" {
		if info.Login == "" {
			return externalIdentity{}, errors.New("github user has no login")
		}
		info.HTMLURL = "https://github.com/" + info.Login
	}
	if info.Email == "" {
		info.Email, _ = fetchGitHubPrimaryEmail(ctx, accessToken)
	}
	return externalIdentity{URL: info.HTMLURL, Email: info.Email, Preferred: info.Login}, nil
}

func fetchGitHubPrimaryEmail(ctx context.Context, accessToken string) (string, error) {
	body, err := providerGet(ctx, "https://api.github.com/user/emails", accessToken)
	if err != nil {
		return "", err
	}
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}

func fetchGoogleIdentity(ctx context.Context, accessToken string) (externalIdentity, error) {
	body, err := providerGet(ctx, "https://openidconnect.googleapis.com/v1/userinfo", accessToken)
	if err != nil {
		return externalIdentity{}, err
	}
	var info struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return externalIdentity{}, fmt.Errorf("parse google userinfo: %w", err)
	}
	if info.Sub == "" {
		return externalIdentity{}, errors.New("google userinfo has no subject")
	}
	return externalIdentity{
		URL:       "https://accounts.google.com/" + info.Sub,
		Email:     info.Email,
		Preferred: info.Name,
	}, nil
}

func providerGet(ctx context.Context, url, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "forumd/1.0")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return body, nil
}
