package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/forumcore/internal/api"
	"github.com/jmerrifield20/forumcore/internal/auditlog"
	"github.com/jmerrifield20/forumcore/internal/config"
	"github.com/jmerrifield20/forumcore/internal/conversations"
	"github.com/jmerrifield20/forumcore/internal/counters"
	"github.com/jmerrifield20/forumcore/internal/email"
	"github.com/jmerrifield20/forumcore/internal/invites"
	"github.com/jmerrifield20/forumcore/internal/session"
	"github.com/jmerrifield20/forumcore/internal/users"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(os.Getenv("FORUMD_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "forumd:", err)
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	if cfg.Development() {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("forumd exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ─────────────────────────────────────────────────────────────
	db, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	// ── Audit log ────────────────────────────────────────────────────────────
	audit := auditlog.NewPostgresLog(db, logger)
	if err := audit.Verify(ctx); err != nil {
		logger.Warn("audit log integrity check FAILED", zap.Error(err))
	} else {
		n, _ := audit.Len(ctx)
		head, _ := audit.Head(ctx)
		logger.Info("audit log verified", zap.Int("entries", n), zap.String("head", head))
	}

	// ── Accounts ─────────────────────────────────────────────────────────────
	creds, err := users.NewCredentialManager(users.Algorithm(cfg.Accounts.PasswordAlgorithm), cfg.Accounts.BcryptCost)
	if err != nil {
		return fmt.Errorf("credential manager: %w", err)
	}
	if creds.Algorithm() == users.AlgorithmSHA1 {
		logger.Warn("accounts.password_algorithm is sha1; new digests are unsalted")
	}

	userSvc := users.NewUserService(
		users.NewUserRepository(db),
		creds,
		users.StaticSignupPolicy(cfg.Accounts.SignupApproval),
		logger,
	)
	userSvc.SetAuditLog(audit)
	userSvc.SetDefaultInviteQuota(cfg.Invites.DefaultQuota)

	ledger := invites.NewLedger(invites.NewRepository(db), logger)
	ledger.SetAuditLog(audit)
	ledger.SetExpiry(cfg.Invites.Expiry)
	ledger.SetMailer(newMailer(cfg.Mail, logger), cfg.Mail.AcceptURL)
	userSvc.SetInvitations(ledger)

	aggregator := conversations.NewAggregator(conversations.NewRepository(db), userSvc, logger)

	reconciler := counters.NewReconciler(counters.NewRepository(db), logger)
	reconciler.SetAuditLog(audit)

	// ── Sessions ─────────────────────────────────────────────────────────────
	tokens, err := session.NewIssuer([]byte(cfg.Session.Secret), cfg.Session.Issuer, cfg.Session.TTL)
	if err != nil {
		return fmt.Errorf("session issuer (set SESSION_SECRET): %w", err)
	}
	requireUser := session.RequireUser(tokens, userSvc)

	// ── HTTP ─────────────────────────────────────────────────────────────────
	oauthCfgs := make(map[string]api.OAuthProviderConfig, len(cfg.OAuth))
	for name, p := range cfg.OAuth {
		oauthCfgs[name] = api.OAuthProviderConfig{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  p.RedirectURL,
		}
	}
	authHandler := api.NewAuthHandler(userSvc, tokens, oauthCfgs, logger)
	authHandler.SetFrontendURL(cfg.Server.FrontendURL)

	if os.Getenv("GIN_MODE") == "" && !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(ctx, api.RouterConfig{
		CORSOrigins:  cfg.Server.CORSOrigins,
		RateLimitRPS: cfg.Server.RateLimitRPS,
		Health:       db,
		Sessions:     tokens,
	}, logger,
		authHandler,
		api.NewAccountHandler(userSvc, tokens, requireUser, logger),
		api.NewInviteHandler(ledger, userSvc, requireUser, logger),
		api.NewConversationHandler(aggregator, userSvc, requireUser, logger),
		api.NewAdminHandler(userSvc, reconciler, audit, requireUser, logger),
	)

	// ── Background maintenance ───────────────────────────────────────────────
	go every(ctx, cfg.Maintenance.ReconcileInterval, func() {
		if _, err := reconciler.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("counter sweep error", zap.Error(err))
		}
	})
	go every(ctx, cfg.Maintenance.InviteCleanupInterval, func() {
		cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := ledger.DeleteExpired(cleanupCtx); err != nil {
			logger.Warn("invite cleanup error", zap.Error(err))
		}
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("forumd HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("HTTP listen: %w", err)
	}
	logger.Info("shutting down forumd...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("forumd stopped")
	return nil
}

// newMailer returns an SMTP sender, or a log-only sender when no relay is
// configured or the relay settings are unusable.
func newMailer(cfg config.Mail, logger *zap.Logger) email.Sender {
	if cfg.SMTPHost == "" {
		logger.Info("mail.smtp_host not set; invitations will be logged, not sent")
		return email.NewLogSender(logger)
	}
	s, err := email.NewSMTPSender(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	})
	if err != nil {
		logger.Warn("smtp sender disabled", zap.Error(err))
		return email.NewLogSender(logger)
	}
	logger.Info("invitation mail via smtp", zap.String("host", cfg.SMTPHost), zap.Int("port", cfg.SMTPPort))
	return s
}

// every runs fn each interval until ctx is done. A non-positive interval
// disables the job.
func every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-ctx.Done():
			return
		}
	}
}
