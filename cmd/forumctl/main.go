package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/forumcore/internal/auditlog"
	"github.com/jmerrifield20/forumcore/internal/config"
	"github.com/jmerrifield20/forumcore/internal/counters"
	"github.com/jmerrifield20/forumcore/internal/invites"
	"github.com/jmerrifield20/forumcore/internal/users"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	verbose bool
	asJSON  bool
)

// app holds the services built in PersistentPreRunE for subcommands that
// touch the database.
type app struct {
	db         *pgxpool.Pool
	logger     *zap.Logger
	audit      *auditlog.PostgresLog
	users      *users.UserService
	ledger     *invites.Ledger
	reconciler *counters.Reconciler
}

var deps *app

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "forumctl",
	Short: "Maintenance CLI for the forum account core",
	Long: `forumctl runs account maintenance directly against the forum database:
counter reconciliation, invite quota adjustments, role changes and audit
log checks. It reads the same forumd.yaml and environment as forumd.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return connect(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if deps != nil {
			deps.db.Close()
			_ = deps.logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/forumd.yaml or ./forumd.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log service activity to stderr")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print results as JSON")

	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(invitesCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}

func connect(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}

	db, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	creds, err := users.NewCredentialManager(users.Algorithm(cfg.Accounts.PasswordAlgorithm), cfg.Accounts.BcryptCost)
	if err != nil {
		db.Close()
		return err
	}

	a := &app{db: db, logger: logger, audit: auditlog.NewPostgresLog(db, logger)}
	a.users = users.NewUserService(users.NewUserRepository(db), creds, users.StaticSignupPolicy(cfg.Accounts.SignupApproval), logger)
	a.users.SetAuditLog(a.audit)
	a.ledger = invites.NewLedger(invites.NewRepository(db), logger)
	a.ledger.SetAuditLog(a.audit)
	a.ledger.SetExpiry(cfg.Invites.Expiry)
	a.reconciler = counters.NewReconciler(counters.NewRepository(db), logger)
	a.reconciler.SetAuditLog(a.audit)
	deps = a
	return nil
}

// cliContext tags audit entries written by forumctl with the operator's
// login name.
func cliContext(ctx context.Context) context.Context {
	who := os.Getenv("USER")
	if who == "" {
		who = "unknown"
	}
	return auditlog.WithActor(ctx, "forumctl:"+who)
}

// lookupUser accepts a UUID or a username.
func lookupUser(ctx context.Context, ref string) (*users.User, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return deps.users.GetByID(ctx, id)
	}
	u, err := deps.users.GetByUsername(ctx, ref)
	if errors.Is(err, users.ErrNotFound) {
		return nil, fmt.Errorf("no user %q", ref)
	}
	return u, err
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// ── reconcile ────────────────────────────────────────────────────────────────

var reconcileAll bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [user]",
	Short: "Correct drifted posts_count / discussions_count caches",
	Long: `reconcile compares a user's cached counters with the real number of posts
and discussions they own and applies the difference as a delta.

  forumctl reconcile alice
  forumctl reconcile --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cliContext(cmd.Context())
		if reconcileAll {
			stats, err := deps.reconciler.Sweep(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(stats)
			}
			fmt.Printf("checked %d, corrected %d, failed %d\n", stats.Checked, stats.Corrected, stats.Failed)
			return nil
		}
		if len(args) != 1 {
			return errors.New("name a user or pass --all")
		}

		u, err := lookupUser(ctx, args[0])
		if err != nil {
			return err
		}
		res, err := deps.reconciler.Reconcile(ctx, u.ID)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(res)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FIELD\tCACHED\tACTUAL\tDELTA")
		fmt.Fprintf(w, "posts_count\t%d\t%d\t%+d\n", res.Cached.Posts, res.Actual.Posts, res.PostsDelta)
		fmt.Fprintf(w, "discussions_count\t%d\t%d\t%+d\n", res.Cached.Discussions, res.Actual.Discussions, res.DiscussionsDelta)
		return w.Flush()
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "reconcile every user")
}

// ── invites ──────────────────────────────────────────────────────────────────

var invitesCmd = &cobra.Command{
	Use:   "invites",
	Short: "Inspect and adjust invite quotas",
}

var invitesShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Show a user's quota and active invites",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		u, err := lookupUser(ctx, args[0])
		if err != nil {
			return err
		}
		active, err := deps.ledger.ListActive(ctx, u.ID)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(map[string]any{
				"available_invites": u.EffectiveAvailableInvites(),
				"exempt":            u.CanManageInvites(),
				"invites":           active,
			})
		}
		fmt.Printf("%s: %d available", u.Username, u.EffectiveAvailableInvites())
		if u.CanManageInvites() {
			fmt.Print(" (user-admin, unlimited)")
		}
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EMAIL\tEXPIRES")
		for _, inv := range active {
			fmt.Fprintf(w, "%s\t%s\n", inv.Email, inv.ExpiresAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var invitesGrantCmd = &cobra.Command{
	Use:   "grant <user> <n>",
	Short: "Add n invites to a user's quota",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := parseCount(args[1], false)
		if err != nil {
			return err
		}
		ctx := cliContext(cmd.Context())
		u, err := lookupUser(ctx, args[0])
		if err != nil {
			return err
		}
		if _, err := deps.ledger.Grant(ctx, u, n); err != nil {
			return err
		}
		fmt.Printf("%s now has %d invites\n", u.Username, u.EffectiveAvailableInvites())
		return nil
	},
}

var invitesRevokeCmd = &cobra.Command{
	Use:   "revoke <user> <n|all>",
	Short: "Remove invites from a user's quota; never drops below zero",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := parseCount(args[1], true)
		if err != nil {
			return err
		}
		ctx := cliContext(cmd.Context())
		u, err := lookupUser(ctx, args[0])
		if err != nil {
			return err
		}
		left, err := deps.ledger.Revoke(ctx, u, n)
		if err != nil {
			return err
		}
		fmt.Printf("%s now has %d invites\n", u.Username, left)
		return nil
	},
}

var invitesCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired invites",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := deps.ledger.DeleteExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d expired invite(s)\n", n)
		return nil
	},
}

func init() {
	invitesCmd.AddCommand(invitesShowCmd, invitesGrantCmd, invitesRevokeCmd, invitesCleanupCmd)
}

// parseCount reads a positive invite count; "all" is accepted when allowAll.
func parseCount(s string, allowAll bool) (int, error) {
	if allowAll && strings.EqualFold(s, "all") {
		return invites.RevokeAll, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		if allowAll {
			return 0, fmt.Errorf("count must be a positive integer or \"all\", got %q", s)
		}
		return 0, fmt.Errorf("count must be a positive integer, got %q", s)
	}
	return n, nil
}

// ── roles ────────────────────────────────────────────────────────────────────

var (
	rolesAs   string
	roleFlags = map[string]*string{}
)

var rolesCmd = &cobra.Command{
	Use:   "roles <user> --as <user-admin> [--trusted=true] [--banned=false] ...",
	Short: "Change a user's role flags on behalf of a user-admin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if rolesAs == "" {
			return errors.New("--as is required: role changes are made by a user-admin")
		}
		change, err := roleChangeFromFlags(roleFlags)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		actor, err := lookupUser(ctx, rolesAs)
		if err != nil {
			return err
		}
		target, err := lookupUser(ctx, args[0])
		if err != nil {
			return err
		}
		u, err := deps.users.SetRoles(ctx, actor, target.ID, change)
		if errors.Is(err, users.ErrForbidden) {
			return fmt.Errorf("%s may not make this change", actor.Username)
		}
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(u)
		}
		fmt.Printf("%s: admin=%t user_admin=%t moderator=%t trusted=%t banned=%t activated=%t\n",
			u.Username, u.Admin, u.UserAdmin, u.Moderator, u.Trusted, u.Banned, u.Activated)
		return nil
	},
}

var roleNames = []string{"admin", "user-admin", "moderator", "trusted", "banned", "activated"}

func init() {
	rolesCmd.Flags().StringVar(&rolesAs, "as", "", "username or ID of the acting user-admin")
	for _, name := range roleNames {
		v := new(string)
		roleFlags[name] = v
		rolesCmd.Flags().StringVar(v, name, "", "set "+name+" to true or false")
	}
}

// roleChangeFromFlags turns the --flag=bool strings into a RoleChange.
// Unset flags leave the role alone.
func roleChangeFromFlags(flags map[string]*string) (users.RoleChange, error) {
	var change users.RoleChange
	targets := map[string]**bool{
		"admin":      &change.Admin,
		"user-admin": &change.UserAdmin,
		"moderator":  &change.Moderator,
		"trusted":    &change.Trusted,
		"banned":     &change.Banned,
		"activated":  &change.Activated,
	}
	for name, raw := range flags {
		if raw == nil || *raw == "" {
			continue
		}
		b, err := strconv.ParseBool(*raw)
		if err != nil {
			return change, fmt.Errorf("--%s: %w", name, err)
		}
		dst, ok := targets[name]
		if !ok {
			return change, fmt.Errorf("unknown role %q", name)
		}
		*dst = &b
	}
	return change, nil
}

// ── audit ────────────────────────────────────────────────────────────────────

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the account audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Walk the hash chain and report whether it is intact",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := deps.audit.Verify(ctx); err != nil {
			return fmt.Errorf("audit log is NOT intact: %w", err)
		}
		n, err := deps.audit.Len(ctx)
		if err != nil {
			return err
		}
		head, err := deps.audit.Head(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("audit log intact: %d entries, head %s\n", n, head)
		return nil
	},
}

var auditLimit int

var auditShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "List the newest audit entries about a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		subject := args[0]
		if u, err := lookupUser(ctx, args[0]); err == nil {
			subject = u.ID.String()
		}
		entries, err := deps.audit.BySubject(ctx, subject, auditLimit)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(entries)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tTIME\tACTION\tACTOR")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.Index, e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.Actor)
		}
		return w.Flush()
	},
}

func init() {
	auditShowCmd.Flags().IntVar(&auditLimit, "limit", 20, "maximum entries to show")
	auditCmd.AddCommand(auditVerifyCmd, auditShowCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the forumctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("forumctl %s\n", version)
	},
}
