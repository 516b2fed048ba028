package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/njoerd114/fieldsync/internal/api"
	"github.com/njoerd114/fieldsync/internal/config"
	"github.com/njoerd114/fieldsync/internal/session"
)

// Wizard guides the user through first-run configuration and sign-in.
type Wizard struct {
	prompt  *Prompter
	logger  *slog.Logger
	w       io.Writer
	cfgPath string

	// SessionPath overrides where the session is saved. Empty uses the
	// configured or default location.
	SessionPath string
}

// NewWizard creates a Wizard that writes its config to cfgPath.
func NewWizard(r io.Reader, w io.Writer, cfgPath string, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt:  NewPrompter(r, w),
		logger:  logger,
		w:       w,
		cfgPath: cfgPath,
	}
}

// Run executes the interactive setup wizard: server URL and reachability,
// sign-in, sync interval, then the config file.
func (wiz *Wizard) Run(ctx context.Context) error {
	fmt.Fprintf(wiz.w, "\nWelcome to fieldsync setup!\n")
	fmt.Fprintf(wiz.w, "This wizard connects fieldsync to your report server.\n\n")

	defaultURL := "http://localhost:8000"
	if existing, err := config.Load(wiz.cfgPath); err == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", wiz.cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return nil
		}
		defaultURL = existing.APIURL
		fmt.Fprintf(wiz.w, "\n")
	}

	// Step 1: server.
	fmt.Fprintf(wiz.w, "Step 1/3 — Report Server\n")

	apiURL := strings.TrimRight(wiz.prompt.String("Server URL", defaultURL), "/")
	cfg := &config.Config{APIURL: apiURL, SessionPath: wiz.SessionPath}
	client := api.NewClient(api.Options{BaseURL: apiURL}, wiz.logger)

	fmt.Fprintf(wiz.w, "  Contacting server...")
	if err := client.Ping(ctx); err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return fmt.Errorf("cannot reach report server: %w\n\n  Check the URL, then try again", err)
	}
	fmt.Fprintf(wiz.w, " ✓\n\n")

	// Step 2: sign in.
	fmt.Fprintf(wiz.w, "Step 2/3 — Sign In\n")

	sessPath, err := wiz.sessionPath()
	if err != nil {
		return err
	}
	mgr := session.NewManager(sessPath, client, wiz.logger)
	for attempt := 1; ; attempt++ {
		raw := wiz.prompt.String("RUT", "")
		if raw == "" {
			return errors.New("sign-in cancelled")
		}
		rut, err := ParseRUT(raw)
		if err != nil {
			fmt.Fprintf(wiz.w, "  ⚠ %v\n", err)
			continue
		}
		password := wiz.prompt.Secret("Password")
		if password == "" {
			return errors.New("sign-in cancelled")
		}

		s, err := mgr.SignIn(ctx, rut, password)
		if err == nil {
			fmt.Fprintf(wiz.w, "  ✓ Signed in as %d\n", s.UserID)
			if s.RequirePasswordChange {
				fmt.Fprintf(wiz.w, "  ⚠ The server asks you to change your password.\n")
			}
			break
		}
		if !errors.Is(err, api.ErrUnauthorized) || attempt >= 3 {
			return fmt.Errorf("signing in: %w", err)
		}
		fmt.Fprintf(wiz.w, "  ✗ Wrong RUT or password, try again.\n")
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 3: interval and save.
	fmt.Fprintf(wiz.w, "Step 3/3 — Sync Interval\n")

	intervalStr := wiz.prompt.String("How often to push pending reports? (30s–24h)", "5m")
	interval, parseErr := time.ParseDuration(intervalStr)
	if parseErr != nil || interval < 30*time.Second || interval > 24*time.Hour {
		interval = 5 * time.Minute
		fmt.Fprintf(wiz.w, "  (invalid duration, using default 5m)\n")
	}
	cfg.SyncInterval = interval

	if err := cfg.Write(wiz.cfgPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", wiz.cfgPath)

	fmt.Fprintf(wiz.w, "Setup complete!\n")
	fmt.Fprintf(wiz.w, "  New report:  fieldsync create --title ...\n")
	fmt.Fprintf(wiz.w, "  Background:  fieldsync daemon\n")
	fmt.Fprintf(wiz.w, "  Status:      fieldsync status\n\n")
	return nil
}

func (wiz *Wizard) sessionPath() (string, error) {
	if wiz.SessionPath != "" {
		return wiz.SessionPath, nil
	}
	p, err := session.DefaultPath()
	if err != nil {
		return "", fmt.Errorf("resolving session path: %w", err)
	}
	return p, nil
}

// ParseRUT accepts a Chilean RUT with or without thousands separators and
// check digit ("12.345.678-5", "12345678") and returns its numeric body.
// A check digit, when given, must match the body.
func ParseRUT(s string) (int64, error) {
	s = strings.TrimSpace(s)
	body, dv := s, ""
	if i := strings.LastIndex(s, "-"); i >= 0 {
		body, dv = s[:i], strings.ToUpper(strings.TrimSpace(s[i+1:]))
	}
	body = strings.ReplaceAll(body, ".", "")
	n, err := strconv.ParseInt(body, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid RUT %q", s)
	}
	if dv != "" && dv != rutCheckDigit(n) {
		return 0, fmt.Errorf("invalid RUT %q: check digit does not match", s)
	}
	return n, nil
}

// rutCheckDigit computes the modulo-11 verifier for a RUT body.
func rutCheckDigit(n int64) string {
	sum, factor := int64(0), int64(2)
	for ; n > 0; n /= 10 {
		sum += (n % 10) * factor
		if factor++; factor > 7 {
			factor = 2
		}
	}
	switch r := 11 - sum%11; r {
	case 11:
		return "0"
	case 10:
		return "K"
	default:
		return strconv.FormatInt(r, 10)
	}
}
