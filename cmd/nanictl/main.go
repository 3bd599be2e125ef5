// nanictl is the maintenance companion to the nani chat client: account
// status, billing links, sign-out, usage stats and transcript export,
// without entering the interactive loop.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"nani/internal/domain"
	"nani/internal/infra"
	naniapi "nani/internal/providers/nani"
	"nani/internal/providers/supabase"
	"nani/internal/store"
	"nani/pkg/zip"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		exitWithError(errors.New("usage: nanictl <status|upgrade|portal|signout|stats|export> [flags]"))
	}
	command := os.Args[1]

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger("cli").With().Str("cmd", "nanictl").Logger()

	st, err := store.Open(cfg.StateDir)
	if err != nil {
		exitWithError(err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app := &ctl{cfg: cfg, logger: logger, store: st}

	switch command {
	case "status":
		err = app.status(ctx)
	case "upgrade":
		fs := flag.NewFlagSet("upgrade", flag.ExitOnError)
		plan := fs.String("plan", "monthly", "subscription plan (monthly or annual)")
		_ = fs.Parse(os.Args[2:])
		err = app.upgrade(ctx, *plan)
	case "portal":
		err = app.portal(ctx)
	case "signout":
		err = app.signout(ctx)
	case "stats":
		err = app.stats(ctx)
	case "export":
		fs := flag.NewFlagSet("export", flag.ExitOnError)
		out := fs.String("o", "nani-export.zip", "output archive path")
		_ = fs.Parse(os.Args[2:])
		err = app.export(ctx, *out)
	default:
		err = fmt.Errorf("unknown command %q", command)
	}
	if err != nil {
		exitWithError(err)
	}
}

type ctl struct {
	cfg    *infra.Config
	logger infra.Logger
	store  *store.Store
}

// session refreshes the cached credentials into a live session. Commands
// that talk to the back end all start here.
func (c *ctl) session(ctx context.Context) (*domain.Session, error) {
	creds, err := c.store.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	if creds == nil || creds.RefreshToken == "" {
		return nil, errors.New("not signed in; run nani and use /login first")
	}
	auth, err := c.authClient()
	if err != nil {
		return nil, err
	}
	sess, err := auth.RefreshSession(ctx, creds.RefreshToken)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (c *ctl) authClient() (*supabase.Client, error) {
	return supabase.NewClient(supabase.Options{
		BaseURL:        c.cfg.SupabaseURL,
		AnonKey:        c.cfg.SupabaseAnonKey,
		Logger:         &c.logger,
		RequestTimeout: c.cfg.RequestTimeout,
	})
}

func (c *ctl) backendClient() (*naniapi.Client, error) {
	return naniapi.NewClient(naniapi.Options{
		BaseURL:        c.cfg.APIBaseURL,
		APISecret:      c.cfg.APISecret,
		Logger:         &c.logger,
		RequestTimeout: c.cfg.RequestTimeout,
	})
}

func (c *ctl) status(ctx context.Context) error {
	sess, err := c.session(ctx)
	if err != nil {
		return err
	}
	backend, err := c.backendClient()
	if err != nil {
		return err
	}
	ent, err := backend.AuthStatus(ctx, sess.AccessToken)
	if err != nil {
		return err
	}
	fmt.Printf("email:      %s\n", sess.Email)
	fmt.Printf("plan:       %s\n", ent.Role)
	fmt.Printf("subscribed: %t\n", ent.Subscribed)
	if ent.TrialActive {
		fmt.Printf("trial:      active, %d days left\n", ent.DaysLeft)
	} else if !ent.Subscribed {
		fmt.Println("trial:      ended")
	}
	return nil
}

func (c *ctl) upgrade(ctx context.Context, plan string) error {
	priceID := c.cfg.MonthlyPriceID
	switch plan {
	case "monthly":
	case "annual":
		priceID = c.cfg.AnnualPriceID
	default:
		return fmt.Errorf("unsupported plan %q", plan)
	}
	sess, err := c.session(ctx)
	if err != nil {
		return err
	}
	backend, err := c.backendClient()
	if err != nil {
		return err
	}
	url, err := backend.CreateCheckoutSession(ctx, priceID, sess.Email, sess.UserID)
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}

func (c *ctl) portal(ctx context.Context) error {
	sess, err := c.session(ctx)
	if err != nil {
		return err
	}
	backend, err := c.backendClient()
	if err != nil {
		return err
	}
	url, err := backend.CreateCustomerPortal(ctx, sess.UserID)
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}

// signout revokes the session best effort and always wipes local state.
func (c *ctl) signout(ctx context.Context) error {
	creds, err := c.store.Credentials(ctx)
	if err != nil {
		return err
	}
	if creds != nil && creds.AccessToken != "" {
		if auth, err := c.authClient(); err == nil {
			if err := auth.SignOut(ctx, creds.AccessToken); err != nil {
				c.logger.Warn().Err(err).Msg("remote sign-out failed")
			}
		}
	}
	if err := c.store.ClearCredentials(ctx); err != nil {
		return err
	}
	if err := c.store.ClearTranscript(ctx); err != nil {
		return err
	}
	fmt.Println("signed out")
	return nil
}

func (c *ctl) stats(ctx context.Context) error {
	stats, err := c.store.Usage(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("queries:      %d\n", stats.Queries)
	fmt.Printf("mean latency: %dms\n", stats.MeanLatencyMS)
	if !stats.LastQueryAt.IsZero() {
		fmt.Printf("last query:   %s\n", stats.LastQueryAt.Format(time.RFC3339))
	}
	return nil
}

// export bundles the transcript and usage summary into a zip archive.
func (c *ctl) export(ctx context.Context, out string) error {
	entries, err := c.store.Transcript(ctx, 0)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("nothing to export")
	}
	transcript, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	stats, err := c.store.Usage(ctx)
	if err != nil {
		return err
	}
	usage := fmt.Sprintf("queries: %d\nmean latency: %dms\nexported: %s\n",
		stats.Queries, stats.MeanLatencyMS, time.Now().Format(time.RFC3339))

	data, err := zip.Archive([]zip.File{
		{Name: "transcript.json", Data: transcript},
		{Name: "usage.txt", Data: []byte(usage)},
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d turns)\n", out, len(entries))
	return nil
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "nanictl: %v\n", err)
	os.Exit(1)
}
