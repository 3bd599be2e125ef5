package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"nani/internal/callback"
	"nani/internal/domain"
	"nani/internal/gate"
	"nani/internal/infra"
	"nani/internal/providers/nani"
	"nani/internal/providers/supabase"
	"nani/internal/render"
	"nani/internal/store"
)

func main() {
	// Muat .env (opsional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "nani: %v\n", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	st, err := store.Open(cfg.StateDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open state store")
	}
	defer st.Close()

	auth, err := supabase.NewClient(supabase.Options{
		BaseURL:        cfg.SupabaseURL,
		AnonKey:        cfg.SupabaseAnonKey,
		Logger:         &logger,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build auth client")
	}
	backend, err := nani.NewClient(nani.Options{
		BaseURL:        cfg.APIBaseURL,
		APISecret:      cfg.APISecret,
		Logger:         &logger,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build backend client")
	}

	r := render.New(os.Stdout, render.ThemeFor(cfg.Theme, time.Now()))

	g, err := gate.New(gate.Options{
		Auth:        auth,
		Backend:     backend,
		Store:       st,
		Logger:      &logger,
		HistoryCap:  cfg.HistoryCap,
		FailOpen:    cfg.FailOpen,
		SendRetries: cfg.SendRetries,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build session gate")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g.Start(ctx)

	// Loopback listener that receives the tokens at the end of a magic-link
	// or OAuth sign-in and feeds them back into the gate.
	cb := callback.New(cfg.CallbackPort, logger, func(access, refresh string) {
		g.OnAuthStateChanged(supabase.SessionFromTokens(access, refresh))
	})
	cb.Start(ctx)

	if _, err := g.RestoreSession(ctx); err != nil {
		r.Error(err)
	}

	fmt.Println("Nani — your Ayurvedic guide. /help for commands, Ctrl+C to quit.")
	r.Status(g.State())
	r.Banner(g.State())

	app := &chatApp{cfg: cfg, gate: g, auth: auth, backend: backend, render: r, redirectURL: cb.RedirectURL()}
	if err := app.run(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("chat loop failed")
		os.Exit(1)
	}
	fmt.Println("\nGoodbye.")
}

type chatApp struct {
	cfg         *infra.Config
	gate        *gate.Gate
	auth        *supabase.Client
	backend     *nani.Client
	render      *render.Renderer
	redirectURL string
}

// run reads lines until ctx is cancelled or stdin closes. Input is read in
// a goroutine so Ctrl+C interrupts a blocked read.
func (a *chatApp) run(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
				return
			}
			errCh <- scanner.Err()
		}()

		var line string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case line = <-inputCh:
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := a.command(ctx, line); quit {
				return nil
			}
			continue
		}
		a.ask(ctx, line)
	}
}

// command dispatches a slash command and reports whether the loop should end.
func (a *chatApp) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		a.printHelp()
	case "/login":
		if len(args) != 1 {
			a.render.Info("Usage: /login <email>")
			return false
		}
		a.gate.BeginSignIn()
		if err := a.auth.SignInWithMagicLink(ctx, args[0], a.redirectURL); err != nil {
			a.render.Error(err)
			return false
		}
		a.render.Info("Magic link sent to %s. Open it in your browser to finish signing in.", args[0])
	case "/google":
		a.gate.BeginSignIn()
		a.render.Info("Open this URL in your browser to sign in:")
		a.render.Info("  %s", a.auth.OAuthURL("google", a.redirectURL))
	case "/account":
		if sess := a.gate.Session(); sess.Authenticated() {
			if _, err := a.gate.RefreshEntitlement(ctx); err != nil {
				a.render.Error(err)
			}
		}
		a.render.Status(a.gate.State())
		a.render.Banner(a.gate.State())
	case "/upgrade":
		a.checkout(ctx, args)
	case "/billing":
		sess := a.gate.Session()
		if !sess.Authenticated() {
			a.render.Info("Sign in first with /login <email>.")
			return false
		}
		url, err := a.backend.CreateCustomerPortal(ctx, sess.UserID)
		if err != nil {
			a.render.Error(err)
			return false
		}
		a.render.Info("Manage your subscription here:")
		a.render.Info("  %s", url)
	case "/clear":
		a.gate.ClearHistory()
		a.render.Info("Conversation cleared.")
	case "/logout":
		a.gate.SignOut(ctx)
		a.render.Info("Signed out.")
	default:
		a.render.Info("Unknown command %s. Try /help.", cmd)
	}
	return false
}

func (a *chatApp) checkout(ctx context.Context, args []string) {
	sess := a.gate.Session()
	if !sess.Authenticated() {
		a.render.Info("Sign in first with /login <email>.")
		return
	}
	priceID := a.cfg.MonthlyPriceID
	if len(args) > 0 {
		switch args[0] {
		case "monthly":
		case "annual":
			priceID = a.cfg.AnnualPriceID
		default:
			a.render.Info("Usage: /upgrade [monthly|annual]")
			return
		}
	}
	url, err := a.backend.CreateCheckoutSession(ctx, priceID, sess.Email, sess.UserID)
	if err != nil {
		a.render.Error(err)
		return
	}
	a.render.Info("Complete your upgrade here:")
	a.render.Info("  %s", url)
}

func (a *chatApp) ask(ctx context.Context, query string) {
	a.render.Turn(domain.TurnUser, query)
	a.render.Typing()
	answer, err := a.gate.SendQuery(ctx, query)
	if err != nil {
		a.render.Error(err)
		a.render.Banner(a.gate.State())
		return
	}
	a.render.Turn(domain.TurnAssistant, answer)
	a.render.Banner(a.gate.State())
}

func (a *chatApp) printHelp() {
	a.render.Info(strings.TrimSpace(`
/login <email>        sign in with a magic link
/google               sign in with Google
/account              show session and plan details
/upgrade [monthly|annual]  start a subscription checkout
/billing              open the billing portal
/clear                clear the conversation
/logout               sign out
/quit                 exit`))
}
