package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/mnehpets/cookieauth/auth"
	"github.com/mnehpets/cookieauth/config"
	"github.com/mnehpets/cookieauth/cookie"
	"github.com/mnehpets/cookieauth/endpoint"
	"github.com/mnehpets/cookieauth/flow"
	"github.com/mnehpets/cookieauth/middleware"
	"github.com/mnehpets/cookieauth/provider"
	"github.com/mnehpets/cookieauth/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sign-in server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := newLogger(os.Stderr, cfg.Level())
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	return cmd
}

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		w = zerolog.ConsoleWriter{Out: f, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	h, err := newServer(ctx, cfg, log)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Listen).Str("public_url", cfg.PublicURL).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newServer wires the auth routes and a small demo application.
func newServer(ctx context.Context, cfg *config.Config, log zerolog.Logger) (http.Handler, error) {
	ring, err := cfg.Ring()
	if err != nil {
		return nil, err
	}
	flows, err := flow.New(ring, flow.Options{
		Debug:           cfg.Debug,
		Logger:          &log,
		SessionMaxAge:   cfg.SessionMaxAge,
		PostSignInURI:   cfg.PostSignInURI,
		PostSignOutURI:  cfg.PostSignOutURI,
		ErrorURI:        cfg.ErrorURI,
		ProviderTimeout: cfg.ProviderTimeout,
		SignInCallback: func(ctx context.Context, info *session.UserInfo) error {
			log.Info().Str("user_id", info.UserID).Str("email", info.Email).Msg("user signed in")
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: cfg.ProviderTimeout}
	registry := provider.NewRegistry()
	for _, pc := range cfg.Providers {
		p, err := pc.Build(ctx, auth.CallbackURL(cfg.PublicURL, cfg.BasePath, pc.ID), client)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		registry.Register(p)
	}
	log.Info().Strs("providers", registry.IDs()).Msg("providers registered")

	cookies := cookie.NewPolicy(
		cookie.WithDomain(cfg.CookieDomain),
		cookie.WithTrustProxyHeaders(cfg.TrustProxyHeaders),
	)
	authHandler, err := auth.NewHandler(flows, registry,
		auth.WithBasePath(cfg.BasePath),
		auth.WithCookiePolicy(cookies),
		auth.WithLogger(log),
		auth.WithProcessors(middleware.NewSecurityHeadersProcessor(cookies)),
	)
	if err != nil {
		return nil, err
	}

	sessions := middleware.NewSessionProcessor(flows.Codec(), cookies)
	csrfCheck := middleware.NewCSRFProcessor(flows.Guard(), cookies)

	mux := http.NewServeMux()
	mux.Handle(authHandler.BasePath()+"/", authHandler)
	mux.HandleFunc("GET /{$}", endpoint.HandleFunc(home, sessions))
	mux.HandleFunc("POST /api/echo", endpoint.HandleFunc(echo, sessions.Required(), csrfCheck))

	landing := map[string]string{
		flows.PostSignInURI():  "signed in",
		flows.PostSignOutURI(): "signed out",
		flows.ErrorURI():       "sign-in failed",
	}
	for uri, msg := range landing {
		if !strings.HasPrefix(uri, "/") || uri == "/" {
			continue
		}
		mux.HandleFunc("GET "+uri, endpoint.HandleFunc(page(msg)))
	}

	return accessLog(log, mux), nil
}

type homeBody struct {
	SignedIn bool              `json:"signed_in"`
	User     *session.UserInfo `json:"user,omitempty"`
}

func home(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	c, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return &endpoint.JSONRenderer{Value: homeBody{}}, nil
	}
	return &endpoint.JSONRenderer{Value: homeBody{SignedIn: true, User: &c.UserInfo}}, nil
}

type echoParams struct {
	Message string `form:"message" maxLength:"1024"`
}

func echo(_ http.ResponseWriter, r *http.Request, p echoParams) (endpoint.Renderer, error) {
	c, _ := middleware.ClaimsFromContext(r.Context())
	return &endpoint.JSONRenderer{Value: map[string]string{
		"user_id": c.UserInfo.UserID,
		"message": p.Message,
	}}, nil
}

func page(msg string) endpoint.EndpointFunc[struct{}] {
	return func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (endpoint.Renderer, error) {
		return &endpoint.StringRenderer{Body: msg + "\n"}, nil
	}
}

// accessLog attaches a request-scoped logger carrying a request id and logs
// each response.
func accessLog(log zerolog.Logger, next http.Handler) http.Handler {
	h := hlog.AccessHandler(func(r *http.Request, status, size int, elapsed time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("elapsed", elapsed).
			Msg("request")
	})(next)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	return hlog.NewHandler(log)(h)
}
