package app

import (
	"context"
	"errors"
	"net/http"

	"wa-relay/internal/config"
	"wa-relay/internal/logger"
	"wa-relay/internal/messagelog"
	"wa-relay/internal/middleware"
	"wa-relay/internal/qr"
	"wa-relay/internal/session"
	"wa-relay/internal/whatsapp"
)

type App struct {
	httpServer *http.Server
	controller *session.Controller
	cleanup    func() error
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	return newApp(ctx, cfg, whatsapp.NewConnector(logger.Zerolog()))
}

func newApp(ctx context.Context, cfg config.Config, connector session.Connector) (*App, error) {
	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var verifier middleware.TokenVerifier
	if cfg.OIDCIssuer != "" {
		v, err := middleware.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			_ = infra.Close()
			return nil, err
		}
		verifier = v
		logger.Info("oidc verifier ready", map[string]any{"issuer": cfg.OIDCIssuer})
	}

	opts := session.Options{
		QRTimeout:         cfg.QRTimeout,
		ReconnectDelay:    cfg.ReconnectDelay,
		MaxRetries:        cfg.MaxRetries,
		WipeThreshold:     cfg.WipeThreshold,
		RenewPendingQR:    cfg.LoginPolicy == config.LoginPolicyRenew,
		LoginWait:         cfg.LoginWait,
		SendRatePerMinute: cfg.SendRatePerMinute,
		EncodeQR:          qr.EncodeDataURL,
	}
	if infra.Redis != nil {
		opts.Mirror = session.NewRedisMirror(infra.Redis.Client, cfg.SnapshotTTL)
	}
	if infra.DB != nil {
		opts.Messages = messagelog.NewPostgresLog(infra.DB)
	}

	controller := session.NewController(
		session.NewRegistry(),
		infra.Credentials,
		connector,
		opts,
	)

	router := setupHTTP(cfg, controller, infra, verifier)

	server := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: router,
	}

	return &App{
		httpServer: server,
		controller: controller,
		cleanup:    infra.Close,
	}, nil
}

func (a *App) Run() error {
	err := a.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, closes every live connection and
// releases the backends. Every step runs even when an earlier one fails.
func (a *App) Shutdown(ctx context.Context) error {
	// Pending logins return now instead of holding the server open.
	a.controller.Drain()

	errs := []error{
		a.httpServer.Shutdown(ctx),
		a.controller.Shutdown(ctx),
	}
	if a.cleanup != nil {
		errs = append(errs, a.cleanup())
	}
	return errors.Join(errs...)
}
