// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kestrelauth/kestrel/pkg/authserver"
	"github.com/kestrelauth/kestrel/pkg/authserver/oidcerr"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/handlers"
	"github.com/kestrelauth/kestrel/pkg/authserver/server/request"
	"github.com/kestrelauth/kestrel/pkg/logger"
	"github.com/kestrelauth/kestrel/pkg/networking"
	"github.com/kestrelauth/kestrel/pkg/telemetry"
)

const shutdownGrace = 10 * time.Second

func newServeCommand() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), listenAddr)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "listen address")
	return cmd
}

func runServe(ctx context.Context, listenAddr string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg authserver.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("parsing configuration: %w", err)
	}

	// Outbound calls go through the SSRF-protected client: client JWKS,
	// sector identifiers and logout URIs are attacker-influenced URLs.
	httpClient, err := networking.NewHttpClientBuilder().
		WithTimeout(10 * time.Second).
		Build()
	if err != nil {
		return fmt.Errorf("building HTTP client: %w", err)
	}

	metrics := telemetry.New()
	srv, err := authserver.New(ctx, cfg, authserver.Options{
		Authorizer: &headlessAuthorizer{},
		HTTPClient: httpClient,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := srv.Healthy(r.Context()); err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("authorization server listening", "addr", listenAddr, "issuer", cfg.Issuer)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// headlessAuthorizer serves the standalone binary, which has no login UI.
// Browser-based flows answer login_required; hosts embedding the server
// provide a real Authorizer instead.
type headlessAuthorizer struct{}

func (*headlessAuthorizer) Session(*http.Request) *request.AuthSession { return nil }

func (*headlessAuthorizer) Authorize(_ http.ResponseWriter, _ *http.Request, _ *handlers.AuthorizeRequest) (*request.AuthorizedGrant, *oidcerr.Error) {
	return nil, oidcerr.Validate(oidcerr.CodeLoginRequired, "this deployment has no interactive login; embed the server to serve browser flows")
}
