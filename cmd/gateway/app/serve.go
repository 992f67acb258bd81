package app

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/georchestra/gateway/pkg/account"
	"github.com/georchestra/gateway/pkg/authzrules"
	"github.com/georchestra/gateway/pkg/config"
	"github.com/georchestra/gateway/pkg/directory"
	"github.com/georchestra/gateway/pkg/errorpages"
	"github.com/georchestra/gateway/pkg/events"
	"github.com/georchestra/gateway/pkg/gatewayroute"
	"github.com/georchestra/gateway/pkg/logger"
	"github.com/georchestra/gateway/pkg/model"
	"github.com/georchestra/gateway/pkg/oidcclient"
	"github.com/georchestra/gateway/pkg/pipeline"
	"github.com/georchestra/gateway/pkg/resolver"
)

var (
	serveConfigDir string
	serveAddr      string
	servePublicURL string
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&serveConfigDir, "config-dir", "/etc/georchestra/gateway", "directory holding services/routes/security/role-mappings/logging YAML")
	cmd.Flags().StringVar(&serveAddr, "addr", ":8080", "address to listen on")
	cmd.Flags().StringVar(&servePublicURL, "public-url", "http://localhost:8080", "externally visible base URL, used to build OIDC redirect URIs")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(serveConfigDir)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx := cmd.Context()

	directories, primaryLogin, resolverDir := buildDirectories(cfg)

	var emitter *events.Emitter
	if cfg.BrokerURL != "" {
		em, closeBroker, err := events.Dial(ctx, cfg.BrokerURL, cfg.BrokerRoutingKey)
		if err != nil {
			return fmt.Errorf("dial event broker: %w", err)
		}
		emitter = em
		defer func() {
			if err := closeBroker(); err != nil {
				logger.Warnf("closing broker connection: %v", err)
			}
		}()
	}

	oidc := oidcclient.New()
	providers := make(map[string]model.OIDCProviderConfig, len(cfg.Security.OIDCProviders))
	for id, p := range cfg.Security.OIDCProviders {
		if !p.Enabled {
			continue
		}
		providers[id] = *p
		redirectURL := servePublicURL + "/login/oauth2/code/" + id
		if err := oidc.Register(ctx, id, *p, redirectURL); err != nil {
			return fmt.Errorf("register OIDC provider %q: %w", id, err)
		}
	}

	var accounts *account.Manager
	if resolverDir != nil {
		accounts = account.New(directory.NewAdapter(directories[primaryLogin]), emitter)
	}

	resolve, err := resolver.New(resolverDir, accounts, providers, cfg.RoleMappings, cfg.Security.CreateNonExistingUsers, cfg.Security.DefaultOrganization)
	if err != nil {
		return fmt.Errorf("build user resolver: %w", err)
	}

	authz, err := authzrules.NewEngine(cfg)
	if err != nil {
		return fmt.Errorf("compile access rules: %w", err)
	}

	routes, err := gatewayroute.Compile(cfg.Routes, cfg.ActiveProfiles)
	if err != nil {
		return fmt.Errorf("compile routes: %w", err)
	}

	errConv, err := errorpages.New(nil)
	if err != nil {
		return fmt.Errorf("build error converter: %w", err)
	}

	coordinator := pipeline.New(cfg, directories, primaryLogin, oidc, resolve, accounts, authz, routes, errConv)

	srv := &http.Server{
		Addr:         serveAddr,
		Handler:      coordinator.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return runWithGracefulShutdown(srv)
}

// buildDirectories instantiates one directory.Client per configured source
// and selects a primary one for POST /login bind and user resolution. Spec
// §3/§6 allow a map of directory sources but the resolver (C5) and login
// form (§6) each need exactly one target: in the adopted reading, the
// first enabled source in name order is primary (an Open Question decision,
// see DESIGN.md).
func buildDirectories(cfg *model.GatewayConfig) (clients map[string]*directory.Client, primary string, resolverDir resolver.Directory) {
	clients = make(map[string]*directory.Client, len(cfg.Security.Directories))
	names := make([]string, 0, len(cfg.Security.Directories))
	for name, src := range cfg.Security.Directories {
		if !src.Enabled {
			continue
		}
		clients[name] = directory.New(*src)
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return clients, "", nil
	}
	primary = names[0]
	resolverDir = directory.NewResolverAdapter(clients[primary])
	return clients, primary, resolverDir
}

// runWithGracefulShutdown serves srv until SIGINT/SIGTERM, then drains
// in-flight requests within a grace window before returning (spec §5:
// "drains in-flight requests (best-effort, with a grace window), then
// closes directory and broker connections").
func runWithGracefulShutdown(srv *http.Server) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gateway listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Infof("shutting down, draining in-flight requests")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
