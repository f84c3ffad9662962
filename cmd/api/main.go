package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"verifica.org/internal/auth"
	"verifica.org/internal/certify"
	"verifica.org/internal/config"
	"verifica.org/internal/directory"
	"verifica.org/internal/documents"
	"verifica.org/internal/httpapi"
	"verifica.org/internal/identity"
	"verifica.org/internal/identity/rpc"
	"verifica.org/internal/ledger"
	"verifica.org/internal/ledger/remote"
	"verifica.org/internal/obs"
	"verifica.org/internal/pin"
	"verifica.org/internal/roles"
	"verifica.org/internal/signing"
	"verifica.org/internal/store/pg"
	"verifica.org/internal/store/redisstore"
)

var version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo("api", version)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

// stores bundles the backends chosen by configuration.
type stores struct {
	docs    documents.Store
	dir     directory.Store
	probe   httpapi.ReadyProbe
	closers []func() error
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		s, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &stores{docs: s, dir: s, probe: httpapi.ReadyProbe{Stores: []httpapi.Pinger{s}}, closers: []func() error{s.Close}}, nil
	case config.StoreRedis:
		s, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return &stores{docs: s, dir: s, probe: httpapi.ReadyProbe{Stores: []httpapi.Pinger{s}}, closers: []func() error{s.Close}}, nil
	}
	return &stores{docs: documents.NewInMemory(), dir: directory.NewMemory()}, nil
}

func newPinner(cfg *config.Config) (pin.Pinner, pin.Getter, error) {
	if cfg.Pinner == config.PinnerPinata {
		p, err := pin.NewPinata(pin.PinataConfig{
			Endpoint:  cfg.PinataEndpoint,
			Gateway:   cfg.PinataGateway,
			JWT:       cfg.PinataJWT,
			APIKey:    cfg.PinataAPIKey,
			APISecret: cfg.PinataSecret,
		})
		return p, nil, err
	}
	local := pin.NewLocal("/ipfs/")
	return local, local, nil
}

func newDeriver(path string) (*roles.Deriver, error) {
	if path == "" {
		return roles.NewDeriver(nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("role overrides: %w", err)
	}
	defer f.Close()
	overrides, err := roles.LoadOverrides(f)
	if err != nil {
		return nil, err
	}
	return roles.NewDeriver(overrides)
}

// networks connects every configured chain. Allowed ledger networks without a
// relay endpoint get an in-process registry.
func networks(cfg *config.Config, logger *zap.Logger) (httpapi.Networks, []func() error, error) {
	out := httpapi.Networks{}
	var closers []func() error
	ids := append([]int64{}, cfg.LedgerNetworks...)
	ids = append(ids, cfg.ChainIDs()...)
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		var n httpapi.Network
		if addr, ok := cfg.RegistryEndpoints[id]; ok {
			c, err := remote.Dial(addr)
			if err != nil {
				return nil, closers, fmt.Errorf("registry relay for chain %d: %w", id, err)
			}
			closers = append(closers, c.Close)
			n.Ledger = c
		} else {
			n.Ledger = ledger.NewMemory(id)
			logger.Warn("no registry relay configured, using in-process registry", zap.Int64("chain_id", id))
		}
		if url, ok := cfg.NameServiceURLs[id]; ok {
			n.Names = rpc.New(url)
		}
		out[id] = n
	}
	return out, closers, nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range st.closers {
			_ = c()
		}
	}()

	pinner, content, err := newPinner(cfg)
	if err != nil {
		return err
	}
	deriver, err := newDeriver(cfg.RoleOverridesFile)
	if err != nil {
		return err
	}

	var verifier *auth.Verifier
	if cfg.AuthSecret != "" {
		if verifier, err = auth.NewVerifier(cfg.AuthSecret); err != nil {
			return err
		}
	} else {
		logger.Warn("VERIFICA_AUTH_SECRET not set, authenticated routes will reject every request")
	}

	resolverOpts := []identity.Option{identity.WithCacheTTL(cfg.NameCacheTTL, cfg.NameCacheSize)}
	if cfg.NameFallbackURL != "" {
		url := cfg.NameFallbackURL
		resolverOpts = append(resolverOpts, identity.WithFallback(func(context.Context) (identity.Conn, error) {
			return rpc.New(url), nil
		}))
	}

	nets, netClosers, err := networks(cfg, logger)
	defer func() {
		for _, c := range netClosers {
			_ = c()
		}
	}()
	if err != nil {
		return err
	}

	gateway := ledger.NewGateway(cfg.LedgerNetworks)
	dir := directory.NewService(st.dir)
	cert := certify.New(st.docs, pinner, gateway, dir)
	api := httpapi.New(httpapi.Deps{
		Documents: documents.NewService(st.docs, documents.WithRecipientPolicy(cert)),
		Directory: dir,
		Certify:   cert,
		Signing:   signing.New(st.docs, gateway),
		Gateway:   gateway,
		Resolver:  identity.New(resolverOpts...),
		Deriver:   deriver,
		Verifier:  verifier,
		Networks:  nets,
		Content:   content,
	}, st.probe, version,
		httpapi.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}

	logger.Info("starting verifica-api",
		zap.String("version", version),
		zap.String("addr", srv.Addr),
		zap.String("store", cfg.StoreBackend),
		zap.String("pinner", cfg.Pinner),
		zap.Int64s("ledger_networks", cfg.LedgerNetworks),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-stop:
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}
