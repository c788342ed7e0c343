// Package api implements app.Runner for the ledger server process.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chainsafe/token-ledger/pkg/amount"
	"github.com/chainsafe/token-ledger/pkg/app/httpserver"
	"github.com/chainsafe/token-ledger/pkg/auth"
	"github.com/chainsafe/token-ledger/pkg/config"
	"github.com/chainsafe/token-ledger/pkg/dispatcher"
	"github.com/chainsafe/token-ledger/pkg/ethrpc"
	"github.com/chainsafe/token-ledger/pkg/events"
	"github.com/chainsafe/token-ledger/pkg/ledger"
	"github.com/chainsafe/token-ledger/pkg/ledgerdb"
	"github.com/chainsafe/token-ledger/pkg/pgutil"
	"github.com/chainsafe/token-ledger/pkg/rpc"
)

const defaultRequestTimeout = 60 * time.Second

// Server holds cfg to init the ledger server.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new ledger server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("server config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ledger server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	genesis, err := genesisFromConfig(&cfg.Token)
	if err != nil {
		return err
	}

	feed := events.NewFeed(logger)
	disp, err := dispatcher.New(genesis, feed, logger)
	if err != nil {
		return fmt.Errorf("initialize ledger: %w", err)
	}
	disp.Start()
	defer disp.Stop()

	var store *ledgerdb.Store
	if cfg.Database.Enabled() {
		db, err := pgutil.ConnectDB(&cfg.Database)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		store = ledgerdb.NewStore(db)
		logger.Info("Projection store connected",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database),
		)
	}

	router, err := s.setupRouter(disp, feed, store, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}
	return httpserver.ServeAndWait(ctx, logger, srv, cfg.Shutdown.Timeout)
}

// genesisFromConfig converts the validated token configuration into the
// one-time genesis input. The zero address is the burn sentinel.
func genesisFromConfig(cfg *config.TokenConfig) (ledger.Genesis, error) {
	supply, err := amount.ToBaseUnits(cfg.TotalSupply, uint8(cfg.Decimals))
	if err != nil {
		return ledger.Genesis{}, fmt.Errorf("invalid total supply %q: %w", cfg.TotalSupply, err)
	}
	return ledger.Genesis{
		Name:         cfg.Name,
		Symbol:       cfg.Symbol,
		Decimals:     cfg.Decimals,
		TotalSupply:  supply,
		Deployer:     common.HexToAddress(cfg.Deployer),
		BurnSentinel: common.Address{},
	}, nil
}

func (s *Server) setupRouter(
	disp *dispatcher.Dispatcher,
	feed *events.Feed,
	store *ledgerdb.Store,
	logger *zap.Logger,
) (chi.Router, error) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())

	var jwt *auth.JWTValidator
	if s.cfg.JWKS.URL != "" {
		jwt = auth.NewJWTValidator(s.cfg.JWKS.URL, s.cfg.JWKS.Issuer)
		logger.Info("JWT bearer authentication enabled", zap.String("jwks_url", s.cfg.JWKS.URL))
	}

	handler := rpc.NewMethodHandler(disp, feed, logger)
	r.Handle("/rpc", rpc.NewServer(handler, jwt, logger))

	if s.cfg.EthRPC.Enabled {
		if store == nil {
			return nil, fmt.Errorf("eth_rpc requires the database projection")
		}
		ethSrv, err := ethrpc.NewServer(&s.cfg.EthRPC, disp, store, logger)
		if err != nil {
			return nil, fmt.Errorf("create eth json-rpc server: %w", err)
		}
		r.Mount("/eth", ethSrv)
		logger.Info("Ethereum JSON-RPC endpoint enabled",
			zap.String("path", "/eth"),
			zap.Uint64("chain_id", s.cfg.EthRPC.ChainID),
			zap.String("token_address", s.cfg.EthRPC.TokenAddress),
		)
	}

	return r, nil
}
