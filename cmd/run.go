package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/flashjit/amm"
	"github.com/michaelpento.lv/flashjit/chain"
	"github.com/michaelpento.lv/flashjit/codec"
	"github.com/michaelpento.lv/flashjit/config"
	"github.com/michaelpento.lv/flashjit/dex/curve"
	"github.com/michaelpento.lv/flashjit/dex/uniswap"
	"github.com/michaelpento.lv/flashjit/engine"
	"github.com/michaelpento.lv/flashjit/flashloan"
	"github.com/michaelpento.lv/flashjit/flashloan/aave"
	"github.com/michaelpento.lv/flashjit/flashloan/balancer"
	"github.com/michaelpento.lv/flashjit/flashloan/univ3"
	"github.com/michaelpento.lv/flashjit/utils"
	"github.com/michaelpento.lv/flashjit/utils/metrics"
	"github.com/michaelpento.lv/flashjit/utils/monitor"
)

var metricsAddr string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Wire the execution substrate and serve metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()

		if err := config.LoadEnv(); err != nil {
			log.Debug("no .env file loaded", zap.Error(err))
		}
		path := cfgFile
		if path == "" {
			path = config.GetEnvWithDefault(config.EnvConfigPath, "flashjit.json")
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return err
		}

		store, err := config.NewStore(cfg)
		if err != nil {
			return err
		}

		metrics.Initialize(log)

		state := chain.NewState()
		pools := amm.NewRegistry()
		concentrated := buildPools(cfg, state, pools)
		clock := chain.SystemClock{}
		account := common.HexToAddress(cfg.Executor)

		book := engine.NewPositionRegistry()
		state.Register(book)

		eng, err := buildEngine(account, state, store, clock, log, pools, book)
		if err != nil {
			return err
		}
		if err := eng.RegisterMetrics(metrics.Registry()); err != nil {
			return err
		}

		limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst)
		selector := engine.NewTokenSelector(cfg.Ranking())
		router := flashloan.NewRouter(account, state, store, eng, selector, clock, limiter, log)
		if err := router.RegisterMetrics(metrics.Registry()); err != nil {
			return err
		}

		substrate := metrics.NewSubstrateMetrics("flashjit")
		view := store.View()
		wired, err := buildProviders(view, state, router, concentrated, log)
		if err != nil {
			return err
		}
		substrate.Providers.Set(float64(wired))
		substrate.Pools.Set(float64(len(cfg.Pools)))

		mon, err := monitor.NewSystemMonitor(cmd.Context(), metrics.Registry(), log)
		if err != nil {
			return err
		}
		defer mon.Cleanup()

		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("metrics endpoint listening", zap.String("addr", metricsAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()

		log.Info("substrate wired",
			zap.String("authority", store.Authority().Hex()),
			zap.String("executor", account.Hex()),
			zap.Duration("execution_window", view.ExecutionWindow))

		<-cmd.Context().Done()
		return srv.Close()
	},
}

// buildPools seeds every configured pool into the registry and the snapshot
// set. Concentrated pools are returned by address so a pool-as-lender
// provider can be wired over one of them.
func buildPools(cfg *config.Config, state *chain.State, pools *amm.Registry) map[common.Address]*amm.ConcentratedPool {
	concentrated := make(map[common.Address]*amm.ConcentratedPool)
	for _, pe := range cfg.Pools {
		addr := common.HexToAddress(pe.Address)
		tok0 := common.HexToAddress(pe.Token0)
		tok1 := common.HexToAddress(pe.Token1)
		switch pe.Kind {
		case "constant_product":
			pool := amm.NewConstantProductPool(addr, tok0, tok1, state.Ledger)
			pools.AddConstantProduct(pool)
			state.Register(pool)
		case "concentrated":
			pool := amm.NewConcentratedPool(addr, tok0, tok1, pe.FeeTier, state.Ledger)
			pools.AddConcentrated(pool)
			state.Register(pool)
			concentrated[addr] = pool
		case "stable":
			pool := amm.NewStablePool(addr, tok0, tok1, pe.Amp, state.Ledger)
			pools.AddStable(pool)
			state.Register(pool)
		}
	}
	return concentrated
}

// buildProviders registers every configured capital source and returns how
// many were wired. The univ3 provider lends from one of the configured
// concentrated pools.
func buildProviders(view config.Runtime, state *chain.State, router *flashloan.Router, concentrated map[common.Address]*amm.ConcentratedPool, log *zap.Logger) (int, error) {
	wired := 0
	if addr, ok := view.Providers["aave"]; ok {
		router.RegisterProvider(flashloan.ProviderAave,
			aave.NewProvider(addr, state.Ledger, router, log))
		wired++
	}
	if addr, ok := view.Providers["balancer"]; ok {
		router.RegisterProvider(flashloan.ProviderBalancer,
			balancer.NewProvider(addr, state.Ledger, router, log))
		wired++
	}
	if addr, ok := view.Providers["univ3"]; ok {
		pool, found := concentrated[addr]
		if !found {
			return 0, fmt.Errorf("univ3 provider requires a concentrated pool at %s", addr.Hex())
		}
		router.RegisterProvider(flashloan.ProviderUniswapV3,
			univ3.NewProvider(pool, router, log))
		wired++
	}
	return wired, nil
}

// buildEngine wires every pool flavor into the engine.
func buildEngine(account common.Address, state *chain.State, store *config.Store, clock chain.Clock, log *zap.Logger, pools *amm.Registry, book *engine.PositionRegistry) (*engine.Engine, error) {
	eng := engine.New(account, state, store, clock, log)

	v2, err := uniswap.NewV2Adapter(state.Ledger, pools, log)
	if err != nil {
		return nil, err
	}
	state.Register(v2)
	eng.RegisterSwapAdapter(codec.DexConstantProduct, v2)
	eng.RegisterLiquidityAdapter(codec.PoolTypeUniswapV2, v2)
	eng.RegisterLiquidityAdapter(codec.PoolTypeSushiV2, v2)

	v3 := uniswap.NewV3Adapter(state.Ledger, pools, book, log)
	eng.RegisterSwapAdapter(codec.DexConcentrated, v3)
	eng.RegisterLiquidityAdapter(codec.PoolTypeUniswapV3, v3)

	eng.RegisterSwapAdapter(codec.DexStable, curve.NewStableAdapter(pools, log))
	return eng, nil
}

func init() {
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "metrics listen address")
	rootCmd.AddCommand(runCmd)
}
