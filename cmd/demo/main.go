// Command demo runs a merchant and a buyer in one process, connected by
// an in-process transport, and purchases one premium resource end to end
// against a real Solana network.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	solaibot "github.com/quantaliz/solaibot"
	"github.com/quantaliz/solaibot/catalog"
	"github.com/quantaliz/solaibot/clients"
	"github.com/quantaliz/solaibot/logger"
	"github.com/quantaliz/solaibot/merchant"
	"github.com/quantaliz/solaibot/metrics"
	"github.com/quantaliz/solaibot/types"
	"github.com/quantaliz/solaibot/wallet"
)

type config struct {
	// MerchantAgentAddress is the ledger address payments are sent to.
	MerchantAgentAddress string `envconfig:"MERCHANT_AGENT_ADDRESS" required:"true"`

	PaymentNetwork string `envconfig:"PAYMENT_NETWORK" default:"solana-devnet"`
	SolanaRPCURL   string `envconfig:"SOLANA_RPC_URL"`

	ClientWalletAddress    string `envconfig:"CLIENT_WALLET_ADDRESS" required:"true"`
	ClientWalletPrivateKey string `envconfig:"CLIENT_WALLET_PRIVATE_KEY" required:"true"`

	TargetResource string        `envconfig:"TARGET_RESOURCE" default:"premium_weather"`
	Timeout        time.Duration `envconfig:"DEMO_TIMEOUT" default:"2m"`

	// MetricsAddr, when set, serves prometheus metrics on /metrics.
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

const (
	merchantAddr = "local://merchant"
	buyerAddr    = "local://buyer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "demo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		return err
	}

	log := logger.NewZapLogger(cfg.LogLevel)
	network := types.Network(cfg.PaymentNetwork)
	if !network.IsSolana() {
		return fmt.Errorf("demo pays native SOL; set PAYMENT_NETWORK to a Solana network, got %s", network)
	}

	rec := metrics.Recorder(metrics.NoopRecorder{})
	if cfg.MetricsAddr != "" {
		rec = metrics.NewPrometheusRecorder()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error("metrics server stopped", map[string]any{"error": err.Error()})
			}
		}()
	}

	bus := newBus()

	paywall, err := solaibot.New(
		merchant.Config{
			ProtocolAddress: merchantAddr,
			PayToAddress:    cfg.MerchantAgentAddress,
			Network:         network,
		},
		catalog.Default(),
		bus.endpoint(merchantAddr),
		solaibot.WithLogger(log),
		solaibot.WithMetrics(rec),
	)
	if err != nil {
		return err
	}
	defer paywall.Close()

	if err := paywall.AddNetwork(network, cfg.SolanaRPCURL); err != nil {
		return err
	}

	rpc, err := clients.NewSolanaClient(network, cfg.SolanaRPCURL)
	if err != nil {
		return err
	}

	w, err := wallet.New(network, cfg.ClientWalletPrivateKey, cfg.ClientWalletAddress, rpc)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	buyer := wallet.NewBuyer(w, bus.endpoint(buyerAddr), merchantAddr,
		wallet.WithLogger(log),
		wallet.WithAccessHandler(func(access types.ResourceAccess) {
			data, _ := json.MarshalIndent(access.ResourceData, "", "  ")
			fmt.Printf("access granted to %s (payment %s):\n%s\n",
				access.ResourceID, access.PaymentID, data)
			done <- nil
		}),
		wallet.WithErrorHandler(func(resErr types.ResourceError) {
			done <- fmt.Errorf("purchase failed: %s (%s)", resErr.Error, resErr.Message)
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	bus.serve(ctx, merchantAddr, merchantDispatch(paywall))
	bus.serve(ctx, buyerAddr, buyerDispatch(buyer))

	if err := buyer.RequestResource(ctx, cfg.TargetResource); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("no terminal response within %s", cfg.Timeout)
	}
}

func merchantDispatch(p *solaibot.Paywall) handler {
	return func(ctx context.Context, from string, msg interface{}) error {
		switch m := msg.(type) {
		case *types.ResourceRequest:
			return p.HandleResourceRequest(ctx, from, m)
		case *types.PaymentProof:
			return p.HandlePaymentProof(ctx, from, m)
		case *types.HealthCheckRequest:
			return p.HandleHealthCheck(ctx, from, m)
		default:
			return nil
		}
	}
}

func buyerDispatch(b *wallet.Buyer) handler {
	return func(ctx context.Context, from string, msg interface{}) error {
		switch m := msg.(type) {
		case *types.PaymentRequired:
			return b.HandlePaymentRequired(ctx, from, m)
		case *types.ResourceAccess:
			return b.HandleResourceAccess(ctx, from, m)
		case *types.ResourceError:
			return b.HandleResourceError(ctx, from, m)
		default:
			return nil
		}
	}
}
