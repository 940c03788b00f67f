// Package solaibot implements a pay-per-access protocol: a requester
// asks for a named resource, the merchant replies with payment
// instructions, the requester submits proof of an on-ledger payment, and
// the merchant verifies and settles that payment before releasing the
// resource.
package solaibot

import (
	"context"
	"fmt"

	"github.com/quantaliz/solaibot/catalog"
	"github.com/quantaliz/solaibot/clients"
	"github.com/quantaliz/solaibot/logger"
	"github.com/quantaliz/solaibot/merchant"
	"github.com/quantaliz/solaibot/metrics"
	"github.com/quantaliz/solaibot/records"
	"github.com/quantaliz/solaibot/settlement"
	"github.com/quantaliz/solaibot/types"
)

// Paywall bundles the provider-side components — catalog, payment record
// store, settlement service and protocol state machine — into one
// ready-to-use merchant.
type Paywall struct {
	merchant *merchant.Merchant
	settler  *settlement.Service
	store    *records.Store

	log logger.Logger
	rec metrics.Recorder

	opened []interface{ Close() }
}

// New creates a paywall serving the given catalog, sending replies
// through the given sender.
func New(cfg merchant.Config, cat *catalog.Catalog, sender merchant.Sender, opts ...Option) (*Paywall, error) {
	p := &Paywall{
		settler: settlement.NewService(),
		store:   records.NewStore(),
		log:     logger.NoopLogger{},
		rec:     metrics.NoopRecorder{},
	}

	for _, opt := range opts {
		opt(p)
	}

	m, err := merchant.New(cfg, cat, p.store, p.settler, sender,
		merchant.WithLogger(p.log),
		merchant.WithMetrics(p.rec),
	)
	if err != nil {
		return nil, err
	}
	p.merchant = m

	return p, nil
}

// AddNetwork configures settlement on a network by creating the
// appropriate ledger client. An empty rpcURL selects the network's
// public endpoint where one exists.
func (p *Paywall) AddNetwork(network types.Network, rpcURL string) error {
	switch {
	case network.IsSolana():
		client, err := clients.NewSolanaClient(network, rpcURL)
		if err != nil {
			return fmt.Errorf("failed to create Solana client for %s: %w", network, err)
		}
		p.opened = append(p.opened, client)
		return p.settler.AddSolanaClient(network, client)

	case network.IsEVM():
		client, err := clients.NewEVMClient(network, rpcURL)
		if err != nil {
			return fmt.Errorf("failed to create EVM client for %s: %w", network, err)
		}
		p.opened = append(p.opened, client)
		return p.settler.AddEVMClient(network, client)

	default:
		return types.NewProtocolError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("unsupported network: %s", network))
	}
}

// IsNetworkSupported checks whether settlement is configured for a network.
func (p *Paywall) IsNetworkSupported(network types.Network) bool {
	return p.settler.IsNetworkSupported(network)
}

// HandleResourceRequest processes an inbound resource request.
func (p *Paywall) HandleResourceRequest(ctx context.Context, sender string, req *types.ResourceRequest) error {
	return p.merchant.HandleResourceRequest(ctx, sender, req)
}

// HandlePaymentProof processes an inbound payment proof.
func (p *Paywall) HandlePaymentProof(ctx context.Context, sender string, proof *types.PaymentProof) error {
	return p.merchant.HandlePaymentProof(ctx, sender, proof)
}

// HandleHealthCheck answers a liveness probe.
func (p *Paywall) HandleHealthCheck(ctx context.Context, sender string, req *types.HealthCheckRequest) error {
	return p.merchant.HandleHealthCheck(ctx, sender, req)
}

// Merchant exposes the underlying state machine.
func (p *Paywall) Merchant() *merchant.Merchant {
	return p.merchant
}

// Close aborts in-flight settlements and releases ledger clients.
func (p *Paywall) Close() {
	p.merchant.Close()
	for _, c := range p.opened {
		c.Close()
	}
}

// Version information.
const (
	Version         = "1.0.0"
	ProtocolVersion = 1
)
