package app

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictlabs/marketcore/internal/config"
	"github.com/predictlabs/marketcore/internal/crypto"
	"github.com/predictlabs/marketcore/internal/ctf"
	"github.com/predictlabs/marketcore/internal/domain"
	"github.com/predictlabs/marketcore/internal/fpmm"
	"github.com/predictlabs/marketcore/internal/ledger"
	"github.com/predictlabs/marketcore/internal/oracle"
	"github.com/predictlabs/marketcore/internal/points"
	"github.com/predictlabs/marketcore/internal/social"
	"github.com/predictlabs/marketcore/internal/staking"
)

// Engines bundles the in-memory ledgers and market engines. They share one
// native ledger so value moves between them without adapters.
type Engines struct {
	Native     *ledger.Native
	Collateral *ledger.Collateral
	Tokens     *ctf.Engine
	Factory    *fpmm.Factory
	Points     *points.Engine
	Oracle     *oracle.Oracle
	Staking    *staking.Engine
	Social     *social.Gateway

	Owner  common.Address
	Signer *crypto.Signer
}

// buildEngines constructs and configures the full engine graph from the
// configuration. Every event the engines emit flows through the given sink.
func buildEngines(cfg *config.Config, sink domain.EventSink) (*Engines, error) {
	e := &Engines{}

	// Resolve the admin signing key and the owner account.
	if cfg.Admin.PrivateKey != "" || cfg.Admin.EncryptedKeyPath != "" {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Admin.PrivateKey,
			EncryptedKeyPath: cfg.Admin.EncryptedKeyPath,
			KeyPassword:      cfg.Admin.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("engines: admin key: %w", err)
		}
		signer, err := crypto.NewSigner(keyHex)
		if err != nil {
			return nil, fmt.Errorf("engines: admin signer: %w", err)
		}
		e.Signer = signer
		e.Owner = signer.Address()
	}
	if cfg.Admin.OwnerAddress != "" {
		e.Owner = common.HexToAddress(cfg.Admin.OwnerAddress)
	}
	if e.Owner == (common.Address{}) {
		return nil, fmt.Errorf("engines: no owner account (set admin.owner_address or admin.private_key)")
	}

	oracleAddr := common.HexToAddress(cfg.Chain.OracleAddress)
	tokensAddr := common.HexToAddress(cfg.Chain.TokensAddress)
	collateralAddr := common.HexToAddress(cfg.Chain.CollateralAddress)
	factoryAddr := common.HexToAddress(cfg.Chain.FactoryAddress)
	pointsAddr := common.HexToAddress(cfg.Chain.PointsAddress)
	stakingAddr := common.HexToAddress(cfg.Chain.StakingAddress)
	socialAddr := common.HexToAddress(cfg.Chain.SocialAddress)

	e.Native = ledger.NewNative()
	e.Collateral = ledger.NewCollateral(collateralAddr, e.Native)
	e.Tokens = ctf.New(tokensAddr, e.Collateral, sink)
	e.Factory = fpmm.NewFactory(factoryAddr, e.Collateral, e.Tokens, sink)
	e.Points = points.New(pointsAddr, e.Owner, e.Native, cfg.Chain.ChainID, nil, sink)
	e.Oracle = oracle.New(oracleAddr, e.Owner, e.Native, e.Collateral, e.Tokens, e.Factory, e.Points, nil, sink)

	rewardPerSecond, err := parseAmount(cfg.Staking.RewardPerSecond, "staking.reward_per_second")
	if err != nil {
		return nil, err
	}
	pointsPerSecond, err := parseAmount(cfg.Staking.PointsPerSecond, "staking.points_per_second")
	if err != nil {
		return nil, err
	}
	e.Staking = staking.New(stakingAddr, e.Owner, e.Native, rewardPerSecond, pointsPerSecond, nil, sink)

	e.Social = social.New(socialAddr, e.Owner, e.Native, nil, sink)

	if err := configureOracle(cfg, e); err != nil {
		return nil, err
	}
	if err := configureSocial(cfg, e); err != nil {
		return nil, err
	}
	return e, nil
}

// configureOracle applies the market lifecycle parameters as the owner.
func configureOracle(cfg *config.Config, e *Engines) error {
	o := e.Oracle

	if cfg.Market.MinBuyAmount != "" {
		amount, err := parseAmount(cfg.Market.MinBuyAmount, "market.min_buy_amount")
		if err != nil {
			return err
		}
		if err := o.UpdateMinBuyAmount(e.Owner, amount); err != nil {
			return fmt.Errorf("engines: min buy amount: %w", err)
		}
	}
	if cfg.Market.MaxBuyAmountPerQuestion != "" {
		amount, err := parseAmount(cfg.Market.MaxBuyAmountPerQuestion, "market.max_buy_amount_per_question")
		if err != nil {
			return err
		}
		if err := o.UpdateMaxBuyAmountPerQuestion(e.Owner, amount); err != nil {
			return fmt.Errorf("engines: max buy amount per question: %w", err)
		}
	}
	if d := cfg.Market.StopTradingBeforeEnd.Duration; d > 0 {
		if err := o.UpdateStopTradingBeforeMarketEnd(e.Owner, d); err != nil {
			return fmt.Errorf("engines: stop trading window: %w", err)
		}
	}
	if err := o.UpdateBuyWithUnlockedEnabled(e.Owner, cfg.Market.BuyWithUnlockedEnabled); err != nil {
		return fmt.Errorf("engines: buy with unlocked: %w", err)
	}
	if err := o.UpdateSellEnabled(e.Owner, cfg.Market.SellEnabled); err != nil {
		return fmt.Errorf("engines: sell enabled: %w", err)
	}

	if addrs := parseAddresses(cfg.Market.Initializers); len(addrs) > 0 {
		if err := o.UpdateInitializers(e.Owner, addrs, allTrue(len(addrs))); err != nil {
			return fmt.Errorf("engines: initializers: %w", err)
		}
	}
	if addrs := parseAddresses(cfg.Market.Proposers); len(addrs) > 0 {
		if err := o.UpdateProposers(e.Owner, addrs, allTrue(len(addrs))); err != nil {
			return fmt.Errorf("engines: proposers: %w", err)
		}
	}
	return nil
}

// configureSocial applies the social gateway budgets and binds it to the
// oracle so gateway buys route through it.
func configureSocial(cfg *config.Config, e *Engines) error {
	g := e.Social

	if err := g.AddOracleContract(e.Owner, e.Oracle.Address()); err != nil {
		return fmt.Errorf("engines: social oracle binding: %w", err)
	}

	limits := []struct {
		value string
		name  string
		set   func(common.Address, *big.Int) error
	}{
		{cfg.Social.MaxDailySpending, "social.max_daily_spending", g.SetMaxDailySocialSpending},
		{cfg.Social.MaxSpendingPerUser, "social.max_spending_per_user", g.SetMaxSpendingCapPerUser},
		{cfg.Social.MaxBuyAmount, "social.max_buy_amount", g.UpdateMaxBuyAmount},
		{cfg.Social.InitialGasDrop, "social.initial_gas_drop", g.UpdateInitialGasDrop},
	}
	for _, l := range limits {
		if l.value == "" {
			continue
		}
		amount, err := parseAmount(l.value, l.name)
		if err != nil {
			return err
		}
		if err := l.set(e.Owner, amount); err != nil {
			return fmt.Errorf("engines: %s: %w", l.name, err)
		}
	}

	if addrs := parseAddresses(cfg.Social.Spenders); len(addrs) > 0 {
		if err := g.UpdateSocialSpenders(e.Owner, addrs, allTrue(len(addrs))); err != nil {
			return fmt.Errorf("engines: social spenders: %w", err)
		}
	}
	return nil
}

// parseAmount parses a base-unit decimal string. Empty means zero.
func parseAmount(s, name string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("engines: %s: bad amount %q", name, s)
	}
	return v, nil
}

func parseAddresses(hexes []string) []common.Address {
	out := make([]common.Address, 0, len(hexes))
	for _, h := range hexes {
		if !common.IsHexAddress(h) {
			continue
		}
		out = append(out, common.HexToAddress(h))
	}
	return out
}

func allTrue(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}
