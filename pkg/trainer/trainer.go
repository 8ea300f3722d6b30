package trainer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tornwatch/torntrainer/pkg/store"
	"github.com/tornwatch/torntrainer/pkg/torn"
)

const (
	DefaultEnergyThreshold = 90
	DefaultNerveThreshold  = 30

	// trainPointCap bounds how many energy points one gym session plans.
	trainPointCap = 150
)

// API is the slice of the torn client the trainer consumes.
type API interface {
	User(ctx context.Context, selections string) (torn.Payload, error)
	Cooldowns(ctx context.Context) (torn.Payload, error)
	Crimes(ctx context.Context) (torn.Payload, error)
	MarketItem(ctx context.Context, itemID int, selections string) (torn.Payload, error)
	PlanTrain(ctx context.Context, slot, points int, dryRun bool) (torn.Payload, error)
	Close() error
}

// Recommendation is one suggested action from a decision pass.
type Recommendation struct {
	Type    string     `json:"type"`
	Message string     `json:"message"`
	Slot    int        `json:"slot,omitempty"`
	Points  int        `json:"points,omitempty"`
	Crime   *CrimePick `json:"crime,omitempty"`
}

// Alert is a market watch threshold crossing.
type Alert struct {
	ItemID  int64   `json:"item_id"`
	Type    string  `json:"type"`
	Message string  `json:"message"`
	Price   float64 `json:"price"`
}

// Trainer applies threshold heuristics over polled API state and persists
// observations and alerts.
type Trainer struct {
	client          API
	store           *store.Store
	energyThreshold int
	nerveThreshold  int
	simulateMoney   bool
	dryRun          bool
	log             *zap.Logger
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithThresholds overrides the energy/nerve decision thresholds.
func WithThresholds(energy, nerve int) Option {
	return func(t *Trainer) {
		t.energyThreshold = energy
		t.nerveThreshold = nerve
	}
}

// WithSimulateMoney overlays synthetic on-hand money for dry experiments.
func WithSimulateMoney(on bool) Option {
	return func(t *Trainer) { t.simulateMoney = on }
}

// WithDryRun marks planned actions as dry-run in the audit trail.
func WithDryRun(on bool) Option {
	return func(t *Trainer) { t.dryRun = on }
}

// New creates a Trainer over the given client and store.
func New(client API, st *store.Store, log *zap.Logger, opts ...Option) *Trainer {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Trainer{
		client:          client,
		store:           st,
		energyThreshold: DefaultEnergyThreshold,
		nerveThreshold:  DefaultNerveThreshold,
		dryRun:          true,
		log:             log,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DecideAndRecommend runs one decision pass: fetch bars and cooldowns, emit
// gym/crime recommendations, persist a snapshot.
func (t *Trainer) DecideAndRecommend(ctx context.Context) ([]Recommendation, error) {
	user, err := t.client.User(ctx, "bars,profile")
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	cooldowns, err := t.client.Cooldowns(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch cooldowns: %w", err)
	}

	energy, _ := user.Float("bars", "energy", "current")
	nerve, _ := user.Float("bars", "nerve", "current")

	if t.simulateMoney {
		if user.Map("money") == nil {
			user["money"] = map[string]any{"onhand": 1_000_000.0}
		}
	}

	var recs []Recommendation

	if int(energy) >= t.energyThreshold {
		points := int(energy)
		if points > trainPointCap {
			points = trainPointCap
		}
		rec := Recommendation{
			Type:    "gym",
			Message: fmt.Sprintf("Energy %d >= %d, recommend gym: slot 1", int(energy), t.energyThreshold),
			Slot:    1,
			Points:  points,
		}
		recs = append(recs, rec)
		if _, err := t.client.PlanTrain(ctx, rec.Slot, rec.Points, t.dryRun); err != nil {
			t.log.Error("failed to record train plan", zap.Error(err))
		}
	}

	if int(nerve) >= t.nerveThreshold && crimesAllowed(cooldowns) {
		crimes, err := t.client.Crimes(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch crimes: %w", err)
		}
		if best := bestCrimeByCashPerNerve(crimes); best != nil {
			recs = append(recs, Recommendation{
				Type: "crime",
				Message: fmt.Sprintf("Nerve %d >= %d, recommend crime: %s (cpn=%.2f)",
					int(nerve), t.nerveThreshold, best.Name, best.CashPerNerve),
				Crime: best,
			})
		}
	}

	snapshot := map[string]any{
		"user":            map[string]any(user),
		"cooldowns":       map[string]any(cooldowns),
		"recommendations": recs,
	}
	if err := t.store.SaveSnapshot(ctx, snapshot); err != nil {
		t.log.Error("failed to save snapshot", zap.Error(err))
	}
	return recs, nil
}

// WatchMarket checks each watched item's lowest bazaar price against its
// thresholds and records alerts.
func (t *Trainer) WatchMarket(ctx context.Context) ([]Alert, error) {
	watches, err := t.store.MarketWatchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load market watch: %w", err)
	}

	var alerts []Alert
	for _, w := range watches {
		info, err := t.client.MarketItem(ctx, int(w.ItemID), "bazaar")
		if err != nil {
			return alerts, fmt.Errorf("fetch market item %d: %w", w.ItemID, err)
		}
		price, ok := lowestBazaarPrice(info)
		if !ok {
			continue
		}
		if err := t.store.UpdateMarketLastPrice(ctx, w.ItemID, price); err != nil {
			t.log.Error("failed to update last price", zap.Int64("item_id", w.ItemID), zap.Error(err))
		}
		if w.BuyThreshold.Valid && price <= w.BuyThreshold.Float64 {
			alerts = append(alerts, Alert{
				ItemID: w.ItemID,
				Type:   "buy",
				Message: fmt.Sprintf("Market BUY alert for item %d: price %.0f <= %.0f",
					w.ItemID, price, w.BuyThreshold.Float64),
				Price: price,
			})
		}
		if w.SellThreshold.Valid && price >= w.SellThreshold.Float64 {
			alerts = append(alerts, Alert{
				ItemID: w.ItemID,
				Type:   "sell",
				Message: fmt.Sprintf("Market SELL alert for item %d: price %.0f >= %.0f",
					w.ItemID, price, w.SellThreshold.Float64),
				Price: price,
			})
		}
	}

	for _, alert := range alerts {
		err := t.store.LogAction(ctx, "market_alert",
			map[string]any{"alert": alert}, map[string]any{"notified": true})
		if err != nil {
			t.log.Error("failed to record market alert", zap.Error(err))
		}
	}
	return alerts, nil
}

// Run polls on the given interval until the context is cancelled. Pass
// errors are logged and absorbed; the client is closed on exit.
func (t *Trainer) Run(ctx context.Context, interval time.Duration) {
	defer func() {
		if err := t.client.Close(); err != nil {
			t.log.Error("failed to close client", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.log.Info("trainer started", zap.Duration("interval", interval))
	for {
		t.pass(ctx)
		select {
		case <-ctx.Done():
			t.log.Info("trainer stopping")
			return
		case <-ticker.C:
		}
	}
}

func (t *Trainer) pass(ctx context.Context) {
	recs, err := t.DecideAndRecommend(ctx)
	if err != nil {
		t.log.Error("decision pass failed", zap.Error(err))
		return
	}
	alerts, err := t.WatchMarket(ctx)
	if err != nil {
		t.log.Error("market watch failed", zap.Error(err))
	}
	if len(recs) > 0 {
		t.log.Info("recommendations", zap.Any("recommendations", recs))
	}
	if len(alerts) > 0 {
		t.log.Info("market alerts", zap.Any("alerts", alerts))
	}
}
