package trainer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tornwatch/torntrainer/pkg/store"
	"github.com/tornwatch/torntrainer/pkg/torn"
)

type fakeAPI struct {
	user      torn.Payload
	cooldowns torn.Payload
	crimes    torn.Payload
	market    map[int]torn.Payload

	trainCalls []trainCall
}

type trainCall struct {
	slot, points int
	dryRun       bool
}

func (f *fakeAPI) User(ctx context.Context, selections string) (torn.Payload, error) {
	return f.user, nil
}

func (f *fakeAPI) Cooldowns(ctx context.Context) (torn.Payload, error) {
	return f.cooldowns, nil
}

func (f *fakeAPI) Crimes(ctx context.Context) (torn.Payload, error) {
	return f.crimes, nil
}

func (f *fakeAPI) MarketItem(ctx context.Context, itemID int, selections string) (torn.Payload, error) {
	return f.market[itemID], nil
}

func (f *fakeAPI) PlanTrain(ctx context.Context, slot, points int, dryRun bool) (torn.Payload, error) {
	f.trainCalls = append(f.trainCalls, trainCall{slot, points, dryRun})
	return torn.Payload{"planned": true}, nil
}

func (f *fakeAPI) Close() error { return nil }

func newTestTrainer(t *testing.T, api *fakeAPI) (*Trainer, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "torn.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(api, s, nil), s
}

func bars(energy, nerve float64) torn.Payload {
	return torn.Payload{
		"bars": map[string]any{
			"energy": map[string]any{"current": energy},
			"nerve":  map[string]any{"current": nerve},
		},
	}
}

func TestDecideAndRecommend_GymWhenEnergyHigh(t *testing.T) {
	api := &fakeAPI{
		user:      bars(95, 0),
		cooldowns: torn.Payload{"cooldowns": map[string]any{"crimes": 120.0}},
	}
	tr, st := newTestTrainer(t, api)

	recs, err := tr.DecideAndRecommend(context.Background())
	if err != nil {
		t.Fatalf("DecideAndRecommend failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Type != "gym" {
		t.Fatalf("recs = %+v; want one gym recommendation", recs)
	}
	if recs[0].Slot != 1 || recs[0].Points != 95 {
		t.Errorf("gym rec = slot %d points %d; want slot 1 points 95", recs[0].Slot, recs[0].Points)
	}
	if len(api.trainCalls) != 1 {
		t.Fatalf("PlanTrain called %d times; want 1", len(api.trainCalls))
	}
	if !api.trainCalls[0].dryRun {
		t.Error("PlanTrain should default to dry-run")
	}

	snap, err := st.LastSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LastSnapshot failed: %v", err)
	}
	if snap == nil {
		t.Error("decision pass did not persist a snapshot")
	}
}

func TestDecideAndRecommend_CapsTrainPoints(t *testing.T) {
	api := &fakeAPI{
		user:      bars(400, 0),
		cooldowns: torn.Payload{},
	}
	tr, _ := newTestTrainer(t, api)

	recs, err := tr.DecideAndRecommend(context.Background())
	if err != nil {
		t.Fatalf("DecideAndRecommend failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Points != trainPointCap {
		t.Errorf("recs = %+v; want points capped at %d", recs, trainPointCap)
	}
}

func TestDecideAndRecommend_CrimeWhenNerveHighAndNoCooldown(t *testing.T) {
	api := &fakeAPI{
		user:      bars(0, 35),
		cooldowns: torn.Payload{"cooldowns": map[string]any{"crimes": 0.0}},
		crimes: torn.Payload{
			"crimes": map[string]any{
				"3": map[string]any{
					"name": "Pickpocket", "nerve": 2.0,
					"money_min": 100.0, "money_max": 300.0,
				},
				"7": map[string]any{
					"name": "Larceny", "nerve": 5.0,
					"money_min": 2000.0, "money_max": 4000.0,
				},
			},
		},
	}
	tr, _ := newTestTrainer(t, api)

	recs, err := tr.DecideAndRecommend(context.Background())
	if err != nil {
		t.Fatalf("DecideAndRecommend failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Type != "crime" {
		t.Fatalf("recs = %+v; want one crime recommendation", recs)
	}
	// Larceny: avg 3000 / 5 nerve = 600 cpn beats Pickpocket's 100.
	if recs[0].Crime == nil || recs[0].Crime.Name != "Larceny" {
		t.Errorf("picked crime %+v; want Larceny", recs[0].Crime)
	}
	if recs[0].Crime.CashPerNerve != 600 {
		t.Errorf("cash per nerve = %v; want 600", recs[0].Crime.CashPerNerve)
	}
}

func TestDecideAndRecommend_CrimeBlockedByCooldown(t *testing.T) {
	api := &fakeAPI{
		user:      bars(0, 35),
		cooldowns: torn.Payload{"cooldowns": map[string]any{"crimes": 60.0}},
	}
	tr, _ := newTestTrainer(t, api)

	recs, err := tr.DecideAndRecommend(context.Background())
	if err != nil {
		t.Fatalf("DecideAndRecommend failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("recs = %+v; want none while crimes cooldown is active", recs)
	}
}

func TestDecideAndRecommend_BelowThresholds(t *testing.T) {
	api := &fakeAPI{
		user:      bars(10, 5),
		cooldowns: torn.Payload{},
	}
	tr, _ := newTestTrainer(t, api)

	recs, err := tr.DecideAndRecommend(context.Background())
	if err != nil {
		t.Fatalf("DecideAndRecommend failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("recs = %+v; want none below thresholds", recs)
	}
	if len(api.trainCalls) != 0 {
		t.Errorf("PlanTrain called %d times; want 0", len(api.trainCalls))
	}
}

func TestWatchMarket_BuyAndSellAlerts(t *testing.T) {
	api := &fakeAPI{
		market: map[int]torn.Payload{
			206: {"bazaar": []any{
				map[string]any{"cost": 95.0},
				map[string]any{"cost": 140.0},
			}},
			180: {"bazaar": []any{
				map[string]any{"cost": 950.0},
			}},
		},
	}
	tr, st := newTestTrainer(t, api)
	ctx := context.Background()

	if err := st.UpsertMarketWatch(ctx, 206, 100, 500); err != nil {
		t.Fatalf("UpsertMarketWatch failed: %v", err)
	}
	if err := st.UpsertMarketWatch(ctx, 180, 100, 900); err != nil {
		t.Fatalf("UpsertMarketWatch failed: %v", err)
	}

	alerts, err := tr.WatchMarket(ctx)
	if err != nil {
		t.Fatalf("WatchMarket failed: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("alerts = %+v; want buy on 206 and sell on 180", alerts)
	}

	byItem := map[int64]Alert{}
	for _, a := range alerts {
		byItem[a.ItemID] = a
	}
	if a := byItem[206]; a.Type != "buy" || a.Price != 95 {
		t.Errorf("item 206 alert = %+v; want buy at 95", a)
	}
	if a := byItem[180]; a.Type != "sell" || a.Price != 950 {
		t.Errorf("item 180 alert = %+v; want sell at 950", a)
	}

	// Alerts land in the audit trail and last prices are recorded.
	records, err := st.RecentActions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentActions failed: %v", err)
	}
	var alertRecords int
	for _, r := range records {
		if r.Kind == "market_alert" {
			alertRecords++
		}
	}
	if alertRecords != 2 {
		t.Errorf("got %d market_alert records; want 2", alertRecords)
	}

	items, err := st.MarketWatchAll(ctx)
	if err != nil {
		t.Fatalf("MarketWatchAll failed: %v", err)
	}
	for _, w := range items {
		if !w.LastSeenPrice.Valid {
			t.Errorf("item %d has no recorded last price", w.ItemID)
		}
	}
}

func TestWatchMarket_NoListings(t *testing.T) {
	api := &fakeAPI{
		market: map[int]torn.Payload{206: {"bazaar": []any{}}},
	}
	tr, st := newTestTrainer(t, api)
	ctx := context.Background()

	if err := st.UpsertMarketWatch(ctx, 206, 100, 500); err != nil {
		t.Fatalf("UpsertMarketWatch failed: %v", err)
	}
	alerts, err := tr.WatchMarket(ctx)
	if err != nil {
		t.Fatalf("WatchMarket failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("alerts = %+v; want none without listings", alerts)
	}
}

func TestBestCrimeByCashPerNerve_FieldVariants(t *testing.T) {
	crimes := torn.Payload{
		"crimes": map[string]any{
			"1": map[string]any{"name": "Search", "nerve_required": 2.0, "value": 50.0},
			"2": map[string]any{"name": "Shoplift", "nerveCost": 3.0, "min_cash": 30.0, "max_cash": 90.0},
		},
	}
	best := bestCrimeByCashPerNerve(crimes)
	if best == nil {
		t.Fatal("no crime picked")
	}
	// Search: 50/2 = 25 beats Shoplift: 60/3 = 20.
	if best.Name != "Search" {
		t.Errorf("picked %q; want Search", best.Name)
	}
}

func TestBestCrimeByCashPerNerve_SkipsZeroNerve(t *testing.T) {
	crimes := torn.Payload{
		"crimes": map[string]any{
			"1": map[string]any{"name": "Free", "nerve": 0.0, "value": 1000.0},
		},
	}
	if best := bestCrimeByCashPerNerve(crimes); best != nil {
		t.Errorf("picked %+v; want nil for zero-nerve table", best)
	}
}

func TestLowestBazaarPrice_ObjectForm(t *testing.T) {
	info := torn.Payload{
		"bazaar": map[string]any{
			"a": map[string]any{"price": 300.0},
			"b": map[string]any{"price": 120.0},
		},
	}
	price, ok := lowestBazaarPrice(info)
	if !ok || price != 120 {
		t.Errorf("lowestBazaarPrice = %v, %v; want 120, true", price, ok)
	}
}
