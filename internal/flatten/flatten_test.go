package flatten

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deltaflow/conf"
	"deltaflow/internal/model"
	"deltaflow/internal/product"

	"github.com/goccy/go-json"
)

type fakeExchange struct {
	mu        sync.Mutex
	orders    []model.ExchangeOrder
	positions []model.Position
	canceled  []model.CancelRef
	cancelAll int
	closeAll  int
	placed    []model.NewOrder
	cancelErr error
}

func (f *fakeExchange) Products(ctx context.Context) ([]model.Product, error) {
	return []model.Product{{ID: 7, Symbol: "ARCUSD", ContractValue: "10 ARC"}}, nil
}
func (f *fakeExchange) Ticker(ctx context.Context, symbol string) (*model.Ticker, error) {
	return &model.Ticker{Symbol: symbol, MarkPrice: 2.0}, nil
}
func (f *fakeExchange) ListOrders(ctx context.Context, states string) ([]model.ExchangeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ExchangeOrder(nil), f.orders...), nil
}
func (f *fakeExchange) PlaceOrder(ctx context.Context, order *model.NewOrder) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, *order)
	return json.RawMessage(`{}`), nil
}
func (f *fakeExchange) BatchOrders(ctx context.Context, productID int, productSymbol string, legs []model.BatchLeg) error {
	return nil
}
func (f *fakeExchange) CancelOrder(ctx context.Context, ref *model.CancelRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, *ref)
	return nil
}
func (f *fakeExchange) CancelAllOrders(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAll++
	return nil
}
func (f *fakeExchange) Positions(ctx context.Context) ([]model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Position(nil), f.positions...), nil
}
func (f *fakeExchange) CloseAllPositions(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeAll++
	return nil
}

func newTestService(ex *fakeExchange) *Service {
	cfg := &conf.TradingConfig{}
	cfg.MaxLotsPerOrder = 50000
	cfg.FlatTimeoutMs = 50
	cfg.FlatPollMs = 5
	return NewService(ex, product.NewCache(ex), cfg)
}

func TestCancelOrdersFiltersSymbol(t *testing.T) {
	ex := &fakeExchange{orders: []model.ExchangeOrder{
		{ID: 1, ProductID: 7, ProductSymbol: "ARCUSD"},
		{ID: 2, ProductID: 8, ProductSymbol: "BTCUSD"},
		{ID: 3, ProductID: 7, ProductSymbol: "ARCUSD", ClientOrderID: "abc"},
	}}
	s := newTestService(ex)

	n, err := s.CancelOrders(context.Background(), false, "ARCUSD", false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(ex.canceled) != 2 {
		t.Fatalf("canceled %d, want 2", n)
	}
	for _, ref := range ex.canceled {
		if ref.ProductID != 7 {
			t.Fatalf("ref = %+v", ref)
		}
	}
	if ex.canceled[1].ClientOrderID != "abc" {
		t.Fatalf("client_order_id not carried: %+v", ex.canceled[1])
	}
}

func TestCancelOrdersResolvesProductID(t *testing.T) {
	ex := &fakeExchange{orders: []model.ExchangeOrder{
		{ID: 1, ProductSymbol: "ARCUSD"}, // 没带 product_id
	}}
	s := newTestService(ex)
	if _, err := s.CancelOrders(context.Background(), false, "ARCUSD", false); err != nil {
		t.Fatal(err)
	}
	if len(ex.canceled) != 1 || ex.canceled[0].ProductID != 7 {
		t.Fatalf("canceled = %+v, want product_id resolved to 7", ex.canceled)
	}
}

func TestCancelOrdersFallbackAll(t *testing.T) {
	ex := &fakeExchange{
		orders:    []model.ExchangeOrder{{ID: 1, ProductID: 7, ProductSymbol: "ARCUSD"}},
		cancelErr: errors.New("boom"),
	}
	s := newTestService(ex)
	if _, err := s.CancelOrders(context.Background(), false, "ARCUSD", true); err != nil {
		t.Fatal(err)
	}
	if ex.cancelAll != 1 {
		t.Fatal("fallback cancel-all not triggered")
	}
}

func TestCancelOrdersGlobal(t *testing.T) {
	ex := &fakeExchange{}
	s := newTestService(ex)
	if _, err := s.CancelOrders(context.Background(), true, "", false); err != nil {
		t.Fatal(err)
	}
	if ex.cancelAll != 1 {
		t.Fatal("global scope must use cancel-all")
	}
}

func TestClosePosition(t *testing.T) {
	ex := &fakeExchange{positions: []model.Position{
		{ProductID: 7, ProductSymbol: "ARCUSD", Size: float64(-7)},
	}}
	s := newTestService(ex)
	closed, err := s.ClosePosition(context.Background(), "ARCUSD")
	if err != nil {
		t.Fatal(err)
	}
	if !closed || len(ex.placed) != 1 {
		t.Fatalf("placed = %+v", ex.placed)
	}
	o := ex.placed[0]
	// 空头仓位用买单平，只减仓
	if o.Side != model.SideBuy || !o.ReduceOnly || o.OrderType != model.OrderTypeMarket || o.Size != 7 {
		t.Fatalf("order = %+v", o)
	}
}

func TestClosePositionNoop(t *testing.T) {
	ex := &fakeExchange{}
	s := newTestService(ex)
	closed, err := s.ClosePosition(context.Background(), "ARCUSD")
	if err != nil {
		t.Fatal(err)
	}
	if closed || len(ex.placed) != 0 {
		t.Fatal("close on empty book must be a no-op")
	}
}

func TestIsFlatScoped(t *testing.T) {
	ex := &fakeExchange{
		orders:    []model.ExchangeOrder{{ID: 1, ProductSymbol: "BTCUSD"}},
		positions: []model.Position{{ProductSymbol: "BTCUSD", Size: float64(1)}},
	}
	s := newTestService(ex)

	flat, err := s.IsFlat(context.Background(), false, "ARCUSD")
	if err != nil || !flat {
		t.Fatalf("ARCUSD should be flat: flat=%v err=%v", flat, err)
	}
	flat, _ = s.IsFlat(context.Background(), false, "BTCUSD")
	if flat {
		t.Fatal("BTCUSD has orders and a position")
	}
	flat, _ = s.IsFlat(context.Background(), true, "")
	if flat {
		t.Fatal("global flat must see BTCUSD")
	}
}

func TestWaitUntilFlatTimeout(t *testing.T) {
	ex := &fakeExchange{positions: []model.Position{{ProductSymbol: "ARCUSD", Size: float64(1)}}}
	s := newTestService(ex)
	start := time.Now()
	if s.WaitUntilFlat(context.Background(), false, "ARCUSD", 30*time.Millisecond) {
		t.Fatal("must time out while a position is open")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout took too long")
	}
}

func TestWaitUntilFlatBecomesFlat(t *testing.T) {
	ex := &fakeExchange{positions: []model.Position{{ProductSymbol: "ARCUSD", Size: float64(1)}}}
	s := newTestService(ex)
	go func() {
		time.Sleep(15 * time.Millisecond)
		ex.mu.Lock()
		ex.positions = nil
		ex.mu.Unlock()
	}()
	if !s.WaitUntilFlat(context.Background(), false, "ARCUSD", time.Second) {
		t.Fatal("should observe flat after the position clears")
	}
}
