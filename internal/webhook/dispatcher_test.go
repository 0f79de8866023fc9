package webhook

import (
	"context"
	"sync"
	"testing"

	"deltaflow/conf"
	"deltaflow/internal/chain"
	"deltaflow/internal/flatten"
	"deltaflow/internal/model"
	"deltaflow/internal/product"
	"deltaflow/internal/queue"

	"github.com/goccy/go-json"
)

type stubExchange struct {
	mu     sync.Mutex
	placed []model.NewOrder
}

func (s *stubExchange) Products(ctx context.Context) ([]model.Product, error) {
	return []model.Product{{ID: 1, Symbol: "ARCUSD", ContractValue: "10 ARC"}}, nil
}
func (s *stubExchange) Ticker(ctx context.Context, symbol string) (*model.Ticker, error) {
	return &model.Ticker{Symbol: symbol, MarkPrice: 2.0}, nil
}
func (s *stubExchange) ListOrders(ctx context.Context, states string) ([]model.ExchangeOrder, error) {
	return nil, nil
}
func (s *stubExchange) PlaceOrder(ctx context.Context, order *model.NewOrder) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placed = append(s.placed, *order)
	return json.RawMessage(`{}`), nil
}
func (s *stubExchange) BatchOrders(ctx context.Context, productID int, productSymbol string, legs []model.BatchLeg) error {
	return nil
}
func (s *stubExchange) CancelOrder(ctx context.Context, ref *model.CancelRef) error { return nil }
func (s *stubExchange) CancelAllOrders(ctx context.Context) error                   { return nil }
func (s *stubExchange) Positions(ctx context.Context) ([]model.Position, error)     { return nil, nil }
func (s *stubExchange) CloseAllPositions(ctx context.Context) error                 { return nil }

func newTestDispatcher(t *testing.T, mutate func(cfg *conf.Config)) (*Dispatcher, *stubExchange) {
	t.Helper()
	cfg := &conf.Config{Listen: ":0"}
	cfg.ApplyDefaults()
	cfg.Trading.FlatTimeoutMs = 50
	cfg.Trading.FlatPollMs = 5
	if mutate != nil {
		mutate(cfg)
	}
	ex := &stubExchange{}
	products := product.NewCache(ex)
	flat := flatten.NewService(ex, products, &cfg.Trading)
	st := chain.NewState()
	coord := chain.NewCoordinator(st, ex, products, flat, cfg)
	return NewDispatcher(coord, queue.NewKeyedQueue(), cfg), ex
}

func TestExitAcknowledged(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	ack, err := d.Handle(context.Background(), []byte(`{"action":"EXIT","sig_id":"X","seq":1,"product_symbol":"BTCUSD"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !ack.OK || ack.Ignored != "EXIT" {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestLegacyActionsAcknowledged(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	for _, action := range []string{"DELTA_CANCEL_ALL", "CANCEL_ALL", "CLOSE_POSITION", "FLIP"} {
		ack, err := d.Handle(context.Background(), []byte(`{"action":"`+action+`","symbol":"BTCUSD"}`))
		if err != nil {
			t.Fatalf("%s: %v", action, err)
		}
		if !ack.OK || ack.Ignored != action {
			t.Fatalf("%s: ack = %+v", action, ack)
		}
	}
}

func TestUnknownActionRejected(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	if _, err := d.Handle(context.Background(), []byte(`{"action":"YOLO","product_symbol":"BTCUSD"}`)); err == nil {
		t.Fatal("want error for unknown action")
	}
}

func TestBadJSONRejected(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	if _, err := d.Handle(context.Background(), []byte(`{"action":`)); err == nil {
		t.Fatal("want error for bad json")
	}
}

func TestStrictModeDropsMissingSigID(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	ack, err := d.Handle(context.Background(), []byte(`{"action":"ENTER","seq":1,"product_symbol":"BTCUSD","side":"buy","qty":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if !ack.OK || ack.Ignored == "" {
		t.Fatalf("ack = %+v, want informational drop", ack)
	}
}

func TestStrictModeDropsBadSeq(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	for _, body := range []string{
		`{"action":"ENTER","sig_id":"S1","product_symbol":"BTCUSD","side":"buy","qty":1}`,
		`{"action":"ENTER","sig_id":"S1","seq":7,"product_symbol":"BTCUSD","side":"buy","qty":1}`,
	} {
		ack, err := d.Handle(context.Background(), []byte(body))
		if err != nil {
			t.Fatal(err)
		}
		if !ack.OK || ack.Ignored == "" {
			t.Fatalf("ack = %+v, want informational drop", ack)
		}
	}
}

func TestLooseModeInfersSeq(t *testing.T) {
	d, _ := newTestDispatcher(t, func(cfg *conf.Config) {
		strict := false
		cfg.Trading.StrictSequence = &strict
	})
	ack, err := d.Handle(context.Background(), []byte(`{"action":"CANCAL","sig_id":"L1","product_symbol":"ARCUSD"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ack.Queued != "waiting_for_ENTER" {
		t.Fatalf("ack = %+v, want CANCAL slot filled via inferred seq", ack)
	}
}

func TestMissingSymbolRejected(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	if _, err := d.Handle(context.Background(), []byte(`{"action":"ENTER","sig_id":"S1","seq":1,"side":"buy","qty":1}`)); err == nil {
		t.Fatal("want error for missing product_symbol")
	}
}

func TestSymbolNormalization(t *testing.T) {
	d, ex := newTestDispatcher(t, nil)
	ctx := context.Background()
	if _, err := d.Handle(ctx, []byte(`{"action":"CANCAL","sig_id":"N1","seq":0,"product_symbol":"DELTA:ARCUSD.P"}`)); err != nil {
		t.Fatal(err)
	}
	// 同一链路：归一化后的符号和原始符号指向同一个 sigKey
	ack, err := d.Handle(ctx, []byte(`{"action":"ENTER","sig_id":"N1","seq":1,"product_symbol":"arcusd","side":"buy","qty":2}`))
	if err != nil {
		t.Fatal(err)
	}
	if ack.Queued != "waiting_for_BATCH_TPS" {
		t.Fatalf("ack = %+v", ack)
	}
	if len(ex.placed) != 1 || ex.placed[0].ProductSymbol != "ARCUSD" {
		t.Fatalf("placed = %+v", ex.placed)
	}
}

func TestGlobalScopeQueuesGlobal(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	// scope=ALL 不要求品种
	ack, err := d.Handle(context.Background(), []byte(`{"action":"CANCAL","sig_id":"G1","seq":0,"scope":"ALL"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !ack.OK {
		t.Fatalf("ack = %+v", ack)
	}
}
