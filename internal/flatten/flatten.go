package flatten

import (
	"context"
	"strings"
	"time"

	"deltaflow/conf"
	"deltaflow/internal/exchange"
	"deltaflow/internal/model"
	"deltaflow/internal/product"
	"deltaflow/internal/sizing"
	"deltaflow/pkg/logger"

	"go.uber.org/multierr"
)

// 等待清场时认为"有挂单"的订单状态
const flatOrderStates = "open,pending,triggered,untriggered"

// Service 清场原语：按品种或全局撤单、平仓、等待清场
type Service struct {
	ex       exchange.Exchange
	products *product.Cache
	cfg      *conf.TradingConfig
}

func NewService(ex exchange.Exchange, products *product.Cache, cfg *conf.TradingConfig) *Service {
	return &Service{ex: ex, products: products, cfg: cfg}
}

// CancelOrders 撤销挂单
// global 为真时直接撤全部；否则逐单撤销该品种的开放订单
// fallbackAll 为真且有撤单失败时，退化为撤全部
func (s *Service) CancelOrders(ctx context.Context, global bool, symbol string, fallbackAll bool) (int, error) {
	if global {
		if err := s.ex.CancelAllOrders(ctx); err != nil {
			return 0, err
		}
		return -1, nil
	}

	orders, err := s.ex.ListOrders(ctx, "open,pending")
	if err != nil {
		return 0, err
	}

	var cancelErr error
	canceled := 0
	for i := range orders {
		o := &orders[i]
		if !strings.EqualFold(o.ProductSymbol, symbol) {
			continue
		}
		ref := &model.CancelRef{ID: o.ID, ProductID: o.ProductID}
		if o.ClientOrderID != "" {
			ref.ClientOrderID = o.ClientOrderID
		}
		if ref.ProductID == 0 {
			pid, err := s.products.ProductID(ctx, symbol)
			if err != nil {
				cancelErr = multierr.Append(cancelErr, err)
				continue
			}
			ref.ProductID = pid
		}
		if err := s.ex.CancelOrder(ctx, ref); err != nil {
			cancelErr = multierr.Append(cancelErr, err)
			continue
		}
		canceled++
	}

	if cancelErr != nil && fallbackAll {
		logger.Warnf("按品种撤单部分失败，退化为全部撤单: %v", cancelErr)
		if err := s.ex.CancelAllOrders(ctx); err != nil {
			return canceled, err
		}
		return -1, nil
	}
	return canceled, cancelErr
}

// FindPosition 查找品种的非零仓位，不存在返回 nil
func (s *Service) FindPosition(ctx context.Context, symbol string) (*model.Position, error) {
	positions, err := s.ex.Positions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		p := &positions[i]
		if strings.EqualFold(model.NormalizeSymbol(p.ProductSymbol), symbol) && p.SizeVal() != 0 {
			return p, nil
		}
	}
	return nil, nil
}

// PositionLots 仓位的平仓方向与张数（单位推断见 sizing）
func (s *Service) PositionLots(ctx context.Context, pos *model.Position) (side string, lots int) {
	raw := pos.SizeVal()
	lotMult := s.products.LotMult(ctx, model.NormalizeSymbol(pos.ProductSymbol))
	ps := sizing.InferPositionUnits(raw, lotMult, pos.NotionalVal(), pos.PriceVal(), s.cfg.MaxLotsPerOrder)
	if raw > 0 {
		side = model.SideSell
	} else {
		side = model.SideBuy
	}
	return side, ps.Lots
}

// ClosePosition 以对手方向的只减仓市价单平掉品种仓位，无仓位时为空操作
func (s *Service) ClosePosition(ctx context.Context, symbol string) (bool, error) {
	pos, err := s.FindPosition(ctx, symbol)
	if err != nil {
		return false, err
	}
	if pos == nil {
		return false, nil
	}
	side, lots := s.PositionLots(ctx, pos)
	order := &model.NewOrder{
		ProductSymbol: pos.ProductSymbol,
		OrderType:     model.OrderTypeMarket,
		Side:          side,
		Size:          lots,
		ReduceOnly:    true,
	}
	logger.Infof("平仓: %s %s %d张", pos.ProductSymbol, side, lots)
	if _, err := s.ex.PlaceOrder(ctx, order); err != nil {
		return false, err
	}
	return true, nil
}

// CloseAll 全部平仓
func (s *Service) CloseAll(ctx context.Context) error {
	return s.ex.CloseAllPositions(ctx)
}

// IsFlat 无挂单且无仓位（global 为假时只看指定品种）
func (s *Service) IsFlat(ctx context.Context, global bool, symbol string) (bool, error) {
	orders, err := s.ex.ListOrders(ctx, flatOrderStates)
	if err != nil {
		return false, err
	}
	for i := range orders {
		if global || strings.EqualFold(orders[i].ProductSymbol, symbol) {
			return false, nil
		}
	}
	positions, err := s.ex.Positions(ctx)
	if err != nil {
		return false, err
	}
	for i := range positions {
		p := &positions[i]
		if p.SizeVal() == 0 {
			continue
		}
		if global || strings.EqualFold(model.NormalizeSymbol(p.ProductSymbol), symbol) {
			return false, nil
		}
	}
	return true, nil
}

// WaitUntilFlat 轮询等待清场，瞬时错误吞掉，只有超时可观测
func (s *Service) WaitUntilFlat(ctx context.Context, global bool, symbol string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = time.Duration(s.cfg.FlatTimeoutMs) * time.Millisecond
	}
	poll := time.Duration(s.cfg.FlatPollMs) * time.Millisecond
	deadline := time.Now().Add(timeout)
	for {
		flat, err := s.IsFlat(ctx, global, symbol)
		if err == nil && flat {
			return true
		}
		if err != nil {
			logger.Debugf("清场探测失败（忽略）: %v", err)
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-time.After(poll):
		case <-ctx.Done():
			return false
		}
	}
}
