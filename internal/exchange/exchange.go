package exchange

import (
	"context"

	"deltaflow/internal/model"

	"github.com/goccy/go-json"
)

// Exchange 交易所访问接口，链路执行层依赖该接口而不是具体客户端
type Exchange interface {
	// 产品元数据
	Products(ctx context.Context) ([]model.Product, error)
	// 最新行情，用于缺少入场价时的兜底
	Ticker(ctx context.Context, symbol string) (*model.Ticker, error)
	// 分页拉取指定状态的订单
	ListOrders(ctx context.Context, states string) ([]model.ExchangeOrder, error)
	// 市价下单
	PlaceOrder(ctx context.Context, order *model.NewOrder) (json.RawMessage, error)
	// 批量挂止盈单
	BatchOrders(ctx context.Context, productID int, productSymbol string, legs []model.BatchLeg) error
	// 撤销单个订单
	CancelOrder(ctx context.Context, ref *model.CancelRef) error
	// 撤销全部订单
	CancelAllOrders(ctx context.Context) error
	// 获取仓位
	Positions(ctx context.Context) ([]model.Position, error)
	// 全部平仓
	CloseAllPositions(ctx context.Context) error
}
