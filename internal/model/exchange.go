package model

import "github.com/spf13/cast"

// 交易所产品元数据，合约规模字段在不同产品上形态不一
// 可能是数字，也可能是 "10 ARC" 这种带单位的字符串
type Product struct {
	ID            int         `json:"id"`
	Symbol        string      `json:"symbol"`
	LotSize       interface{} `json:"lot_size"`
	ContractSize  interface{} `json:"contract_size"`
	ContractValue interface{} `json:"contract_value"`
	ContractUnit  interface{} `json:"contract_unit"`
	QtyStep       interface{} `json:"qty_step"`
}

type Ticker struct {
	Symbol    string      `json:"symbol"`
	MarkPrice interface{} `json:"mark_price"`
	Close     interface{} `json:"close"`
	SpotPrice interface{} `json:"spot_price"`
}

// PriceUSD 取第一个有效价格
func (t *Ticker) PriceUSD() float64 {
	for _, v := range []interface{}{t.MarkPrice, t.Close, t.SpotPrice} {
		if px := cast.ToFloat64(v); px > 0 {
			return px
		}
	}
	return 0
}

// 交易所订单（开放订单列表返回）
type ExchangeOrder struct {
	ID            int64       `json:"id"`
	ClientOrderID string      `json:"client_order_id"`
	ProductID     int         `json:"product_id"`
	ProductSymbol string      `json:"product_symbol"`
	State         string      `json:"state"`
	Side          string      `json:"side"`
	Size          interface{} `json:"size"`
}

// 交易所仓位，size 的单位（张/币）因产品而异，由推断器判定
type Position struct {
	ProductID     int         `json:"product_id"`
	ProductSymbol string      `json:"product_symbol"`
	Size          interface{} `json:"size"`
	EntryPrice    interface{} `json:"entry_price"`
	MarkPrice     interface{} `json:"mark_price"`
	Notional      interface{} `json:"notional"`
}

func (p *Position) SizeVal() float64       { return cast.ToFloat64(p.Size) }
func (p *Position) EntryPriceVal() float64 { return cast.ToFloat64(p.EntryPrice) }
func (p *Position) MarkPriceVal() float64  { return cast.ToFloat64(p.MarkPrice) }
func (p *Position) NotionalVal() float64   { return cast.ToFloat64(p.Notional) }

// PriceVal 推断单位时用的价格，优先标记价
func (p *Position) PriceVal() float64 {
	if px := p.MarkPriceVal(); px > 0 {
		return px
	}
	return p.EntryPriceVal()
}

// 市价开仓/平仓请求
type NewOrder struct {
	ProductSymbol string `json:"product_symbol"`
	OrderType     string `json:"order_type"`
	Side          string `json:"side"`
	Size          int    `json:"size"`
	ReduceOnly    bool   `json:"reduce_only,omitempty"`
}

// 批量止盈的一条腿（出站）
type BatchLeg struct {
	LimitPrice    string `json:"limit_price"`
	Size          int    `json:"size"`
	Side          string `json:"side"`
	OrderType     string `json:"order_type"`
	ReduceOnly    bool   `json:"reduce_only"`
	PostOnly      bool   `json:"post_only,omitempty"`
	Mmp           bool   `json:"mmp,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

// 撤单请求体
type CancelRef struct {
	ID            int64  `json:"id,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	ProductID     int    `json:"product_id"`
}

const (
	OrderTypeMarket = "market_order"
	OrderTypeLimit  = "limit_order"

	SideBuy  = "buy"
	SideSell = "sell"
)
