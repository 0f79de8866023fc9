package model

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
)

/*
来源于上游图表平台的信号消息，三步信号链的一条腿

	{
	  "action": "ENTER",
	  "sig_id": "S-20260806-01",
	  "seq": 1,
	  "product_symbol": "ARCUSD",
	  "side": "buy",
	  "amount_usd": 100,
	  "leverage": 10,
	  "entry": 2.0
	}

数值字段可能是字符串也可能是数字，统一用 cast 再取值
*/
type SignalMessage struct {
	Action   string      `json:"action"`
	SigID    string      `json:"sig_id"`
	SignalID string      `json:"signal_id"`
	Seq      interface{} `json:"seq"`

	Symbol        string `json:"symbol"`
	ProductSymbol string `json:"product_symbol"`

	Side     string      `json:"side"`
	Qty      interface{} `json:"qty"`
	Amount   interface{} `json:"amount"`
	AmountInr   interface{} `json:"amount_inr"`
	AmountUsd   interface{} `json:"amount_usd"`
	OrderAmount interface{} `json:"order_amount"`
	AmountCcy   string      `json:"amount_ccy"`
	Leverage    interface{} `json:"leverage"`
	Entry       interface{} `json:"entry"`

	Fx            interface{} `json:"fx"`
	FxQuoteToInr  interface{} `json:"fx_quote_to_inr"`
	FxQuoteToInr2 interface{} `json:"fxQuoteToINR"`

	Scope             string      `json:"scope"`
	CloseAll          interface{} `json:"close_all"`
	CancelOrders      interface{} `json:"cancel_orders"`
	ClosePosition     interface{} `json:"close_position"`
	CancelOrdersScope string      `json:"cancel_orders_scope"`
	CancelFallbackAll interface{} `json:"cancel_fallback_all"`
	RequireFlat       interface{} `json:"require_flat"`

	Orders []TpLegInput `json:"orders"`
}

// 批量止盈的一条腿，价格和数量字段存在多个别名
type TpLegInput struct {
	LimitPrice    interface{} `json:"limit_price"`
	Price         interface{} `json:"price"`
	LmtPrice      interface{} `json:"lmt_price"`
	Size          interface{} `json:"size"`
	SizeCoins     interface{} `json:"size_coins"`
	Coins         interface{} `json:"coins"`
	PostOnly      interface{} `json:"post_only"`
	Mmp           interface{} `json:"mmp"`
	ClientOrderID string      `json:"client_order_id"`
}

// ParseSignalMessage 在入口处解析一次，后续只传结构体
func ParseSignalMessage(body []byte) (*SignalMessage, error) {
	var msg SignalMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EffSigID sig_id 优先，兼容 signal_id
func (m *SignalMessage) EffSigID() string {
	if m.SigID != "" {
		return m.SigID
	}
	return m.SignalID
}

// SeqVal seq 可能是数字或数字字符串
func (m *SignalMessage) SeqVal() (int, bool) {
	if m.Seq == nil {
		return 0, false
	}
	v, err := cast.ToIntE(m.Seq)
	if err != nil {
		return 0, false
	}
	return v, true
}

// EffSymbol 归一化后的品种标识
// 去掉 ".P" 永续后缀和 "EXCHANGE:" 前缀，统一大写
func (m *SignalMessage) EffSymbol() string {
	s := m.ProductSymbol
	if s == "" {
		s = m.Symbol
	}
	return NormalizeSymbol(s)
}

func NormalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(s, ".P")
	s = strings.TrimSuffix(s, ".p")
	return strings.ToUpper(s)
}

// IsGlobalScope scope=ALL 或 close_all 时进入 GLOBAL 队列
func (m *SignalMessage) IsGlobalScope() bool {
	if strings.EqualFold(m.Scope, "ALL") {
		return true
	}
	return toBool(m.CloseAll, false)
}

func (m *SignalMessage) QtyLots() int {
	return cast.ToInt(m.Qty)
}

// BudgetAmount 预算金额与币种，amount_usd/amount_inr 优先于通用 amount
func (m *SignalMessage) BudgetAmount() (float64, string, bool) {
	if v := cast.ToFloat64(m.AmountUsd); v > 0 {
		return v, "USD", true
	}
	if v := cast.ToFloat64(m.AmountInr); v > 0 {
		return v, "INR", true
	}
	amt := cast.ToFloat64(m.Amount)
	if amt <= 0 {
		amt = cast.ToFloat64(m.OrderAmount)
	}
	if amt <= 0 {
		return 0, "", false
	}
	ccy := strings.ToUpper(m.AmountCcy)
	if ccy == "" {
		ccy = "INR"
	}
	return amt, ccy, true
}

// LeverageVal 杠杆，钳制为 >=1 的整数
func (m *SignalMessage) LeverageVal(def int) int {
	lev := cast.ToInt(m.Leverage)
	if lev <= 0 {
		lev = def
	}
	if lev < 1 {
		lev = 1
	}
	return lev
}

func (m *SignalMessage) EntryPrice() float64 {
	return cast.ToFloat64(m.Entry)
}

// FxRate INR/USD 汇率，取第一个有效字段，否则用配置的兜底值
func (m *SignalMessage) FxRate(def float64) float64 {
	for _, v := range []interface{}{m.Fx, m.FxQuoteToInr, m.FxQuoteToInr2} {
		if fx := cast.ToFloat64(v); fx > 0 {
			return fx
		}
	}
	return def
}

func (m *SignalMessage) CancelOrdersFlag(def bool) bool {
	return toBool(m.CancelOrders, def)
}

func (m *SignalMessage) ClosePositionFlag(def bool) bool {
	return toBool(m.ClosePosition, def)
}

func (m *SignalMessage) RequireFlatFlag(def bool) bool {
	return toBool(m.RequireFlat, def)
}

func (m *SignalMessage) FallbackAllFlag() bool {
	return toBool(m.CancelFallbackAll, false)
}

// OrdersFingerprint 止盈腿部分的指纹输入，无腿返回空串
func (m *SignalMessage) OrdersFingerprint() string {
	if len(m.Orders) == 0 {
		return ""
	}
	b, err := json.Marshal(m.Orders)
	if err != nil {
		return ""
	}
	return string(b)
}

func toBool(v interface{}, def bool) bool {
	if v == nil {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

// PriceString 腿的限价，兼容 limit_price/price/lmt_price 别名
func (l *TpLegInput) PriceString() string {
	for _, v := range []interface{}{l.LimitPrice, l.Price, l.LmtPrice} {
		if v == nil {
			continue
		}
		if s := cast.ToString(v); s != "" {
			return s
		}
	}
	return ""
}

func (l *TpLegInput) SizeVal() float64 {
	return cast.ToFloat64(l.Size)
}

// SizeCoinsVal 明确以币数量表达的腿
func (l *TpLegInput) SizeCoinsVal() float64 {
	if v := cast.ToFloat64(l.SizeCoins); v > 0 {
		return v
	}
	return cast.ToFloat64(l.Coins)
}

func (l *TpLegInput) PostOnlyFlag() bool { return toBool(l.PostOnly, false) }
func (l *TpLegInput) MmpFlag() bool      { return toBool(l.Mmp, false) }
