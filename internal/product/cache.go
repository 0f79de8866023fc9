package product

import (
	"context"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"deltaflow/internal/consts"
	"deltaflow/internal/model"
	"deltaflow/pkg/errors"
	"deltaflow/pkg/errors/ecode"
	"deltaflow/pkg/logger"

	"github.com/shopspring/decimal"
)

// Source 产品快照来源
type Source interface {
	Products(ctx context.Context) ([]model.Product, error)
}

type learnedMult struct {
	m  float64
	ts time.Time
}

// Cache 产品元数据缓存
// 快照5分钟刷新一次，lot multiplier 可被运行时学习修正
type Cache struct {
	mu        sync.Mutex
	src       Source
	snapshot  map[string]model.Product
	fetchedAt time.Time
	learned   map[string]learnedMult
	nowFn     func() time.Time
}

func NewCache(src Source) *Cache {
	return &Cache{
		src:     src,
		learned: make(map[string]learnedMult),
		nowFn:   time.Now,
	}
}

func (c *Cache) refreshLocked(ctx context.Context) error {
	now := c.nowFn()
	if c.snapshot != nil && now.Sub(c.fetchedAt) < consts.ProductsTTL {
		return nil
	}
	products, err := c.src.Products(ctx)
	if err != nil {
		if c.snapshot != nil {
			// 有旧快照时容忍一次刷新失败
			logger.Warnf("产品快照刷新失败，沿用旧数据: %v", err)
			return nil
		}
		return err
	}
	snap := make(map[string]model.Product, len(products))
	for _, p := range products {
		snap[strings.ToUpper(p.Symbol)] = p
	}
	c.snapshot = snap
	c.fetchedAt = now
	return nil
}

// Warm 预热产品快照
func (c *Cache) Warm(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

// ProductID 解析品种对应的产品id
func (c *Cache) ProductID(ctx context.Context, symbol string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refreshLocked(ctx); err != nil {
		return 0, err
	}
	p, ok := c.snapshot[strings.ToUpper(symbol)]
	if !ok {
		return 0, errors.Newf(ecode.NotFoundErr, "unknown product symbol %s", symbol)
	}
	return p.ID, nil
}

// LotMult 每张合约对应的币数量
// 优先取运行时学习值，其次解析元数据，兜底为1
func (c *Cache) LotMult(ctx context.Context, symbol string) float64 {
	key := strings.ToUpper(symbol)
	c.mu.Lock()
	defer c.mu.Unlock()
	if lm, ok := c.learned[key]; ok {
		return lm.m
	}
	if err := c.refreshLocked(ctx); err != nil {
		return 1
	}
	p, ok := c.snapshot[key]
	if !ok {
		return 1
	}
	return metaLotMult(&p)
}

// metaLotMult 从元数据解析 lot multiplier
// 依次尝试 lot_size/contract_size/contract_value/contract_unit 的首个数字token
// 都没有时若 qty_step >= 1 用 qty_step，否则为1
func metaLotMult(p *model.Product) float64 {
	for _, v := range []interface{}{p.LotSize, p.ContractSize, p.ContractValue, p.ContractUnit} {
		if m, ok := firstNumericToken(v); ok && m > 0 {
			return m
		}
	}
	if step, ok := firstNumericToken(p.QtyStep); ok && step >= 1 {
		return step
	}
	return 1
}

var numericTokenRe = regexp.MustCompile(`[0-9]*\.?[0-9]+`)

// firstNumericToken 从 "10 ARC"、"0.1 LINK" 这类混合串中取首个数字
func firstNumericToken(v interface{}) (float64, bool) {
	if v == nil {
		return 0, false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
	tok := numericTokenRe.FindString(s)
	if tok == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(tok)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// Learn 开仓后的运行时学习
// observedCoins 是交易所仓位里观测到的币数量，lotsSent 是刚发出的张数
// 观测值必须接近整数或落在(0,1)，且与元数据推导值偏差不超过50%，否则拒绝
func (c *Cache) Learn(ctx context.Context, symbol string, observedCoins float64, lotsSent int) {
	if lotsSent <= 0 || observedCoins <= 0 {
		return
	}
	obs := observedCoins / float64(lotsSent)

	integerNear := math.Abs(obs-math.Round(obs)) < 0.01 && math.Round(obs) >= 1
	fractional := obs > 0 && obs < 1
	if !integerNear && !fractional {
		logger.Infof("lot multiplier 学习被拒绝: %s 观测值=%.6f 形态异常", symbol, obs)
		return
	}

	key := strings.ToUpper(symbol)
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.refreshLocked(ctx)
	var meta float64 = 1
	if p, ok := c.snapshot[key]; ok {
		meta = metaLotMult(&p)
	}
	if obs < meta*0.5 || obs > meta*1.5 {
		logger.Infof("lot multiplier 学习被拒绝: %s 观测值=%.6f 元数据值=%.6f 偏差过大", symbol, obs, meta)
		return
	}
	if integerNear {
		obs = math.Round(obs)
	}
	c.learned[key] = learnedMult{m: obs, ts: c.nowFn()}
	logger.Infof("lot multiplier 学习生效: %s -> %.6f", key, obs)
}

// SetNowFunc 测试用
func (c *Cache) SetNowFunc(f func() time.Time) { c.nowFn = f }
