package chain

import (
	"context"
	"strings"
	"time"

	"deltaflow/conf"
	"deltaflow/internal/consts"
	"deltaflow/internal/exchange"
	"deltaflow/internal/flatten"
	"deltaflow/internal/model"
	"deltaflow/internal/product"
	"deltaflow/internal/sizing"
	"deltaflow/pkg/errors"
	"deltaflow/pkg/errors/ecode"
	"deltaflow/pkg/logger"
)

// ProgressEntry 单个步骤的执行摘要
type ProgressEntry struct {
	Step     string `json:"step"`
	Note     string `json:"note,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
	Side     string `json:"side,omitempty"`
	Lots     int    `json:"lots,omitempty"`
	Canceled int    `json:"canceled,omitempty"`
	Legs     []int  `json:"legs,omitempty"`
}

// Result 一次分发的汇总
type Result struct {
	Status     string          `json:"status"`
	Queued     string          `json:"queued,omitempty"`
	Dedup      bool            `json:"dedup,omitempty"`
	Have       []string        `json:"have"`
	Did        []string        `json:"did"`
	Progressed []ProgressEntry `json:"progressed"`
}

// Coordinator 信号链协调器
// 缓冲三条腿的消息并按 CANCAL→ENTER→BATCH_TPS 推进状态机
type Coordinator struct {
	st       *State
	ex       exchange.Exchange
	products *product.Cache
	flat     *flatten.Service
	cfg      *conf.Config
}

func NewCoordinator(st *State, ex exchange.Exchange, products *product.Cache, flat *flatten.Service, cfg *conf.Config) *Coordinator {
	return &Coordinator{st: st, ex: ex, products: products, flat: flat, cfg: cfg}
}

// State 暴露给调试接口
func (c *Coordinator) State() *State { return c.st }

// Dispatch 处理一条信号消息，调用方保证同一队列键串行
func (c *Coordinator) Dispatch(ctx context.Context, msg *model.SignalMessage) (*Result, error) {
	psym := msg.EffSymbol()

	fp := Fingerprint(msg)
	if !c.st.AdmitFingerprint(fp) {
		return &Result{Status: "dedup", Dedup: true}, nil
	}

	rec, key := c.st.Upsert(msg)

	res, err := c.advance(ctx, rec, psym)
	if err != nil {
		// 执行失败撤销指纹，上游重投可以重试
		c.st.ForgetFingerprint(fp)
		logger.Error("信号链推进失败",
			logger.Pair("sig_key", key),
			logger.Pair("psym", psym),
			logger.Pair("err", err.Error()))
		return nil, err
	}
	return res, nil
}

// advance 依次尝试推进三个步骤
func (c *Coordinator) advance(ctx context.Context, rec *Record, psym string) (*Result, error) {
	tcfg := &c.cfg.Trading

	// 窗口检查：链创建太久后到达的腿直接拒绝
	var age time.Duration
	c.st.WithRecord(func() { age = c.st.nowFn().Sub(rec.CreatedAt) })
	window := time.Duration(tcfg.SignalChainWindowMs) * time.Millisecond
	if age > window {
		return nil, errors.Newf(ecode.ChainExpired, "chain_expired age=%dms window=%dms",
			age.Milliseconds(), window.Milliseconds())
	}

	res := &Result{}

	if done := c.snapshotFlags(rec); !done.DidCancel {
		entry, queued, err := c.stepCancel(ctx, rec, psym)
		if err != nil {
			return nil, err
		}
		if queued != "" {
			return c.finish(rec, res, queued), nil
		}
		res.Progressed = append(res.Progressed, entry)
	}

	if done := c.snapshotFlags(rec); !done.DidEnter {
		entry, queued, err := c.stepEnter(ctx, rec, psym)
		if err != nil {
			return nil, err
		}
		if queued != "" {
			return c.finish(rec, res, queued), nil
		}
		res.Progressed = append(res.Progressed, entry)
	}

	if done := c.snapshotFlags(rec); !done.DidBatch {
		entry, queued, err := c.stepBatch(ctx, rec, psym)
		if err != nil {
			return nil, err
		}
		if queued != "" {
			return c.finish(rec, res, queued), nil
		}
		res.Progressed = append(res.Progressed, entry)
	}

	return c.finish(rec, res, ""), nil
}

func (c *Coordinator) snapshotFlags(rec *Record) (out Record) {
	c.st.WithRecord(func() { out = *rec })
	return out
}

func (c *Coordinator) finish(rec *Record, res *Result, queued string) *Result {
	snap := c.snapshotFlags(rec)
	res.Have = res.Have[:0]
	if snap.CancelMsg != nil {
		res.Have = append(res.Have, consts.ActionCancal)
	}
	if snap.EnterMsg != nil {
		res.Have = append(res.Have, consts.ActionEnter)
	}
	if snap.BatchMsg != nil {
		res.Have = append(res.Have, consts.ActionBatchTps)
	}
	res.Did = res.Did[:0]
	if snap.DidCancel {
		res.Did = append(res.Did, consts.ActionCancal)
	}
	if snap.DidEnterPrep {
		res.Did = append(res.Did, "ENTER_PREP")
	}
	if snap.DidEnter {
		res.Did = append(res.Did, consts.ActionEnter)
	}
	if snap.DidBatch {
		res.Did = append(res.Did, consts.ActionBatchTps)
	}

	res.Queued = queued
	switch {
	case snap.DidCancel && snap.DidEnter && snap.DidBatch:
		res.Status = "done"
	case queued != "":
		res.Status = "queued"
	default:
		res.Status = "progressed"
	}
	return res
}

// stepCancel 推进 CANCAL
func (c *Coordinator) stepCancel(ctx context.Context, rec *Record, psym string) (ProgressEntry, string, error) {
	tcfg := &c.cfg.Trading
	snap := c.snapshotFlags(rec)

	switch {
	case snap.CancelMsg != nil:
		cm := snap.CancelMsg
		global := cm.IsGlobalScope()
		cancelOrders := cm.CancelOrdersFlag(true) || tcfg.ForceCancelOrdersOnCancel
		closePos := cm.ClosePositionFlag(tcfg.ForceCloseOnCancel) || tcfg.ForceCloseOnCancel

		entry := ProgressEntry{Step: consts.ActionCancal}
		if cancelOrders {
			n, err := c.flat.CancelOrders(ctx, global, psym, cm.FallbackAllFlag())
			if err != nil {
				return entry, "", err
			}
			entry.Canceled = n
		}
		if closePos {
			if global {
				if err := c.flat.CloseAll(ctx); err != nil {
					return entry, "", err
				}
			} else {
				if _, err := c.flat.ClosePosition(ctx, psym); err != nil {
					return entry, "", err
				}
			}
			entry.Note = appendNote(entry.Note, "closed_position")
		}
		if cm.RequireFlatFlag(false) {
			if !c.flat.WaitUntilFlat(ctx, global, psym, 0) {
				return entry, "", errors.New(ecode.RequireFlatTimeout, "require_flat_timeout on CANCAL")
			}
		}
		c.st.WithRecord(func() { rec.DidCancel = true })
		return entry, "", nil

	case tcfg.AutoCancelOnEnter && snap.EnterMsg != nil:
		// 没等到 CANCAL 腿，按配置用 ENTER 合成一次撤单
		entry := ProgressEntry{Step: consts.ActionCancal, Note: "auto_cancel"}
		n, err := c.flat.CancelOrders(ctx, false, psym, false)
		if err != nil {
			return entry, "", err
		}
		entry.Canceled = n
		if tcfg.ForceCloseOnCancel {
			if _, err := c.flat.ClosePosition(ctx, psym); err != nil {
				return entry, "", err
			}
		}
		c.st.WithRecord(func() { rec.DidCancel = true })
		return entry, "", nil

	case tcfg.SkipCancelOnEnter && snap.EnterMsg != nil:
		// 宽松部署策略：直接标记跳过，避免上游不发 seq=0 时卡死
		c.st.WithRecord(func() { rec.DidCancel = true })
		return ProgressEntry{Step: consts.ActionCancal, Skipped: true, Note: "skipped"}, "", nil

	default:
		return ProgressEntry{}, "waiting_for_CANCAL", nil
	}
}

// stepEnter 推进 ENTER
func (c *Coordinator) stepEnter(ctx context.Context, rec *Record, psym string) (ProgressEntry, string, error) {
	tcfg := &c.cfg.Trading
	snap := c.snapshotFlags(rec)
	em := snap.EnterMsg
	if em == nil {
		return ProgressEntry{}, "waiting_for_ENTER", nil
	}
	entry := ProgressEntry{Step: consts.ActionEnter}

	if !snap.DidEnterPrep {
		// 预清场只做一次，失败也算做过，重试时不重复
		var prepErr error
		if em.CancelOrdersFlag(false) {
			_, prepErr = c.flat.CancelOrders(ctx, false, psym, em.FallbackAllFlag())
		}
		if prepErr == nil && em.ClosePositionFlag(false) {
			_, prepErr = c.flat.ClosePosition(ctx, psym)
		}
		c.st.WithRecord(func() { rec.DidEnterPrep = true })
		if prepErr != nil {
			return entry, "", prepErr
		}
	}

	if em.RequireFlatFlag(true) {
		flat, err := c.flat.IsFlat(ctx, false, psym)
		if err != nil {
			logger.Debugf("清场探测失败（继续等待）: %v", err)
		}
		if !flat {
			if tcfg.FastEnter {
				wait := time.Duration(tcfg.FastEnterWaitMs) * time.Millisecond
				retry := time.Duration(tcfg.FastEnterRetryMs) * time.Millisecond
				if !c.flat.WaitUntilFlat(ctx, false, psym, wait) &&
					!c.flat.WaitUntilFlat(ctx, false, psym, retry) {
					return entry, "", errors.New(ecode.RequireFlatTimeout, "require_flat_timeout on ENTER")
				}
			} else if !c.flat.WaitUntilFlat(ctx, false, psym, 0) {
				return entry, "", errors.New(ecode.RequireFlatTimeout, "require_flat_timeout on ENTER")
			}
		}
	}

	side := strings.ToLower(em.Side)
	if side != model.SideBuy && side != model.SideSell {
		return entry, "", errors.Newf(ecode.ValidateErr, "invalid side %q for ENTER", em.Side)
	}

	lotMult := c.products.LotMult(ctx, psym)
	qty := em.QtyLots()
	amount, ccy, hasBudget := em.BudgetAmount()

	var sizeLots int
	switch {
	case hasBudget:
		entryPx := em.EntryPrice()
		if entryPx <= 0 {
			tk, err := c.ex.Ticker(ctx, psym)
			if err != nil {
				return entry, "", errors.Wrapf(err, ecode.ValidateErr, "no entry price and ticker unavailable for %s", psym)
			}
			entryPx = tk.PriceUSD()
		}
		budgetLots, err := sizing.LotsFromAmount(amount, ccy, em.LeverageVal(tcfg.DefaultLeverage),
			entryPx, lotMult, em.FxRate(tcfg.FxInrPerUsd), tcfg.MarginBufferPct, tcfg.MaxLotsPerOrder)
		if err != nil {
			return entry, "", err
		}
		if qty > 0 && qty < budgetLots {
			sizeLots = qty
		} else {
			sizeLots = budgetLots
		}
	case qty > 0:
		sizeLots = qty
	default:
		return entry, "", errors.New(ecode.ValidateErr, "ENTER requires qty or amount")
	}

	if sizeLots < 1 {
		sizeLots = 1
	}
	if sizeLots > tcfg.MaxLotsPerOrder {
		sizeLots = tcfg.MaxLotsPerOrder
	}

	order := &model.NewOrder{
		ProductSymbol: psym,
		OrderType:     model.OrderTypeMarket,
		Side:          side,
		Size:          sizeLots,
	}
	if _, err := c.ex.PlaceOrder(ctx, order); err != nil {
		return entry, "", err
	}
	logger.Info("入场下单",
		logger.Pair("psym", psym),
		logger.Pair("side", side),
		logger.Pair("lots", sizeLots))

	c.st.RememberEntry(psym, LastEntry{Lots: sizeLots, Side: side, LotMult: lotMult, Ts: time.Now()})
	c.st.WithRecord(func() { rec.DidEnter = true })

	// 乘数学习不阻塞当前分发
	go c.learnLotMult(psym, sizeLots)

	entry.Side = side
	entry.Lots = sizeLots
	return entry, "", nil
}

// learnLotMult 开仓后观察实际仓位，校正元数据乘数
func (c *Coordinator) learnLotMult(psym string, lotsSent int) {
	time.Sleep(1500 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pos, err := c.flat.FindPosition(ctx, psym)
	if err != nil || pos == nil {
		return
	}
	var observedCoins float64
	if n, p := pos.NotionalVal(), pos.PriceVal(); n > 0 && p > 0 {
		observedCoins = n / p
	} else {
		lotMult := c.products.LotMult(ctx, psym)
		ps := sizing.InferPositionUnits(pos.SizeVal(), lotMult, 0, 0, c.cfg.Trading.MaxLotsPerOrder)
		if ps.Units != sizing.UnitsCoins {
			return
		}
		observedCoins = absFloat(pos.SizeVal())
	}
	c.products.Learn(ctx, psym, observedCoins, lotsSent)
}

// stepBatch 推进 BATCH_TPS
func (c *Coordinator) stepBatch(ctx context.Context, rec *Record, psym string) (ProgressEntry, string, error) {
	tcfg := &c.cfg.Trading
	snap := c.snapshotFlags(rec)
	bm := snap.BatchMsg
	if bm == nil {
		return ProgressEntry{}, "waiting_for_BATCH_TPS", nil
	}
	entry := ProgressEntry{Step: consts.ActionBatchTps}

	if len(bm.Orders) == 0 {
		return entry, "", errors.New(ecode.ValidateErr, "BATCH_TPS requires orders")
	}

	pid, err := c.products.ProductID(ctx, psym)
	if err != nil {
		return entry, "", err
	}

	pos, err := c.flat.FindPosition(ctx, psym)
	if err != nil {
		return entry, "", err
	}
	if pos == nil {
		return entry, "", errors.New(ecode.ValidateErr, "no open position")
	}
	// 平仓方向永远取实时仓位的符号，覆盖消息里的任何暗示
	closeSide, positionLots := c.flat.PositionLots(ctx, pos)

	lotMult := c.products.LotMult(ctx, psym)
	lastLots := 0
	if le, ok := c.st.RecentEntry(psym); ok {
		lastLots = le.Lots
	}

	pre := make([]int, len(bm.Orders))
	for i := range bm.Orders {
		leg := &bm.Orders[i]
		if leg.PriceString() == "" {
			return entry, "", errors.Newf(ecode.ValidateErr, "TP leg %d missing limit price", i)
		}
		pre[i] = sizing.NormalizeTpSize(leg, lotMult, lastLots, tcfg.MaxLotsPerOrder)
	}

	clamped := sizing.ClampLegsToPosition(pre, positionLots)
	if len(clamped) == 0 {
		return entry, "", errors.New(ecode.ValidateErr, "no open position")
	}

	sum := 0
	for _, l := range clamped {
		sum += l
	}
	if sum > positionLots {
		return entry, "", errors.Newf(ecode.BatchRefused,
			"refusing batch: total %d lots exceeds position %d", sum, positionLots)
	}

	legs := make([]model.BatchLeg, len(clamped))
	now := time.Now()
	for i := range clamped {
		in := &bm.Orders[i]
		coid := in.ClientOrderID
		if coid == "" || len(coid) > maxClientOrderIDLen {
			coid = ShortClientOrderID(bm.EffSigID(), psym, i, now)
		}
		legs[i] = model.BatchLeg{
			LimitPrice:    in.PriceString(),
			Size:          clamped[i],
			Side:          closeSide,
			OrderType:     model.OrderTypeLimit,
			ReduceOnly:    true,
			PostOnly:      in.PostOnlyFlag(),
			Mmp:           in.MmpFlag(),
			ClientOrderID: coid,
		}
	}

	if err := c.ex.BatchOrders(ctx, pid, psym, legs); err != nil {
		return entry, "", err
	}
	logger.Info("止盈批量挂单",
		logger.Pair("psym", psym),
		logger.Pair("side", closeSide),
		logger.Pair("legs", clamped),
		logger.Pair("position_lots", positionLots))

	c.st.WithRecord(func() { rec.DidBatch = true })
	entry.Side = closeSide
	entry.Legs = clamped
	return entry, "", nil
}

func appendNote(base, note string) string {
	if base == "" {
		return note
	}
	return base + "," + note
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
