package sizing

import (
	"math"

	"deltaflow/internal/model"
	"deltaflow/pkg/errors"
	"deltaflow/pkg/errors/ecode"

	"github.com/shopspring/decimal"
)

// 仓位数量的单位分类
type Units string

const (
	UnitsLots    Units = "lots"
	UnitsCoins   Units = "coins"
	UnitsUnknown Units = "unknown"
)

// PositionSizing 仓位大小的归一化结果
type PositionSizing struct {
	Units Units
	Lots  int
}

// LotsFromAmount 预算转张数
// marginUSD = amount (USD) 或 amount/fx (INR)
// notionalUSD = marginUSD * leverage * (1 - buffer)
// lots = floor(notionalUSD / entryPxUSD / lotMult)，钳制到 [1, maxLots]
func LotsFromAmount(amount float64, ccy string, leverage int, entryPxUSD, lotMult, fxInrPerUsd, bufferPct float64, maxLots int) (int, error) {
	if amount <= 0 {
		return 0, errors.New(ecode.ValidateErr, "amount must be positive")
	}
	if entryPxUSD <= 0 {
		return 0, errors.New(ecode.ValidateErr, "entry price unavailable")
	}
	if leverage < 1 {
		leverage = 1
	}
	if lotMult <= 0 {
		lotMult = 1
	}

	margin := decimal.NewFromFloat(amount)
	if ccy == "INR" {
		if fxInrPerUsd <= 0 {
			return 0, errors.New(ecode.ValidateErr, "fx rate unavailable for INR amount")
		}
		margin = margin.Div(decimal.NewFromFloat(fxInrPerUsd))
	}

	notional := margin.
		Mul(decimal.NewFromInt(int64(leverage))).
		Mul(decimal.NewFromFloat(1 - bufferPct))
	coins := notional.Div(decimal.NewFromFloat(entryPxUSD))
	lots := int(coins.Div(decimal.NewFromFloat(lotMult)).IntPart())

	return clampLots(lots, maxLots), nil
}

func clampLots(lots, maxLots int) int {
	if lots < 1 {
		return 1
	}
	if maxLots > 0 && lots > maxLots {
		return maxLots
	}
	return lots
}

// InferPositionUnits 判断交易所返回的仓位 size 是张还是币
// notional/price 可传0表示未知
func InferPositionUnits(rawSize, lotMult, notional, price float64, maxLots int) PositionSizing {
	s := math.Abs(rawSize)
	if s == 0 {
		return PositionSizing{Units: UnitsUnknown, Lots: 0}
	}
	if lotMult <= 0 {
		lotMult = 1
	}

	// 有名义价值和价格时，比较 s 与两种单位估计值谁更接近
	if notional > 0 && price > 0 {
		coinsEst := notional / price
		lotsEst := coinsEst / lotMult
		dLots := relErr(s, lotsEst)
		dCoins := relErr(s, coinsEst)
		if dLots <= dCoins && dLots < 0.25 {
			return PositionSizing{Units: UnitsLots, Lots: maxInt(1, int(math.Round(s)))}
		}
		if dCoins < dLots && dCoins < 0.25 {
			return PositionSizing{Units: UnitsCoins, Lots: maxInt(1, int(math.Floor(s/lotMult)))}
		}
	}

	if lotMult > 1 {
		if isInteger(s) && !divisibleBy(s, lotMult) {
			// 整数但不是倍数，只可能是张数
			return PositionSizing{Units: UnitsLots, Lots: maxInt(1, int(math.Round(s)))}
		}
		if maxLots > 0 && s > float64(maxLots) {
			return PositionSizing{Units: UnitsCoins, Lots: maxInt(1, int(math.Floor(s/lotMult)))}
		}
		// 可整除时默认按币处理
		return PositionSizing{Units: UnitsCoins, Lots: maxInt(1, int(math.Floor(s/lotMult)))}
	}
	return PositionSizing{Units: UnitsLots, Lots: maxInt(1, int(math.Round(s)))}
}

// NormalizeTpSize 单条止盈腿的数量归一化，返回张数
// lastLots 来自最近一次开仓备忘，过期传0
func NormalizeTpSize(leg *model.TpLegInput, lotMult float64, lastLots, maxLots int) int {
	if lotMult <= 0 {
		lotMult = 1
	}
	if coins := leg.SizeCoinsVal(); coins > 0 {
		return maxInt(1, int(math.Floor(coins/lotMult)))
	}

	s := leg.SizeVal()
	if s <= 0 {
		return 1
	}
	sInt := isInteger(s)
	lastCoins := float64(lastLots) * lotMult

	switch {
	// 大的整数倍是歧义重灾区，按币处理
	case lotMult > 1 && sInt && s >= lotMult && divisibleBy(s, lotMult):
		return maxInt(1, int(math.Round(s/lotMult)))
	case sInt && lastLots > 0 && s <= 2*float64(lastLots):
		return maxInt(1, int(math.Round(s)))
	case lastCoins > 0 && s >= math.Max(0.5*lastCoins, 2*lotMult):
		return maxInt(1, int(math.Floor(s/lotMult)))
	case lotMult > 1 && sInt && !divisibleBy(s, lotMult):
		return maxInt(1, int(math.Round(s)))
	case lotMult > 1 && maxLots > 0 && s > float64(maxLots):
		return maxInt(1, int(math.Floor(s/lotMult)))
	default:
		return maxInt(1, int(math.Round(s)))
	}
}

// ClampLegsToPosition 把每腿张数压到不超过实际仓位
// 仓位张数少于腿数时丢弃多出的腿，保留的每腿1张，防止反向开仓
func ClampLegsToPosition(legs []int, positionLots int) []int {
	if positionLots <= 0 || len(legs) == 0 {
		return nil
	}
	n := len(legs)
	if positionLots < n {
		out := make([]int, positionLots)
		for i := range out {
			out[i] = 1
		}
		return out
	}

	sum := 0
	for _, l := range legs {
		sum += l
	}
	if sum <= positionLots {
		out := make([]int, n)
		copy(out, legs)
		return out
	}

	// 等比缩放后取整，再轮转分配差额
	out := make([]int, n)
	scaled := 0
	for i, l := range legs {
		v := int(math.Floor(float64(l) * float64(positionLots) / float64(sum)))
		if v < 1 {
			v = 1
		}
		out[i] = v
		scaled += v
	}
	for i := 0; scaled < positionLots; i = (i + 1) % n {
		out[i]++
		scaled++
	}
	for i := 0; scaled > positionLots; i = (i + 1) % n {
		if out[i] > 1 {
			out[i]--
			scaled--
		}
	}
	return out
}

func relErr(s, est float64) float64 {
	if est <= 0 {
		return math.Inf(1)
	}
	return math.Abs(s-est) / est
}

func isInteger(s float64) bool {
	return math.Abs(s-math.Round(s)) < 1e-9
}

func divisibleBy(s, m float64) bool {
	if m <= 0 {
		return false
	}
	q := s / m
	return math.Abs(q-math.Round(q)) < 1e-9
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
