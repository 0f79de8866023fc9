package webhook

import (
	"context"
	"strings"

	"deltaflow/conf"
	"deltaflow/internal/chain"
	"deltaflow/internal/consts"
	"deltaflow/internal/model"
	"deltaflow/internal/queue"
	"deltaflow/pkg/errors"
	"deltaflow/pkg/errors/ecode"
	"deltaflow/pkg/logger"
)

// Dispatcher webhook 入口的核心分发器
// 解析消息、派生队列键，然后在按键队列里驱动信号链
type Dispatcher struct {
	coord *chain.Coordinator
	q     *queue.KeyedQueue
	cfg   *conf.Config
}

func NewDispatcher(coord *chain.Coordinator, q *queue.KeyedQueue, cfg *conf.Config) *Dispatcher {
	return &Dispatcher{coord: coord, q: q, cfg: cfg}
}

// Ack 非错误的确认响应
type Ack struct {
	OK      bool        `json:"ok"`
	Ignored string      `json:"ignored,omitempty"`
	Dedup   bool        `json:"dedup,omitempty"`
	Queued  string      `json:"queued,omitempty"`
	Status  string      `json:"status,omitempty"`
	Have    []string    `json:"have,omitempty"`
	Did     []string    `json:"did,omitempty"`
	Progressed interface{} `json:"progressed,omitempty"`
}

// Handle 处理一条入站消息体，返回响应载荷；错误由HTTP层转成400
func (d *Dispatcher) Handle(ctx context.Context, body []byte) (*Ack, error) {
	msg, err := model.ParseSignalMessage(body)
	if err != nil {
		return nil, errors.Wrap(err, ecode.ValidateErr, "invalid JSON body")
	}

	action := strings.ToUpper(strings.TrimSpace(msg.Action))
	switch {
	case action == consts.ActionExit:
		return &Ack{OK: true, Ignored: consts.ActionExit}, nil
	case consts.LegacyActions[action]:
		// V1 的遗留动作只确认，不进入V2信号链
		logger.Infof("忽略遗留动作: %s", action)
		return &Ack{OK: true, Ignored: action}, nil
	case action == consts.ActionCancal, action == consts.ActionEnter, action == consts.ActionBatchTps:
	default:
		return nil, errors.Newf(ecode.ValidateErr, "unknown action %q", msg.Action)
	}

	seq, hasSeq := msg.SeqVal()
	if d.cfg.Trading.StrictSeq() {
		// 严格模式下缺 sig_id/seq 是信息性丢弃，上游可能正在灰度升级
		if msg.EffSigID() == "" {
			return &Ack{OK: true, Ignored: "missing sig_id (strict mode)"}, nil
		}
		if !hasSeq || seq < 0 || seq > 2 {
			return &Ack{OK: true, Ignored: "missing or invalid seq (strict mode)"}, nil
		}
	} else if !hasSeq {
		// 宽松模式按动作补出 seq
		switch action {
		case consts.ActionCancal:
			msg.Seq = 0
		case consts.ActionEnter:
			msg.Seq = 1
		case consts.ActionBatchTps:
			msg.Seq = 2
		}
	}

	psym := msg.EffSymbol()
	if psym == "" && !msg.IsGlobalScope() {
		return nil, errors.New(ecode.ValidateErr, "missing product_symbol")
	}

	key := consts.QueueKeyGlobal
	if !msg.IsGlobalScope() {
		key = consts.QueueKeySymPrefix + psym
	}

	var (
		res     *chain.Result
		dispErr error
	)
	d.q.Do(key, func() {
		res, dispErr = d.coord.Dispatch(ctx, msg)
	})
	if dispErr != nil {
		return nil, dispErr
	}

	ack := &Ack{
		OK:     true,
		Dedup:  res.Dedup,
		Queued: res.Queued,
		Status: res.Status,
		Have:   res.Have,
		Did:    res.Did,
	}
	if len(res.Progressed) > 0 {
		ack.Progressed = res.Progressed
	}
	return ack, nil
}
