package consts

import "time"

const (
	// RequestId 请求id名称
	RequestId = "request_id"

	// 上游webhook口令头
	WebhookTokenHeader = "x-webhook-token"

	DateLayout   = "2006-01-02"
	TimeLayout   = "2006-01-02 15:04:05"
	TimeLayoutMs = "2006-01-02 15:04:05.000"
)

// 信号链动作，V2 核心只处理前三个
const (
	ActionCancal   = "CANCAL"
	ActionEnter    = "ENTER"
	ActionBatchTps = "BATCH_TPS"
	ActionExit     = "EXIT"
)

// V1 遗留动作别名，仅确认收到，不驱动信号链
var LegacyActions = map[string]bool{
	"DELTA_CANCEL_ALL": true,
	"CANCEL_ALL":       true,
	"CLOSE_POSITION":   true,
	"FLIP":             true,
	"CLOSE_ALL":        true,
}

const (
	// ScopeAll 全局清场，对应 GLOBAL 队列
	ScopeAll = "ALL"
	// ScopeSymbol 按品种清场
	ScopeSymbol = "SYMBOL"

	// 队列键
	QueueKeyGlobal    = "GLOBAL"
	QueueKeySymPrefix = "SYM:"
)

const (
	// 信号链记录的存活时间，超时未触达即被清理
	ChainTTL = 2 * time.Minute
	// 幂等指纹的存活时间
	SeenTTL = 60 * time.Second
	// 幂等缓存容量上限
	SeenCap = 300
	// 最近一次开仓备忘的有效期，只用于TP数量启发
	LastEntryTTL = 15 * time.Second
	// 产品快照缓存有效期
	ProductsTTL = 5 * time.Minute
)
