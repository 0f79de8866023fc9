package ecode

// 错误码定义，0 表示成功
const (
	Success = 0

	Unknown        = 10001
	ValidateErr    = 10002
	NotFoundErr    = 10003
	RequireAuthErr = 10004

	// 信号链相关错误码
	DedupDrop          = 20001
	ChainExpired       = 20002
	RequireFlatTimeout = 20003
	ExchangeErr        = 20004
	BatchRefused       = 20005
)

var messages = map[int]string{
	Success:            "ok",
	Unknown:            "internal error",
	ValidateErr:        "validation failed",
	NotFoundErr:        "not found",
	RequireAuthErr:     "authentication required",
	DedupDrop:          "duplicate delivery",
	ChainExpired:       "chain_expired",
	RequireFlatTimeout: "require_flat_timeout",
	ExchangeErr:        "exchange request failed",
	BatchRefused:       "batch refused",
}

// Text 返回错误码对应的默认提示信息
func Text(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return messages[Unknown]
}
