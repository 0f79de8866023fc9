package conf

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// 配置加载（API密钥等）

type WebhookConfig struct {
	// 上游在 x-webhook-token 头中携带的口令，为空表示不校验
	Token string `yaml:"token"`
}

// Delta 交易所接入配置
type DeltaConfig struct {
	BaseURL   string `yaml:"base-url" validate:"required,url"`
	ApiKey    string `yaml:"api-key"`
	ApiSecret string `yaml:"api-secret"`
	// hmac 或 keyonly
	AuthMode string `yaml:"auth-mode"`

	// 签名头名称，可配置以兼容不同网关
	HeaderApiKey    string `yaml:"header-api-key"`
	HeaderSignature string `yaml:"header-signature"`
	HeaderTimestamp string `yaml:"header-timestamp"`
}

// 下单与信号链行为配置
type TradingConfig struct {
	DefaultLeverage int     `yaml:"default-leverage"`
	FxInrPerUsd     float64 `yaml:"fx-inr-per-usd"`
	MarginBufferPct float64 `yaml:"margin-buffer-pct"`
	MaxLotsPerOrder int     `yaml:"max-lots-per-order"`

	FlatTimeoutMs int `yaml:"flat-timeout-ms"`
	FlatPollMs    int `yaml:"flat-poll-ms"`

	FastEnter        bool `yaml:"fast-enter"`
	FastEnterWaitMs  int  `yaml:"fast-enter-wait-ms"`
	FastEnterRetryMs int  `yaml:"fast-enter-retry-ms"`

	// 严格模式要求每条消息携带 sig_id 和 seq
	StrictSequence      *bool `yaml:"strict-sequence"`
	SignalChainWindowMs int   `yaml:"signal-chain-window-ms"`

	AutoCancelOnEnter         bool `yaml:"auto-cancel-on-enter"`
	SkipCancelOnEnter         bool `yaml:"skip-cancel-on-enter"`
	ForceCancelOrdersOnCancel bool `yaml:"force-cancel-orders-on-cancel"`
	ForceCloseOnCancel        bool `yaml:"force-close-on-cancel"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	TimeFormat string `yaml:"time-format"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local-time"`
	Console    bool   `yaml:"console"`
}

type Config struct {
	AppName      string        `yaml:"app_name"`
	Listen       string        `yaml:"listen" validate:"required"`
	Mode         string        `yaml:"mode"`
	MaxPingCount int           `yaml:"max-ping-count"`
	Webhook      WebhookConfig `yaml:"webhook"`
	Delta        DeltaConfig   `yaml:"delta"`
	Trading      TradingConfig `yaml:"trading"`
	Log          LogConfig     `yaml:"log"`
}

var AppConfig Config

// StrictSeq 严格模式默认开启
func (t *TradingConfig) StrictSeq() bool {
	if t.StrictSequence == nil {
		return true
	}
	return *t.StrictSequence
}

func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file error %w", err)
	}
	AppConfig = Config{}
	if err := yaml.Unmarshal(data, &AppConfig); err != nil {
		return fmt.Errorf("unmarshal config yaml error: %w", err)
	}

	// 密钥允许通过环境变量覆盖，便于容器部署
	if v := os.Getenv("DELTA_API_KEY"); v != "" {
		AppConfig.Delta.ApiKey = v
	}
	if v := os.Getenv("DELTA_API_SECRET"); v != "" {
		AppConfig.Delta.ApiSecret = v
	}
	if v := os.Getenv("WEBHOOK_TOKEN"); v != "" {
		AppConfig.Webhook.Token = v
	}

	AppConfig.ApplyDefaults()

	if err := validator.New().Struct(&AppConfig); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if AppConfig.Delta.AuthMode == "hmac" && AppConfig.Delta.ApiSecret == "" {
		return fmt.Errorf("invalid config: auth-mode hmac requires api secret")
	}
	return nil
}

// ApplyDefaults 填充未配置项的默认值
func (c *Config) ApplyDefaults() {
	if c.AppName == "" {
		c.AppName = "deltaflow"
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.MaxPingCount == 0 {
		c.MaxPingCount = 10
	}
	d := &c.Delta
	if d.AuthMode == "" {
		d.AuthMode = "hmac"
	}
	if d.HeaderApiKey == "" {
		d.HeaderApiKey = "api-key"
	}
	if d.HeaderSignature == "" {
		d.HeaderSignature = "signature"
	}
	if d.HeaderTimestamp == "" {
		d.HeaderTimestamp = "timestamp"
	}
	t := &c.Trading
	if t.DefaultLeverage <= 0 {
		t.DefaultLeverage = 10
	}
	if t.FxInrPerUsd <= 0 {
		t.FxInrPerUsd = 88.0
	}
	if t.MarginBufferPct <= 0 {
		t.MarginBufferPct = 0.03
	}
	if t.MaxLotsPerOrder <= 0 {
		t.MaxLotsPerOrder = 50000
	}
	if t.FlatTimeoutMs <= 0 {
		t.FlatTimeoutMs = 15000
	}
	if t.FlatPollMs <= 0 {
		t.FlatPollMs = 500
	}
	if t.FastEnterWaitMs <= 0 {
		t.FastEnterWaitMs = 2000
	}
	if t.FastEnterRetryMs <= 0 {
		t.FastEnterRetryMs = 8000
	}
	if t.SignalChainWindowMs <= 0 {
		t.SignalChainWindowMs = 120000
	}
}
