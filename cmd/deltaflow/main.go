package main

import (
	"flag"
	"log"

	"deltaflow/conf"
	"deltaflow/internal/api"
	"deltaflow/pkg/logger"
)

// 启动服务（监听webhook）

/*
测试

BODY='{"action":"ENTER","sig_id":"S1","seq":1,"product_symbol":"ARCUSD","side":"buy","amount_usd":100,"leverage":10,"entry":2.0}'

curl -X POST http://localhost:8080/tv \
  -H "Content-Type: application/json" \
  -H "x-webhook-token: $WEBHOOK_TOKEN" \
  -d "$BODY"

*/

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置文件，缺必填项直接退出
	if err := conf.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.InitLogger(&conf.AppConfig.Log)

	r := api.InitRouter()
	srv := api.NewServer(&conf.AppConfig)
	srv.Run(r)
}
