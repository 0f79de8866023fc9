package api

import (
	"context"

	"deltaflow/conf"
	"deltaflow/internal/chain"
	"deltaflow/internal/exchange"
	"deltaflow/internal/flatten"
	"deltaflow/internal/handler/debug"
	"deltaflow/internal/handler/webhook"
	"deltaflow/internal/product"
	"deltaflow/internal/queue"
	"deltaflow/internal/router"
	whcore "deltaflow/internal/webhook"
	"deltaflow/pkg/logger"
)

// InitRouter 组装依赖并返回路由
func InitRouter() Router {
	appCfg := &conf.AppConfig

	delta := exchange.NewDeltaClient(&appCfg.Delta)
	products := product.NewCache(delta)

	// 启动时预热产品快照，失败不致命，后续按需重试
	if err := products.Warm(context.Background()); err != nil {
		logger.Warnf("产品快照预热失败: %v", err)
	}

	flat := flatten.NewService(delta, products, &appCfg.Trading)
	st := chain.NewState()
	coord := chain.NewCoordinator(st, delta, products, flat, appCfg)

	q := queue.NewKeyedQueue()
	dispatcher := whcore.NewDispatcher(coord, q, appCfg)

	wh := webhook.NewHandler(dispatcher, appCfg.Webhook.Token)
	dh := debug.NewHandler(st)

	return router.NewApiRouter(wh, dh)
}
