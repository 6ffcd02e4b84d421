package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"

	"github.com/statline-hub/statline-hub/internal/server/routes"
)

// AppOptions 描述构建应用所需的依赖与监听参数。
type AppOptions struct {
	Deps       routes.Deps
	ListenPort int
}

const contextKeyRequestID = "_statline_request_id"

// NewApp 构建 Fiber 应用：panic 恢复、请求 ID 中间件，
// 以及数据集与诊断两组路由。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Deps.Catalog == nil || opts.Deps.Data == nil {
		return nil, errors.New("catalog service and data client are required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	routes.RegisterDatasetRoutes(app, opts.Deps)
	routes.RegisterStatusRoutes(app, opts.Deps)

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID 并回写响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
