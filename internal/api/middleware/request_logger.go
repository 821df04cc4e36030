package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-event-board/internal/pkg/logger"
)

// RequestLogger はリクエストの構造化ログを出力するミドルウェア
// ヘルスチェックとメトリクス取得は Debug レベルで出力する
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			req := c.Request()
			res := c.Response()

			err := next(c)

			// エラーはまだ書き込まれていないため、ステータスはエラーから求める
			status := res.Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = res.Header().Get(echo.HeaderXRequestID)
			}

			fields := []zap.Field{
				zap.String("request_id", requestID),
				zap.String("method", req.Method),
				zap.String("route", c.Path()),
				zap.String("path", req.URL.Path),
				zap.String("query", req.URL.RawQuery),
				zap.Int("status", status),
				zap.Int64("size", res.Size),
				zap.Duration("latency", time.Since(start)),
				zap.String("remote_ip", c.RealIP()),
				zap.String("user_agent", req.UserAgent()),
			}
			if eventID := c.Param("id"); eventID != "" {
				fields = append(fields, zap.String("event_id", eventID))
			}

			switch {
			case status >= 500:
				if err != nil {
					fields = append(fields, zap.Error(err))
				}
				logger.Error("server error", fields...)
			case status >= 400:
				if err != nil {
					fields = append(fields, zap.Error(err))
				}
				logger.Warn("client error", fields...)
			case req.URL.Path == "/health" || req.URL.Path == metricsPath:
				logger.Debug("request completed", fields...)
			default:
				logger.Info("request completed", fields...)
			}

			return err
		}
	}
}
