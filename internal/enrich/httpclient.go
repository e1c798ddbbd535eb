package enrich

import (
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"
)

// newRestyClient builds an HTTP client with debug logging of every
// outbound collaborator call. Per-call deadlines come from the request
// context; the client timeout is only a safety net.
func newRestyClient(name, baseURL string, logger *zap.Logger) *resty.Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second)

	client.AddRequestMiddleware(func(c *resty.Client, r *resty.Request) error {
		logger.Debug("collaborator request",
			zap.String("client", name),
			zap.String("url", r.URL))
		return nil
	})
	client.AddResponseMiddleware(func(c *resty.Client, r *resty.Response) error {
		logger.Debug("collaborator response",
			zap.String("client", name),
			zap.Int("status", r.StatusCode()),
			zap.Duration("latency", r.Duration()))
		return nil
	})
	return client
}
