package mid

import (
	"context"
	"net/http"

	"github.com/ahrav/stc-sync/internal/api/errs"
	"github.com/ahrav/stc-sync/pkg/common/logger"
	"github.com/ahrav/stc-sync/pkg/web"
)

// Errors logs the API errors handlers return so the response and the logs
// agree.
func Errors(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			resp := next(ctx, r)

			appErr, ok := resp.(*errs.Error)
			if !ok {
				return resp
			}

			if appErr.Code == errs.Internal {
				log.Error(ctx, "handled error during request", "code", appErr.Code.Value(), "message", appErr.Message)
			} else {
				log.Warn(ctx, "request rejected", "code", appErr.Code.Value(), "message", appErr.Message)
			}

			return appErr
		}

		return h
	}

	return m
}
