// Package provisioning binds the endpoints that synchronize driver lists
// and stream job progress to the browser.
package provisioning

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	app "github.com/ahrav/stc-sync/internal/app/provisioning"
	"github.com/ahrav/stc-sync/internal/domain/events"
	domain "github.com/ahrav/stc-sync/internal/domain/provisioning"
	"github.com/ahrav/stc-sync/pkg/common/logger"
	"github.com/ahrav/stc-sync/pkg/web"
)

// JobFactory builds the provisioning jobs the endpoints run.
type JobFactory interface {
	NewFullSyncJob(ctx context.Context, tenant domain.TenantID, device domain.DeviceID) (*app.Job, error)
	NewRequestJob(ctx context.Context, tenant domain.TenantID, device domain.DeviceID) (*app.Job, error)
	NewReconcileJob(ctx context.Context, tenant domain.TenantID, device domain.DeviceID) (*app.Job, error)
	NewSendDriverJob(ctx context.Context, tenant domain.TenantID, driver domain.DriverID, devices []domain.DeviceID) (*app.Job, error)
	NewSendDriverToClientJob(ctx context.Context, tenant domain.TenantID, driver domain.DriverID, client domain.ClientID) (*app.Job, error)
}

// StreamMetrics tracks open progress streams.
type StreamMetrics interface {
	StreamOpened(ctx context.Context, kind domain.JobKind)
	StreamClosed(ctx context.Context, kind domain.JobKind)
}

// Config contains the dependencies needed by the provisioning handlers.
type Config struct {
	Log     *logger.Logger
	Tracer  trace.Tracer
	Service JobFactory
	// Publisher receives a ProgressReported event for every frame. Optional.
	Publisher events.DomainEventPublisher
	// Metrics is optional.
	Metrics StreamMetrics
	// Keepalive is the interval between SSE keepalive comments. Zero
	// disables them.
	Keepalive time.Duration
}

// Routes binds all the provisioning endpoints. Every endpoint answers with
// a server-sent event stream once its parameters validate.
func Routes(a *web.App, cfg Config) {
	const version = "v1"

	h := newHandlers(cfg)

	a.StreamFunc(http.MethodGet, version, "/tenants/{tenantID}/equipment/{deviceID}/drivers/sync", h.fullSync)
	a.StreamFunc(http.MethodGet, version, "/tenants/{tenantID}/equipment/{deviceID}/drivers/request", h.request)
	a.StreamFunc(http.MethodGet, version, "/tenants/{tenantID}/equipment/{deviceID}/drivers/reconcile", h.reconcile)
	a.StreamFunc(http.MethodGet, version, "/tenants/{tenantID}/drivers/{driverID}/send", h.sendDriver)
}
