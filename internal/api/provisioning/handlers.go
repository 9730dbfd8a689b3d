package provisioning

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace/noop"

	app "github.com/ahrav/stc-sync/internal/app/provisioning"
	"github.com/ahrav/stc-sync/internal/domain/events"
	domain "github.com/ahrav/stc-sync/internal/domain/provisioning"
	progressreporter "github.com/ahrav/stc-sync/internal/infra/progress_reporter"
	"github.com/ahrav/stc-sync/pkg/common/otel"
	"github.com/ahrav/stc-sync/pkg/web"
)

type handlers struct {
	cfg Config
}

func newHandlers(cfg Config) *handlers {
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("provisioning-api")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	return &handlers{cfg: cfg}
}

func (h *handlers) fullSync(ctx context.Context, w http.ResponseWriter, r *http.Request) web.Encoder {
	p, perr := parseEquipmentParams(r)
	if perr != nil {
		return perr
	}
	job, err := h.cfg.Service.NewFullSyncJob(ctx, p.tenant(), p.device())
	return h.run(ctx, w, domain.JobKindFullSync, job, err)
}

func (h *handlers) request(ctx context.Context, w http.ResponseWriter, r *http.Request) web.Encoder {
	p, perr := parseEquipmentParams(r)
	if perr != nil {
		return perr
	}
	job, err := h.cfg.Service.NewRequestJob(ctx, p.tenant(), p.device())
	return h.run(ctx, w, domain.JobKindRequestOnly, job, err)
}

func (h *handlers) reconcile(ctx context.Context, w http.ResponseWriter, r *http.Request) web.Encoder {
	p, perr := parseEquipmentParams(r)
	if perr != nil {
		return perr
	}
	job, err := h.cfg.Service.NewReconcileJob(ctx, p.tenant(), p.device())
	return h.run(ctx, w, domain.JobKindReconcile, job, err)
}

func (h *handlers) sendDriver(ctx context.Context, w http.ResponseWriter, r *http.Request) web.Encoder {
	p, perr := parseSendParams(r)
	if perr != nil {
		return perr
	}

	tenant, driver := domain.TenantID(p.TenantID), domain.DriverID(p.DriverID)

	var (
		job *app.Job
		err error
	)
	if p.Client > 0 {
		job, err = h.cfg.Service.NewSendDriverToClientJob(ctx, tenant, driver, domain.ClientID(p.Client))
	} else {
		job, err = h.cfg.Service.NewSendDriverJob(ctx, tenant, driver, p.devices())
	}
	return h.run(ctx, w, domain.JobKindSendDriver, job, err)
}

// run streams the job's progress to the caller. A job that could not be
// built still gets a stream: a single ERROR frame explaining why.
func (h *handlers) run(ctx context.Context, w http.ResponseWriter, kind domain.JobKind, job *app.Job, buildErr error) web.Encoder {
	log := h.cfg.Log.With("kind", kind.String())

	ctx, span := otel.AddSpan(ctx, h.cfg.Tracer, "provisioning.stream", attribute.String("kind", kind.String()))
	defer span.End()

	if h.cfg.Metrics != nil {
		h.cfg.Metrics.StreamOpened(ctx, kind)
		defer h.cfg.Metrics.StreamClosed(ctx, kind)
	}

	stream := web.NewEventStream(w)
	defer stream.Close()
	sse := progressreporter.NewSSESink(stream, log, progressreporter.WithKeepalive(h.cfg.Keepalive))

	if buildErr != nil {
		log.Warn(ctx, "Failed to build job", "error", buildErr)
		span.RecordError(buildErr)
		span.SetStatus(codes.Error, "failed to build job")
		evt := domain.ProgressEvent{Status: domain.ProgressError, Message: domain.UserMessage(buildErr)}
		if err := sse.Report(ctx, evt); err != nil {
			log.Warn(ctx, "Failed to report build error", "error", err)
		}
		return web.NoResponse{}
	}

	w.Header().Set("X-Job-ID", job.ID().String())
	span.SetAttributes(attribute.String("job_id", job.ID().String()))
	sink := progressreporter.NewMultiSink(log, sse,
		progressreporter.NewDomainEventSink(job.ID().String(), h.cfg.Publisher, h.cfg.Tracer),
	)

	sse.Start(ctx)
	defer sse.Stop()

	if err := job.Execute(ctx, sink); err != nil {
		log.Info(ctx, "Job ended with an error", "job_id", job.ID().String(), "error", err)
		span.SetStatus(codes.Error, "job failed")
	}
	return web.NoResponse{}
}
