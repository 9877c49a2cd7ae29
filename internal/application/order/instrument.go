package order

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/orderstream/internal/observability"
	"github.com/Zhima-Mochi/orderstream/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const spanPrefix = "UC."

// instruments bundles the RED metrics, tracer, and logger shared by the
// order use cases.
type instruments struct {
	tel      observability.Observability
	log      observability.Logger
	requests observability.Counter
	duration observability.Histogram
}

func newInstruments(tel observability.Observability, component string) instruments {
	if tel == nil {
		tel = observability.Nop()
	}
	return instruments{
		tel:      tel,
		log:      tel.Logger().With(observability.F("component", component)),
		requests: tel.Metrics().Counter(observability.MUsecaseRequests),
		duration: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

// observe opens a use-case span and returns a completion callback that
// records metrics, span status, and a single done log line.
func (in instruments) observe(ctx context.Context, useCase string) (context.Context, observability.Logger, func(err error)) {
	ctx, span := in.tel.Tracer().Start(ctx, spanPrefix+useCase,
		attribute.String("use_case", useCase),
	)
	logger := logctx.FromOr(ctx, in.log).With(observability.F("use_case", useCase))
	start := time.Now()

	return ctx, logger, func(err error) {
		lat := time.Since(start).Seconds()
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()

		in.requests.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
		in.duration.Observe(lat, observability.L("use_case", useCase))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("latency_seconds", lat),
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}
}
