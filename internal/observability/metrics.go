package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stitchworks/erp-auth/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "erp-auth"

type AppMetrics struct {
	authLoginCounter    metric.Int64Counter
	authRefreshCounter  metric.Int64Counter
	authLogoutCounter   metric.Int64Counter
	twoFactorCounter    metric.Int64Counter
	sessionSweepCounter metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)
	loginCounter, err := meter.Int64Counter("auth.login.attempts")
	if err != nil {
		return nil, err
	}
	refreshCounter, err := meter.Int64Counter("auth.refresh.attempts")
	if err != nil {
		return nil, err
	}
	logoutCounter, err := meter.Int64Counter("auth.logout.attempts")
	if err != nil {
		return nil, err
	}
	twoFactorCounter, err := meter.Int64Counter("auth.twofactor.attempts")
	if err != nil {
		return nil, err
	}
	sweepCounter, err := meter.Int64Counter("session.sweep.removed")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		authLoginCounter:    loginCounter,
		authRefreshCounter:  refreshCounter,
		authLogoutCounter:   logoutCounter,
		twoFactorCounter:    twoFactorCounter,
		sessionSweepCounter: sweepCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func RecordAuthLogin(status string) {
	if m := currentMetrics(); m != nil {
		m.authLoginCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthRefresh(status string) {
	if m := currentMetrics(); m != nil {
		m.authRefreshCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthLogout(status string) {
	if m := currentMetrics(); m != nil {
		m.authLogoutCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordTwoFactorAttempt(method, status string) {
	if m := currentMetrics(); m != nil {
		m.twoFactorCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("status", status),
		))
	}
}

func RecordSessionSweep(count int64) {
	if m := currentMetrics(); m != nil {
		m.sessionSweepCounter.Add(context.Background(), count)
	}
}

func currentMetrics() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

var (
	lazyOnce       sync.Once
	repoOpCounter  metric.Int64Counter
	rateLimitCtr   metric.Int64Counter
	accessTokenCtr metric.Int64Counter
)

func initLazyCounters() {
	meter := otel.Meter(meterName)
	if c, err := meter.Int64Counter("repository.operations"); err == nil {
		repoOpCounter = c
	}
	if c, err := meter.Int64Counter("ratelimit.decisions"); err == nil {
		rateLimitCtr = c
	}
	if c, err := meter.Int64Counter("auth.access_token.validations"); err == nil {
		accessTokenCtr = c
	}
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	lazyOnce.Do(initLazyCounters)
	if repoOpCounter == nil {
		return
	}
	repoOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, decision, mode string) {
	lazyOnce.Do(initLazyCounters)
	if rateLimitCtr == nil {
		return
	}
	rateLimitCtr.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
		attribute.String("mode", mode),
	))
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	lazyOnce.Do(initLazyCounters)
	if accessTokenCtr == nil {
		return
	}
	accessTokenCtr.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}
