// Package telemetry はOpenTelemetryのトレース出力を設定する。
package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc はトレーサープロバイダーを停止し、未送信のスパンを送信する。
type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// Setup はOTEL_EXPORTER_OTLP_ENDPOINTが設定されている場合にOTLP gRPCエクスポーターを構成し、
// グローバルなトレーサープロバイダーとして登録する。
// 未設定またはエクスポーターの生成に失敗した場合は何もしないShutdownFuncを返す。
func Setup(serviceName string) ShutdownFunc {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return noop
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true" {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(context.Background(), opts...)
	if err != nil {
		slog.Error("failed to create otel exporter", slog.String("error", err.Error()))
		return noop
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		slog.Warn("failed to build otel resource", slog.String("error", err.Error()))
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	slog.Info("tracing enabled",
		slog.String("endpoint", endpoint),
		slog.String("service", serviceName),
	)
	return provider.Shutdown
}
