package observe

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attribute keys beyond the semantic conventions.
const (
	AttrRevision        = attribute.Key("vcs.revision")
	AttrDefaultLanguage = attribute.Key("genogram.default_language")
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	// Version is the release version, or the main module version when the
	// binary was not stamped at link time.
	Version string

	// Revision is the VCS commit the binary was built from, if known.
	Revision string
}

// ReadBuildInfo returns the identity of the running binary. A non-empty
// stamped version, usually set with -ldflags, wins over the module version.
func ReadBuildInfo(stamped string) BuildInfo {
	info := BuildInfo{Version: stamped}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		if info.Version == "" {
			info.Version = "unknown"
		}
		return info
	}
	if info.Version == "" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			info.Revision = s.Value
		}
	}
	return info
}

// ProviderConfig configures telemetry for the genogram process.
type ProviderConfig struct {
	// ServiceName defaults to "genogram".
	ServiceName string

	Build BuildInfo

	// Language is the configured default interview language.
	Language string

	// Registerer receives the Prometheus collector that backs /metrics.
	// Defaults to [prometheus.DefaultRegisterer].
	Registerer prometheus.Registerer

	// TraceExporter receives finished spans. When nil, spans are sampled
	// but go nowhere.
	TraceExporter sdktrace.SpanExporter
}

func (cfg ProviderConfig) resource() (*resource.Resource, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "genogram"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Build.Version),
	}
	if cfg.Build.Revision != "" {
		attrs = append(attrs, AttrRevision.String(cfg.Build.Revision))
	}
	if cfg.Language != "" {
		attrs = append(attrs, AttrDefaultLanguage.String(cfg.Language))
	}
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// InitProvider installs global meter and tracer providers. Metrics are exported
// through Prometheus. The returned function flushes and stops both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := cfg.resource()
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	exporter, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter))

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
