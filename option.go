package actioncore

import (
	"github.com/sirupsen/logrus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sk-go/actioncore/model/action"
	"github.com/sk-go/actioncore/service/approval"
	"github.com/sk-go/actioncore/service/dao"
	"github.com/sk-go/actioncore/service/event"
	"github.com/sk-go/actioncore/service/executor"
	"github.com/sk-go/actioncore/service/queue"
	"github.com/sk-go/actioncore/service/snapshot"
	"github.com/sk-go/actioncore/service/style"
	"github.com/sk-go/actioncore/tracing"
)

// Option customises the orchestrator service.
type Option func(s *Service)

// WithConfig overrides the default configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) { s.config = config }
}

// WithActionDAO overrides the action repository (memory by default).
func WithActionDAO(actions dao.Service[string, action.Action]) Option {
	return func(s *Service) { s.actions = actions }
}

// WithEventService sets the event bus shared by all components.
func WithEventService(bus *event.Service) Option {
	return func(s *Service) { s.bus = bus }
}

// WithExecutorRegistry sets the per-type executor registry.
func WithExecutorRegistry(registry *executor.Registry) Option {
	return func(s *Service) { s.registry = registry }
}

// WithExecutor registers a single executor for an action type.
func WithExecutor(actionType action.Type, service executor.Service) Option {
	return func(s *Service) { s.registry.Register(actionType, service) }
}

// WithStyleService sets the writing-style service applied to outbound
// content.
func WithStyleService(service style.Service) Option {
	return func(s *Service) { s.style = service }
}

// WithMirror sets the snapshot mirror; overrides the Mirror config section.
func WithMirror(mirror *snapshot.Mirror) Option {
	return func(s *Service) { s.mirror = mirror }
}

// WithApprovalOptions forwards options to the approval workflow engine.
func WithApprovalOptions(options ...approval.Option) Option {
	return func(s *Service) { s.approvalOptions = append(s.approvalOptions, options...) }
}

// WithQueueOptions forwards options to the queue manager.
func WithQueueOptions(options ...queue.Option) Option {
	return func(s *Service) { s.queueOptions = append(s.queueOptions, options...) }
}

// WithCollector attaches a Prometheus collector to the queue manager.
func WithCollector(collector *queue.Collector) Option {
	return func(s *Service) { s.queueOptions = append(s.queueOptions, queue.WithCollector(collector)) }
}

// WithLogger overrides the service logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile is empty the
// stdout exporter is used; otherwise traces are written to the supplied file path. The function is
// safe to call multiple times – the first successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom SpanExporter. This enables
// integrations with exporters other than the built-in stdout exporter, for example OTLP, Jaeger or
// Zipkin. The function is safe to call multiple times – the first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
