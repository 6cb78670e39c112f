package event

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case DirectoryUnavailable:
		fields := []zap.Field{
			zap.String("dir", e.Path),
			zap.Bool("wal", e.IsWAL),
			zap.Uint64("free_bytes", e.FreeBytes),
			zap.Uint64("reserved_bytes", e.ReservedBytes),
		}
		if e.QueryError != "" {
			fields = append(fields, zap.String("query_error", e.QueryError))
		}
		h.logger.Warn("directory reserved space exceeded", fields...)
	case DirectoryRecovered:
		h.logger.Info("directory recovered",
			zap.String("dir", e.Path),
			zap.Bool("wal", e.IsWAL),
			zap.Uint64("free_bytes", e.FreeBytes),
			zap.Uint64("reserved_bytes", e.ReservedBytes),
		)
	case ContainersTransitioned:
		h.logger.Info("containers transitioned",
			zap.String("dir", e.Dir),
			zap.String("to", e.To),
			zap.Int("count", e.Count),
		)
	case EscalatorStateChanged:
		h.logger.Info("escalator state changed",
			zap.String("from", e.From),
			zap.String("to", e.To),
		)
	default:
		h.logger.Debug("domain event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{"*"} // Handle all events
}

// MetricsHandler counts threshold crossings
type MetricsHandler struct {
	unavailable           atomic.Int64
	recovered             atomic.Int64
	queryFailures         atomic.Int64
	containersTransitions atomic.Int64
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Handle updates metrics based on the event
func (h *MetricsHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case DirectoryUnavailable:
		h.unavailable.Add(1)
		if e.QueryError != "" {
			h.queryFailures.Add(1)
		}
	case DirectoryRecovered:
		h.recovered.Add(1)
	case ContainersTransitioned:
		h.containersTransitions.Add(int64(e.Count))
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *MetricsHandler) HandledEvents() []string {
	return []string{
		NameDirectoryUnavailable,
		NameDirectoryRecovered,
		NameContainersTransitioned,
	}
}

// GetMetrics returns current metrics
func (h *MetricsHandler) GetMetrics() map[string]int64 {
	return map[string]int64{
		"directories_unavailable": h.unavailable.Load(),
		"directories_recovered":   h.recovered.Load(),
		"query_failures":          h.queryFailures.Load(),
		"container_transitions":   h.containersTransitions.Load(),
	}
}
