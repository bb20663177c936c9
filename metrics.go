package tradesocket

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/tradeterm/tradesocket"

// Metric names
const (
	MetricConnectAttempts   = "tradesocket_connect_attempts_total"
	MetricReconnects        = "tradesocket_reconnects_scheduled_total"
	MetricFramesReceived    = "tradesocket_frames_received_total"
	MetricMessagesSent      = "tradesocket_messages_sent_total"
	MetricParseErrors       = "tradesocket_parse_errors_total"
	MetricQueueEvictions    = "tradesocket_queue_evictions_total"
	MetricHeartbeatTimeouts = "tradesocket_heartbeat_timeouts_total"
	MetricAuthFailures      = "tradesocket_auth_failures_total"
)

type metrics struct {
	connectAttempts   metric.Int64Counter
	reconnects        metric.Int64Counter
	framesReceived    metric.Int64Counter
	messagesSent      metric.Int64Counter
	parseErrors       metric.Int64Counter
	queueEvictions    metric.Int64Counter
	heartbeatTimeouts metric.Int64Counter
	authFailures      metric.Int64Counter
}

// newMetrics creates the instruments. Instrument errors are ignored; the
// meter returns a usable no-op instrument alongside them.
func newMetrics(mp metric.MeterProvider) *metrics {
	meter := mp.Meter(instrumentationName)
	m := &metrics{}
	m.connectAttempts, _ = meter.Int64Counter(MetricConnectAttempts,
		metric.WithDescription("Transport dial attempts"))
	m.reconnects, _ = meter.Int64Counter(MetricReconnects,
		metric.WithDescription("Reconnect timers armed after an abnormal close"))
	m.framesReceived, _ = meter.Int64Counter(MetricFramesReceived,
		metric.WithDescription("Inbound frames by message type"))
	m.messagesSent, _ = meter.Int64Counter(MetricMessagesSent,
		metric.WithDescription("Outbound messages written to the transport"))
	m.parseErrors, _ = meter.Int64Counter(MetricParseErrors,
		metric.WithDescription("Inbound frames dropped as unparseable"))
	m.queueEvictions, _ = meter.Int64Counter(MetricQueueEvictions,
		metric.WithDescription("Queued messages evicted by capacity overflow"))
	m.heartbeatTimeouts, _ = meter.Int64Counter(MetricHeartbeatTimeouts,
		metric.WithDescription("Connections dropped for missing heartbeat replies"))
	m.authFailures, _ = meter.Int64Counter(MetricAuthFailures,
		metric.WithDescription("Authentication rejections observed"))
	return m
}

func typeAttr(msgType string) metric.AddOption {
	return metric.WithAttributes(attribute.String("type", msgType))
}

func (m *metrics) frame(msgType string) {
	m.framesReceived.Add(context.Background(), 1, typeAttr(msgType))
}

func (m *metrics) sent(msgType string) {
	m.messagesSent.Add(context.Background(), 1, typeAttr(msgType))
}

func (m *metrics) inc(c metric.Int64Counter) {
	c.Add(context.Background(), 1)
}
