package kafka

import (
	"context"
	"strconv"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// injectTraceContext дописывает в заголовки контекст трассировки из ctx.
func injectTraceContext(ctx context.Context, headers []sarama.RecordHeader) []sarama.RecordHeader {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for key, value := range carrier {
		headers = append(headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
	}
	return headers
}

// extractTraceContext восстанавливает родительский спан из заголовков сообщения.
func extractTraceContext(ctx context.Context, message *sarama.ConsumerMessage) context.Context {
	carrier := propagation.MapCarrier{}
	for _, header := range message.Headers {
		if header == nil {
			continue
		}
		carrier[string(header.Key)] = string(header.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

func headerValue(headers []*sarama.RecordHeader, key string) string {
	for _, header := range headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}

// retryCount извлекает retry count из headers сообщения
func retryCount(message *sarama.ConsumerMessage) int {
	count, err := strconv.Atoi(headerValue(message.Headers, HeaderRetryCount))
	if err != nil {
		return 0
	}
	return count
}
