package eventbus

import (
	"context"
	"log"
)

// LoggingMiddleware logs all bus traffic.
type LoggingMiddleware struct{}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware() *LoggingMiddleware {
	return &LoggingMiddleware{}
}

// Before logs message receipt.
func (m *LoggingMiddleware) Before(_ context.Context, message Message) (Message, error) {
	log.Printf("eventbus: %s %s", message.Category(), MessageType(message))
	return message, nil
}

// After logs message completion.
func (m *LoggingMiddleware) After(_ context.Context, message Message, err error) error {
	if err != nil {
		log.Printf("eventbus: %s failed: %v", MessageType(message), err)
	}
	return nil
}
