package port

import (
	"context"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
)

type EventPublisher interface {
	Publish(ctx context.Context, n domain.Notification) error
}
