package mq

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Subscriber is any queue that can be subscribed to by topic id.
type Subscriber[M any] interface {
	Subscribe(uuid.UUID) (uuid.UUID, <-chan M, error)
	DeSubscribe(id uuid.UUID) error
}

// SubscribeProcessor subscribes service to topicId and pipes every message through
// transformFunc into outputStream until ctx is done or the input closes. A skip
// result or a transform error drops the message. outputStream is closed on exit.
// The returned error only covers the initial subscription.
func SubscribeProcessor[S Subscriber[M], M any, O any](
	ctx context.Context,
	topicId uuid.UUID,
	service S,
	transformFunc func(msg M) (O, bool, error),
	outputStream chan<- O,
) error {
	uid, inputCh, err := service.Subscribe(topicId)
	if err != nil {
		close(outputStream)
		return err
	}

	go func() {
		defer func() {
			if err := service.DeSubscribe(uid); err != nil {
				slog.Debug("de-subscribe failed", "subscription", uid, "error", err)
			}
			close(outputStream)
		}()

		for {
			select {
			case msg, ok := <-inputCh:
				if !ok {
					return
				}

				output, skip, err := transformFunc(msg)
				if err != nil {
					slog.Warn("dropping message", "subscription", uid, "error", err)
					continue
				}
				if skip {
					continue
				}

				select {
				case outputStream <- output:
				case <-ctx.Done():
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
