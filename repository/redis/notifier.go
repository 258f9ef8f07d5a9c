package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "tasks:"

// ChangeEvent announces that a user's remote collection changed.
type ChangeEvent struct {
	UserID  string    `json:"userId"`
	Op      string    `json:"op"`
	TaskIDs []string  `json:"taskIds,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier fans out change notifications over Redis pub/sub, one channel per user.
type Notifier struct {
	client     *redislib.Client
	logger     *zap.Logger
	retryDelay time.Duration
}

func NewNotifier(client *redislib.Client, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		client:     client,
		logger:     logger,
		retryDelay: time.Second,
	}
}

// Channel returns the pub/sub channel carrying a user's change events.
func Channel(userID string) string {
	return channelPrefix + userID
}

func (n *Notifier) Publish(ctx context.Context, ev ChangeEvent) error {
	if ev.UserID == "" {
		return errors.New("change event without user id")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, Channel(ev.UserID), payload).Err()
}

// Listen subscribes to the user's channel and waits for the subscription to be
// confirmed. Events are then delivered from a background goroutine until stop is
// called or ctx is cancelled. A dropped connection is reported to onError and
// the subscription is re-established.
func (n *Notifier) Listen(ctx context.Context, userID string, onEvent func(ChangeEvent), onError func(error)) (stop func(), err error) {
	if onError == nil {
		onError = func(error) {}
	}
	channel := Channel(userID)

	sub, err := n.subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			n.consume(ctx, sub, onEvent)
			sub.Close()
			if ctx.Err() != nil {
				return
			}

			onError(errors.New("pubsub channel closed"))
			n.logger.Warn("pubsub channel closed, reconnecting", zap.String("channel", channel))
			for {
				if !sleepCtx(ctx, n.retryDelay) {
					return
				}
				sub, err = n.subscribe(ctx, channel)
				if err == nil {
					break
				}
				if ctx.Err() != nil {
					return
				}
				onError(err)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func (n *Notifier) subscribe(ctx context.Context, channel string) (*redislib.PubSub, error) {
	sub := n.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

func (n *Notifier) consume(ctx context.Context, sub *redislib.PubSub, onEvent func(ChangeEvent)) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				n.logger.Warn("unable to parse change event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if onEvent != nil {
				onEvent(ev)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
