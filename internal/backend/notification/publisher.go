package notification

import "context"

const (
	TopicNewImage    = "newImage"
	TopicDeleteImage = "deleteImage"
)

// Topics lists every topic the service broadcasts on.
var Topics = []string{TopicNewImage, TopicDeleteImage}

// Event is a single broadcast. Payload is the bare image filename.
type Event struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

// Publisher is a fire-and-forget notification sink.
type Publisher interface {
	Publish(ctx context.Context, topic, payload string) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, string) error {
	return nil
}
