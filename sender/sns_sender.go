package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSPublisher is a minimal interface for publishing messages to SNS.
type SNSPublisher interface {
	Publish(ctx context.Context, topicArn string, message []byte) error
}

type SNSClient struct {
	client *sns.Client
}

func NewSNSClient(cfg sdkaws.Config) *SNSClient {
	return &SNSClient{client: sns.NewFromConfig(cfg)}
}

func (s *SNSClient) Publish(ctx context.Context, topicArn string, message []byte) error {
	if topicArn == "" {
		return fmt.Errorf("empty topicArn")
	}
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: sdkaws.String(topicArn),
		Message:  sdkaws.String(string(message)),
	})
	if err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", topicArn, err)
	}
	return nil
}

// SNSSender publishes notifications as JSON to a topic so other
// subscribers (email, chat bridges) receive them too.
type SNSSender struct {
	publisher SNSPublisher
	topicArn  string
}

func NewSNSSender(publisher SNSPublisher, topicArn string) *SNSSender {
	return &SNSSender{publisher: publisher, topicArn: topicArn}
}

func (s *SNSSender) Notify(ctx context.Context, n Notification) (SendResult, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return SendResult{}, fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.publisher.Publish(ctx, s.topicArn, body); err != nil {
		return SendResult{}, err
	}
	return SendResult{
		MessageID: fmt.Sprintf("sns-%d", time.Now().UnixNano()),
		SentAt:    time.Now(),
	}, nil
}
