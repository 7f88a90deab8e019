// Package pubsub publishes scrape-result notifications to Google Cloud
// Pub/Sub so downstream consumers can react without polling the database.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

// Publisher implements scraper.ResultSink by publishing each result as
// a JSON message.
type Publisher struct {
	topic *pubsub.Topic
}

var _ scraper.ResultSink = (*Publisher)(nil)

// New builds a Publisher over an existing client and topic name.
func New(client *pubsub.Client, topicName string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicName == "" {
		return nil, fmt.Errorf("topic name is required")
	}
	return &Publisher{topic: client.Topic(topicName)}, nil
}

// Upload publishes the result and blocks until the server acks it.
func (p *Publisher) Upload(ctx context.Context, result scraper.ScrapeResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"numero_contribuinte": result.ContributorNumber,
			"success":             strconv.FormatBool(result.Success),
		},
	}
	if result.BatchID != "" {
		msg.Attributes["batch_id"] = result.BatchID
	}

	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}

// Close flushes outstanding messages.
func (p *Publisher) Close() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}
