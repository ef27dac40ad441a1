// Package kafka forwards outbound records from a DynamoDB Streams trigger
// onto a Kafka topic, generalizing the teacher's EventBridge handler to a
// self-hosted message bus for deployments that don't use AWS's.
package kafka

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Writer is the subset of *kafkago.Writer the handler needs, so tests can
// substitute a fake.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// Handler consumes DynamoDB Streams records and republishes every OUTBOUND
// row as a Kafka message keyed by entity id, with the event type carried
// as a header.
type Handler struct {
	writer Writer
	topic  string
	log    *zap.Logger
}

// New builds a Handler publishing to topic via writer.
func New(writer Writer, topic string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{writer: writer, topic: topic, log: log}
}

// Start loads KAFKA_BROKERS and KAFKA_TOPIC from the environment and
// begins handling invocations.
func Start() {
	log, err := zap.NewProduction()
	if err != nil {
		panic("kafka: failed to create logger: " + err.Error())
	}
	brokers := os.Getenv("KAFKA_BROKERS")
	topic := os.Getenv("KAFKA_TOPIC")
	if brokers == "" {
		log.Fatal("missing KAFKA_BROKERS environment variable")
	}
	if topic == "" {
		log.Fatal("missing KAFKA_TOPIC environment variable")
	}
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		AllowAutoTopicCreation: true,
	}
	h := New(w, topic, log)
	lambda.Start(h.HandleRequest)
}

// HandleRequest is the Lambda entry point for a DynamoDB Streams event
// source mapping.
func (h *Handler) HandleRequest(ctx context.Context, event events.DynamoDBEvent) error {
	defer h.log.Sync()
	var messages []kafkago.Message
	for _, record := range event.Records {
		msg, ok := h.toMessage(record.Change.NewImage)
		if !ok {
			continue
		}
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return nil
	}

	const chunkSize = 100
	var chunks [][]kafkago.Message
	for i := 0; i < len(messages); i += chunkSize {
		end := i + chunkSize
		if end > len(messages) {
			end = len(messages)
		}
		chunks = append(chunks, messages[i:end])
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var writeErr error
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			if err := h.writer.WriteMessages(gctx, chunk...); err != nil {
				mu.Lock()
				writeErr = multierr.Append(writeErr, fmt.Errorf("chunk %d: %w", i, err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}
	h.log.Info("forwarded outbound events", zap.Int("count", len(messages)), zap.String("topic", h.topic))
	return nil
}

func (h *Handler) toMessage(image map[string]events.DynamoDBAttributeValue) (kafkago.Message, bool) {
	rng, ok := image["_rng"]
	if !ok || !strings.HasPrefix(rng.String(), "OUTBOUND/") {
		return kafkago.Message{}, false
	}
	idField, ok := image["_id"]
	if !ok {
		return kafkago.Message{}, false
	}
	typField, ok := image["_typ"]
	if !ok {
		return kafkago.Message{}, false
	}
	itmField, ok := image["_itm"]
	if !ok {
		return kafkago.Message{}, false
	}
	return kafkago.Message{
		Topic: h.topic,
		Key:   []byte(idField.String()),
		Value: []byte(itmField.String()),
		Headers: []kafkago.Header{
			{Key: "event-type", Value: []byte(typField.String())},
		},
	}, true
}
