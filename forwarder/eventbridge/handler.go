// Package eventbridge is a Lambda handler that forwards outbound records
// from a DynamoDB Streams trigger onto an EventBridge bus, the deployment
// shape the teacher's handler package implements for its SlotMachine demo.
package eventbridge

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxBatchSizeBytes = 256 * 1024
	maxBatchCount     = 10
)

type eventBridgeAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Handler consumes DynamoDB Streams records and republishes every OUTBOUND
// row as an EventBridge event, one entry per record, detail-type set to
// the record's event type.
type Handler struct {
	client     eventBridgeAPI
	busName    string
	sourceName string
	log        *zap.Logger
}

// New builds a Handler publishing to busName under sourceName.
func New(client eventBridgeAPI, busName, sourceName string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{client: client, busName: busName, sourceName: sourceName, log: log}
}

// Start loads the Lambda runtime's configuration from the environment
// (EVENT_BUS_NAME, EVENT_SOURCE_NAME) and begins handling invocations. On
// misconfiguration it logs at Fatal level, which exits the process,
// matching the teacher's fail-fast Lambda cold-start behavior.
func Start() {
	log, err := zap.NewProduction()
	if err != nil {
		panic("eventbridge: failed to create logger: " + err.Error())
	}
	busName := os.Getenv("EVENT_BUS_NAME")
	sourceName := os.Getenv("EVENT_SOURCE_NAME")
	if busName == "" {
		log.Fatal("missing EVENT_BUS_NAME environment variable")
	}
	if sourceName == "" {
		log.Fatal("missing EVENT_SOURCE_NAME environment variable")
	}
	cfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal("unable to load aws config", zap.Error(err))
	}
	h := New(eventbridge.NewFromConfig(cfg), busName, sourceName, log)
	lambda.Start(h.HandleRequest)
}

// HandleRequest is the Lambda entry point for a DynamoDB Streams event
// source mapping.
func (h *Handler) HandleRequest(ctx context.Context, event events.DynamoDBEvent) error {
	defer h.log.Sync()
	var entries []ebtypes.PutEventsRequestEntry
	for _, record := range event.Records {
		entry, ok, err := h.toEntry(record.Change.NewImage)
		if err != nil {
			h.log.Error("failed to build outbound entry", zap.Error(err))
			return err
		}
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil
	}

	batches, err := batch(entries)
	if err != nil {
		return fmt.Errorf("eventbridge: failed to batch entries: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var sendErr error
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			h.log.Info("sending batch", zap.Int("batch", i+1), zap.Int("of", len(batches)))
			out, err := h.client.PutEvents(gctx, &eventbridge.PutEventsInput{Entries: batch})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sendErr = multierr.Append(sendErr, fmt.Errorf("batch %d: %w", i, err))
				return nil
			}
			if out.FailedEntryCount > 0 {
				sendErr = multierr.Append(sendErr, fmt.Errorf("batch %d: %d entries failed", i, out.FailedEntryCount))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if sendErr != nil {
		return sendErr
	}
	h.log.Info("forwarded outbound events", zap.Int("count", len(entries)))
	return nil
}

// toEntry builds an EventBridge entry from a changed item's new image. It
// reports ok=false for any row that isn't an OUTBOUND record, which the
// caller silently skips.
func (h *Handler) toEntry(image map[string]events.DynamoDBAttributeValue) (ebtypes.PutEventsRequestEntry, bool, error) {
	rng, ok := image["_rng"]
	if !ok || !strings.HasPrefix(rng.String(), "OUTBOUND/") {
		return ebtypes.PutEventsRequestEntry{}, false, nil
	}
	typField, ok := image["_typ"]
	if !ok {
		return ebtypes.PutEventsRequestEntry{}, false, nil
	}
	itmField, ok := image["_itm"]
	if !ok {
		return ebtypes.PutEventsRequestEntry{}, false, nil
	}
	eventType := typField.String()
	detail := itmField.String()
	return ebtypes.PutEventsRequestEntry{
		DetailType:   &eventType,
		EventBusName: &h.busName,
		Source:       &h.sourceName,
		Detail:       &detail,
	}, true, nil
}

func batch(entries []ebtypes.PutEventsRequestEntry) ([][]ebtypes.PutEventsRequestEntry, error) {
	var batches [][]ebtypes.PutEventsRequestEntry
	batchFrom, batchSize := 0, 0
	for i, e := range entries {
		size := entrySize(e)
		if size > maxBatchSizeBytes {
			return nil, fmt.Errorf("entry %d is %dKB, exceeds the 256KB EventBridge limit", i, size/1024)
		}
		if batchSize+size >= maxBatchSizeBytes || i-batchFrom == maxBatchCount {
			batches = append(batches, entries[batchFrom:i])
			batchFrom = i
			batchSize = 0
		}
		batchSize += size
	}
	if batchFrom < len(entries) {
		batches = append(batches, entries[batchFrom:])
	}
	return batches, nil
}

func entrySize(e ebtypes.PutEventsRequestEntry) int {
	size := len(*e.Source) + len(*e.DetailType)
	if e.Detail != nil {
		size += len(*e.Detail)
	}
	for _, r := range e.Resources {
		size += len(r)
	}
	return size
}
