// Command demo runs the slot machine HTTP API against a DynamoDB table,
// wiring together the store, cache, facet, and router built throughout
// this module.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/facetstream/facetstream"
	"github.com/facetstream/facetstream/dynamostore"
	"github.com/facetstream/facetstream/examples/slotmachine"
	"github.com/facetstream/facetstream/examples/slotmachine/httpapi"
)

type demoConfig struct {
	TableName string `validate:"required"`
	Region    string `validate:"required"`
	Addr      string `validate:"required"`
	CacheSize int
}

func main() {
	var cfg demoConfig

	root := &cobra.Command{
		Use:   "demo",
		Short: "Run the slot machine HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validator.New().Struct(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfg.TableName, "table", "", "DynamoDB table name")
	flags.StringVar(&cfg.Region, "region", "us-east-1", "AWS region")
	flags.StringVar(&cfg.Addr, "addr", ":8080", "HTTP listen address")
	flags.IntVar(&cfg.CacheSize, "cache-size", 1024, "GetState LRU cache entries")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg demoConfig) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := dynamostore.New(ctx, cfg.TableName, dynamostore.WithRegion(cfg.Region), dynamostore.WithLogger(log))
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	cached, err := dynamostore.NewCachedStore(store, cfg.CacheSize)
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}

	metrics := facetstream.NewMetrics(prometheus.DefaultRegisterer)
	facet := facetstream.NewFacet("SlotMachine", cached, slotmachine.NewProcessor(),
		facetstream.WithCodec[slotmachine.State](slotmachine.Codec()),
		facetstream.WithLogger[slotmachine.State](log),
		facetstream.WithMetrics[slotmachine.State](metrics),
	)

	h := httpapi.New(facet, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("listening", zap.String("addr", cfg.Addr))
	return server.ListenAndServe()
}
