// Command provision creates (or destroys) the single DynamoDB table a
// facetstream deployment needs: a composite-key table on _id/_rng with
// on-demand billing, matching spec.md §6's external schema.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type provisionConfig struct {
	TableName string `validate:"required"`
	Region    string `validate:"required"`
	Endpoint  string
}

func main() {
	var cfg provisionConfig
	var destroy bool

	root := &cobra.Command{
		Use:   "provision",
		Short: "Create or destroy the facetstream DynamoDB table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validator.New().Struct(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			log, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
			awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
			if err != nil {
				return fmt.Errorf("load aws config: %w", err)
			}
			var clientOpts []func(*dynamodb.Options)
			if cfg.Endpoint != "" {
				clientOpts = append(clientOpts, func(o *dynamodb.Options) {
					o.BaseEndpoint = aws.String(cfg.Endpoint)
				})
			}
			client := dynamodb.NewFromConfig(awsCfg, clientOpts...)

			if destroy {
				return destroyTable(ctx, client, cfg.TableName, log)
			}
			return createTable(ctx, client, cfg.TableName, log)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfg.TableName, "table", "", "DynamoDB table name")
	flags.StringVar(&cfg.Region, "region", "us-east-1", "AWS region")
	flags.StringVar(&cfg.Endpoint, "endpoint", "", "override DynamoDB endpoint, e.g. for local testing")
	flags.BoolVar(&destroy, "destroy", false, "delete the table instead of creating it")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func createTable(ctx context.Context, client *dynamodb.Client, name string, log *zap.Logger) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("_id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("_rng"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("_id"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("_rng"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
		StreamSpecification: &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewImage,
		},
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}
	log.Info("table created", zap.String("table", name))
	return nil
}

func destroyTable(ctx context.Context, client *dynamodb.Client, name string, log *zap.Logger) error {
	_, err := client.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(name)})
	if err != nil {
		return fmt.Errorf("delete table %s: %w", name, err)
	}
	log.Info("table deleted", zap.String("table", name))
	return nil
}
