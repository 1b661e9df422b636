package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/graphstore/blobstore"
)

// Config describes an S3 backup target.
type Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
	// Endpoint overrides the S3 endpoint, e.g. for LocalStack.
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
	// CommitTable enables DynamoDB-arbitrated pointer writes when set.
	CommitTable string `yaml:"commit_table"`
}

// New loads the default AWS configuration and returns a store for cfg.
// With CommitTable set the result is a *DDBCommitStore, otherwise a *Store.
func New(ctx context.Context, cfg Config, opts ...Option) (blobstore.BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	store := NewStore(client, cfg.Bucket, cfg.Prefix, opts...)
	if cfg.CommitTable == "" {
		return store, nil
	}

	baseURI := "s3://" + cfg.Bucket + "/" + cfg.Prefix
	return NewDDBCommitStore(store, dynamodb.NewFromConfig(awsCfg), cfg.CommitTable, baseURI), nil
}
