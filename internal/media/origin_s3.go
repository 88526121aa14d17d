package media

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/shipsync/offline-sync/internal/errs"
)

// S3Origin wraps an aws-sdk-go-v2 S3 client as a media Origin, the same
// cloud-provider wiring shape as the teacher's ais/backend/aws.go.
type S3Origin struct {
	client *s3.Client
	bucket string
}

// NewS3Origin loads the default AWS credential chain (env, shared config,
// IMDS) and optionally overrides the region/endpoint per config.
func NewS3Origin(ctx context.Context, bucket, region, endpoint string) (*S3Origin, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errs.Config("loading AWS config", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Origin{client: client, bucket: bucket}, nil
}

func (o *S3Origin) List(ctx context.Context) ([]ObjectInfo, error) {
	var out []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(o.client, &s3.ListObjectsV2Input{Bucket: aws.String(o.bucket)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errs.Transient("listing S3 objects", err)
		}
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
				ETag: strings.Trim(aws.ToString(obj.ETag), `"`),
			})
		}
	}
	return out, nil
}

func (o *S3Origin) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := o.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(o.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, errs.Transient("fetching S3 object "+key, err)
	}
	return resp.Body, nil
}
