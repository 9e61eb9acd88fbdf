// Package archive stores whole-account export documents in S3-compatible
// object storage and hands out short-lived download links.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Hooks for tests: swapping these avoids a live object store.
var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// Archiver persists an export document and returns a URL the client can
// fetch it from without credentials.
type Archiver interface {
	Store(ctx context.Context, userID string, document []byte) (key string, url string, err error)
}

// Settings holds the object-store connection parameters.
type Settings struct {
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
	Bucket       string
	URLTTL       time.Duration
}

type S3Archiver struct {
	settings Settings
}

func NewS3Archiver(settings Settings) *S3Archiver {
	if settings.URLTTL <= 0 {
		settings.URLTTL = 15 * time.Minute
	}
	return &S3Archiver{settings: settings}
}

func storageKey(userID string) string {
	d := time.Now()
	return fmt.Sprintf("exports/%s/%d/%d/%d/%v.json", userID, d.Year(), d.Month(), d.Day(), uuid.New())
}

func (a *S3Archiver) client(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(a.settings.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			a.settings.AccessKey,
			a.settings.SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(a.settings.BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}

// Store uploads the document and presigns a GET for it.
func (a *S3Archiver) Store(ctx context.Context, userID string, document []byte) (string, string, error) {
	client, err := a.client(ctx)
	if err != nil {
		return "", "", err
	}

	bucket := a.settings.Bucket
	key := storageKey(userID)
	contentType := "application/json"

	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(document),
		ContentType: &contentType,
	})
	if err != nil {
		return "", "", err
	}

	req, err := presignGetObject(newS3PresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(a.settings.URLTTL))
	if err != nil {
		return "", "", err
	}

	return key, req.URL, nil
}
