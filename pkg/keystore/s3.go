package keystore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Loader reads PEM material from S3 objects addressed by
// "s3://bucket/key".
type S3Loader struct {
	client            *s3.Client
	privBucket, privKey string
	pubBucket, pubKey   string
}

// NewS3Loader builds an S3Loader from the default AWS config chain (env
// vars, shared config, instance role).
func NewS3Loader(privateKeyLoc, publicKeyLoc string) (*S3Loader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("keystore: load aws config: %w", err)
	}
	loader := &S3Loader{client: s3.NewFromConfig(cfg)}
	if privateKeyLoc != "" {
		if loader.privBucket, loader.privKey, err = splitBucketKey(privateKeyLoc, "s3"); err != nil {
			return nil, err
		}
	}
	if publicKeyLoc != "" {
		if loader.pubBucket, loader.pubKey, err = splitBucketKey(publicKeyLoc, "s3"); err != nil {
			return nil, err
		}
	}
	return loader, nil
}

func (l *S3Loader) LoadPrivateKeyPEM(ctx context.Context) ([]byte, error) {
	return l.get(ctx, l.privBucket, l.privKey)
}

func (l *S3Loader) LoadPublicKeyPEM(ctx context.Context) ([]byte, error) {
	return l.get(ctx, l.pubBucket, l.pubKey)
}

func (l *S3Loader) get(ctx context.Context, bucket, key string) ([]byte, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("keystore: s3 location not configured")
	}
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("keystore: s3 get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, fmt.Errorf("keystore: s3 read body: %w", err)
	}
	return buf.Bytes(), nil
}
