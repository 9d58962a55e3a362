package keystore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSLoader reads PEM material from Google Cloud Storage objects addressed
// by "gs://bucket/object".
type GCSLoader struct {
	client               *storage.Client
	privBucket, privKey  string
	pubBucket, pubKey    string
}

// NewGCSLoader builds a GCSLoader using application-default credentials.
func NewGCSLoader(privateKeyLoc, publicKeyLoc string) (*GCSLoader, error) {
	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, fmt.Errorf("keystore: new gcs client: %w", err)
	}
	loader := &GCSLoader{client: client}
	if privateKeyLoc != "" {
		if loader.privBucket, loader.privKey, err = splitBucketKey(privateKeyLoc, "gs"); err != nil {
			return nil, err
		}
	}
	if publicKeyLoc != "" {
		if loader.pubBucket, loader.pubKey, err = splitBucketKey(publicKeyLoc, "gs"); err != nil {
			return nil, err
		}
	}
	return loader, nil
}

func (l *GCSLoader) LoadPrivateKeyPEM(ctx context.Context) ([]byte, error) {
	return l.get(ctx, l.privBucket, l.privKey)
}

func (l *GCSLoader) LoadPublicKeyPEM(ctx context.Context) ([]byte, error) {
	return l.get(ctx, l.pubBucket, l.pubKey)
}

func (l *GCSLoader) get(ctx context.Context, bucket, object string) ([]byte, error) {
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("keystore: gcs location not configured")
	}
	r, err := l.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("keystore: gcs get gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("keystore: gcs read object: %w", err)
	}
	return buf.Bytes(), nil
}
