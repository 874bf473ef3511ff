package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client.
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		client, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func artifactBucket() (string, error) {
	bucket := strings.TrimSpace(os.Getenv("MODEL_ARTIFACT_BUCKET"))
	if bucket == "" {
		return "", errors.New("MODEL_ARTIFACT_BUCKET is required")
	}
	return bucket, nil
}

// ModelArtifactKey builds the canonical object key for a training run's
// serialized model.
func ModelArtifactKey(modelName string, runId uint) string {
	return fmt.Sprintf("models/%s/run-%d.bin", modelName, runId)
}

// SaveModelArtifact streams a serialized model to the artifact bucket and
// returns the object key.
func SaveModelArtifact(ctx context.Context, objectKey string, r io.Reader) (string, error) {
	bucketName, err := artifactBucket()
	if err != nil {
		return "", err
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	if _, err := client.Bucket(bucketName).Attrs(ctx); err != nil {
		return "", fmt.Errorf("gcs bucket %q not found or not accessible: %v", bucketName, err)
	}

	wc := client.Bucket(bucketName).Object(objectKey).NewWriter(ctx)
	wc.ContentType = "application/octet-stream"
	if _, err := io.Copy(wc, r); err != nil {
		_ = wc.Close()
		return "", err
	}
	if err := wc.Close(); err != nil {
		return "", err
	}
	return objectKey, nil
}

// LoadModelArtifact opens a previously saved model for reading.
// Caller must Close the returned reader.
func LoadModelArtifact(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	bucketName, err := artifactBucket()
	if err != nil {
		return nil, err
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, err
	}

	rc, err := client.Bucket(bucketName).Object(objectKey).NewReader(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &artifactReader{ReadCloser: rc, client: client}, nil
}

type artifactReader struct {
	io.ReadCloser
	client *storage.Client
}

func (r *artifactReader) Close() error {
	err := r.ReadCloser.Close()
	_ = r.client.Close()
	return err
}
