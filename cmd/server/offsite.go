package main

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"walkersim.dev/internal/persistence/offsite"
)

// openMirror returns nil when no endpoint is configured. Keys come from
// the environment only.
func openMirror(endpoint, bucket, prefix, dataDir string, log *zap.Logger) (*offsite.Mirror, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, nil
	}
	client, err := offsite.NewClient(offsite.Credentials{
		Endpoint:        endpoint,
		Bucket:          bucket,
		Region:          os.Getenv("WALKERSIM_OFFSITE_REGION"),
		AccessKeyID:     os.Getenv("WALKERSIM_OFFSITE_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("WALKERSIM_OFFSITE_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, err
	}
	m, err := offsite.NewMirror(client, prefix, filepath.Join(dataDir, "offsite-staging"), log)
	if err != nil {
		return nil, err
	}
	log.Info("offsite mirror enabled", zap.String("endpoint", endpoint), zap.String("bucket", bucket))
	return m, nil
}
