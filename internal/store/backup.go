package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/minhvu-dev/subsweep/internal/config"
	log "github.com/minhvu-dev/subsweep/internal/logging"
)

const stateObjectName = "state.json"

// Backup uploads and restores the rotation state blob against an
// S3-compatible object store.
type Backup struct {
	client    *minio.Client
	bucket    string
	prefix    string
	statePath string
}

// NewBackup builds a backup client from config. The bucket is created if
// it does not exist.
func NewBackup(ctx context.Context, cfg config.BackupConfig, statePath string) (*Backup, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("backup: connect %s: %w", cfg.Endpoint, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("backup: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("backup: create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Backup{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		statePath: statePath,
	}, nil
}

func (b *Backup) objectKey() string {
	return path.Join(b.prefix, stateObjectName)
}

// Upload pushes the current state file to the object store. Unchanged
// state (by checksum) is skipped.
func (b *Backup) Upload(ctx context.Context) error {
	data, err := os.ReadFile(b.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // nothing to back up yet
		}
		return fmt.Errorf("backup: read state: %w", err)
	}

	dir := filepath.Dir(b.statePath)
	manifest := LoadManifest(dir)
	sum := ComputeChecksum(data)
	if sum == manifest.Checksum {
		log.Debugf("backup: state unchanged, skipping upload")
		return nil
	}

	key := b.objectKey()
	_, err = b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("backup: upload %s: %w", key, err)
	}

	manifest.LastBackup = time.Now()
	manifest.Checksum = sum
	manifest.RemoteObject = key
	if err := manifest.Save(dir); err != nil {
		log.Warnf("backup: failed to save manifest: %v", err)
	}
	log.Infof("backup: uploaded state to %s/%s", b.bucket, key)
	return nil
}

// Restore downloads the remote state blob and writes it over the local
// state file atomically.
func (b *Backup) Restore(ctx context.Context) error {
	key := b.objectKey()
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("backup: fetch %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return fmt.Errorf("backup: read %s: %w", key, err)
	}

	dir := filepath.Dir(b.statePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("backup: create state dir: %w", err)
	}
	tmp := b.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("backup: write state: %w", err)
	}
	if err := os.Rename(tmp, b.statePath); err != nil {
		return fmt.Errorf("backup: replace state: %w", err)
	}

	manifest := LoadManifest(dir)
	manifest.Checksum = ComputeChecksum(data)
	manifest.RemoteObject = key
	if err := manifest.Save(dir); err != nil {
		log.Warnf("backup: failed to save manifest: %v", err)
	}
	log.Infof("backup: restored state from %s/%s", b.bucket, key)
	return nil
}

// RestoreIfMissing restores remote state only when no local state exists.
func (b *Backup) RestoreIfMissing(ctx context.Context) error {
	if _, err := os.Stat(b.statePath); err == nil {
		return nil
	}
	return b.Restore(ctx)
}
