// Package reliability provides operational safety nets: database backups to
// S3-compatible object storage and scheduled maintenance.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	appconfig "github.com/coveylabs/valuation-engine/internal/config"
)

// backupPrefix namespaces the engine's objects inside the bucket
const backupPrefix = "valuation-backups/"

// BackupService archives the engine's databases and uploads them to
// S3-compatible object storage
type BackupService struct {
	cfg     appconfig.BackupConfig
	dataDir string
	dbNames []string
	client  *s3.Client
	log     zerolog.Logger
}

// NewBackupService creates a backup service for the named database files
// under dataDir
func NewBackupService(ctx context.Context, cfg appconfig.BackupConfig, dataDir string, dbNames []string, log zerolog.Logger) (*BackupService, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &BackupService{
		cfg:     cfg,
		dataDir: dataDir,
		dbNames: dbNames,
		client:  client,
		log:     log.With().Str("service", "backup").Logger(),
	}, nil
}

// Run creates a backup archive and uploads it, then prunes old backups
// beyond the retention count
func (s *BackupService) Run(ctx context.Context) error {
	started := time.Now()
	s.log.Info().Msg("Starting backup")

	archive, err := s.createArchive()
	if err != nil {
		return err
	}
	defer os.Remove(archive)

	key := backupPrefix + filepath.Base(archive)
	if err := s.upload(ctx, archive, key); err != nil {
		return err
	}

	if err := s.prune(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Backup pruning failed")
	}

	s.log.Info().
		Str("key", key).
		Dur("elapsed", time.Since(started)).
		Msg("Backup complete")
	return nil
}

// createArchive writes a tar.gz of the database files into the data dir and
// returns its path. Missing databases are skipped: a fresh install may not
// have produced every file yet.
func (s *BackupService) createArchive() (string, error) {
	name := fmt.Sprintf("backup-%s.tar.gz", time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(s.dataDir, name)

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create backup archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, dbName := range s.dbNames {
		dbPath := filepath.Join(s.dataDir, dbName)
		info, err := os.Stat(dbPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", dbName, err)
		}

		header := &tar.Header{
			Name:    dbName,
			Mode:    0644,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if err := tw.WriteHeader(header); err != nil {
			return "", fmt.Errorf("failed to write tar header for %s: %w", dbName, err)
		}

		f, err := os.Open(dbPath)
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", dbName, err)
		}
		if _, err := io.Copy(tw, f); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to archive %s: %w", dbName, err)
		}
		f.Close()
	}

	return path, nil
}

func (s *BackupService) upload(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive for upload: %w", err)
	}
	defer f.Close()

	uploader := manager.NewUploader(s.client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup %s: %w", key, err)
	}

	return nil
}

// prune deletes remote backups beyond the configured retention count,
// oldest first
func (s *BackupService) prune(ctx context.Context) error {
	if s.cfg.Keep <= 0 {
		return nil
	}

	resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(backupPrefix),
	})
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	objects := resp.Contents
	if len(objects) <= s.cfg.Keep {
		return nil
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.Before(*objects[j].LastModified)
	})

	for _, obj := range objects[:len(objects)-s.cfg.Keep] {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    obj.Key,
		})
		if err != nil {
			return fmt.Errorf("failed to delete backup %s: %w", aws.ToString(obj.Key), err)
		}
		s.log.Debug().Str("key", aws.ToString(obj.Key)).Msg("Pruned old backup")
	}

	return nil
}
