package history

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveConfig holds S3 archival settings for audit retention.
type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Prefix          string        `yaml:"prefix"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	UsePathStyle    bool          `yaml:"use_path_style"`
	Interval        time.Duration `yaml:"interval"`
}

// DefaultArchiveConfig returns defaults suitable for most deployments.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Prefix:   "action-history",
		Region:   "us-east-1",
		Interval: 15 * time.Minute,
	}
}

// Validate checks required settings when archival is enabled.
func (c *ArchiveConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Bucket == "" {
		return fmt.Errorf("archive: bucket is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("archive: interval must be positive")
	}
	return nil
}

// objectPutter is the slice of the S3 API the archiver needs.
type objectPutter interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver periodically exports new history entries as gzip JSON-lines
// objects to S3, for long-term audit retention beyond the in-memory window.
type Archiver struct {
	client  objectPutter
	config  ArchiveConfig
	log     *Log
	logger  *slog.Logger
	lastSeq uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewArchiver builds an archiver with a real S3 client.
func NewArchiver(ctx context.Context, cfg ArchiveConfig, log *Log, logger *slog.Logger) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return newArchiver(s3.NewFromConfig(awsCfg, s3Opts...), cfg, log, logger), nil
}

func newArchiver(client objectPutter, cfg ArchiveConfig, log *Log, logger *slog.Logger) *Archiver {
	return &Archiver{
		client: client,
		config: cfg,
		log:    log,
		logger: logger,
	}
}

// Start runs the periodic export until the context is cancelled.
func (a *Archiver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	go func() {
		defer close(a.done)
		ticker := time.NewTicker(a.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// Final export of anything still unarchived.
				flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if _, err := a.ArchiveNew(flushCtx); err != nil {
					a.logger.Error("final history archive failed", "error", err)
				}
				cancel()
				return
			case <-ticker.C:
				if n, err := a.ArchiveNew(ctx); err != nil {
					a.logger.Error("history archive failed", "error", err)
				} else if n > 0 {
					a.logger.Info("history entries archived", "count", n)
				}
			}
		}
	}()
}

// Stop stops the archiver and waits for the final export.
func (a *Archiver) Stop() {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
}

// ArchiveNew exports entries appended since the previous export. Returns
// the number of entries uploaded.
func (a *Archiver) ArchiveNew(ctx context.Context) (int, error) {
	entries := a.log.NewerThan(a.lastSeq)
	if len(entries) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return 0, fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("compress archive: %w", err)
	}

	first := entries[0]
	last := entries[len(entries)-1]
	key := path.Join(
		a.config.Prefix,
		first.Timestamp.UTC().Format("2006/01/02"),
		fmt.Sprintf("entries-%d-%d.jsonl.gz", first.Seq, last.Seq),
	)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.config.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return 0, fmt.Errorf("upload archive %s: %w", key, err)
	}

	a.lastSeq = last.Seq
	return len(entries), nil
}
