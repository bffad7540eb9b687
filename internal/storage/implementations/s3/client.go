package s3

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/storage/blob"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

// S3Config holds configuration for S3 model storage
type S3Config struct {
	Region          string        `json:"region" mapstructure:"region" yaml:"region"`
	Bucket          string        `json:"bucket" mapstructure:"bucket" yaml:"bucket"`
	AccessKeyID     string        `json:"access_key_id" mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key" mapstructure:"secret_access_key" yaml:"secret_access_key"`
	SessionToken    string        `json:"session_token,omitempty" mapstructure:"session_token" yaml:"session_token"`
	Endpoint        string        `json:"endpoint,omitempty" mapstructure:"endpoint" yaml:"endpoint"`
	ForcePathStyle  bool          `json:"force_path_style" mapstructure:"force_path_style" yaml:"force_path_style"`
	DisableSSL      bool          `json:"disable_ssl" mapstructure:"disable_ssl" yaml:"disable_ssl"`
	Prefix          string        `json:"prefix" mapstructure:"prefix" yaml:"prefix"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
	MaxRetries      int           `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
	PartSize        int64         `json:"part_size" mapstructure:"part_size" yaml:"part_size"`
	UseCompression  bool          `json:"use_compression" mapstructure:"use_compression" yaml:"use_compression"`
	StorageClass    string        `json:"storage_class" mapstructure:"storage_class" yaml:"storage_class"`
}

// S3Storage stores model artifacts as S3 objects
type S3Storage struct {
	config     *S3Config
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	logger     *logrus.Logger
	mu         sync.RWMutex
	metrics    *blob.Counters
	closed     bool
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(config *S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 config cannot be nil")
	}
	if config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 bucket is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &S3Storage{
		config:  config,
		logger:  logger,
		metrics: blob.New(),
	}, nil
}

// Connect creates the AWS session and checks that the bucket is reachable
func (s *S3Storage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s3Client != nil {
		return nil
	}

	awsConfig := &aws.Config{
		Region:     aws.String(s.config.Region),
		MaxRetries: aws.Int(s.config.MaxRetries),
	}
	if s.config.AccessKeyID != "" && s.config.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			s.config.AccessKeyID,
			s.config.SecretAccessKey,
			s.config.SessionToken,
		)
	}
	// S3-compatible services such as MinIO
	if s.config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(s.config.ForcePathStyle)
	}
	if s.config.DisableSSL {
		awsConfig.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to create AWS session")
	}

	client := s3.New(sess)
	if _, err := client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	}); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed,
			fmt.Sprintf("Failed to access bucket '%s'", s.config.Bucket))
	}

	s.s3Client = client
	s.uploader = s3manager.NewUploader(sess)
	s.downloader = s3manager.NewDownloader(sess)
	if s.config.PartSize > 0 {
		s.uploader.PartSize = s.config.PartSize
	}
	s.closed = false

	s.logger.WithFields(logrus.Fields{
		"region": s.config.Region,
		"bucket": s.config.Bucket,
	}).Info("Connected to S3")
	return nil
}

// Close drops the S3 clients
func (s *S3Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.s3Client = nil
	s.uploader = nil
	s.downloader = nil
	s.closed = true

	s.logger.Info("S3 connection closed")
	return nil
}

// Ping tests the S3 connection
func (s *S3Storage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return blob.NotConnected("S3")
	}
	if _, err := s.s3Client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	}); err != nil {
		s.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "S3 ping failed")
	}
	return nil
}

func (s *S3Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout > 0 {
		return context.WithTimeout(ctx, s.config.Timeout)
	}
	return context.WithCancel(ctx)
}

// Save uploads data under key
func (s *S3Storage) Save(ctx context.Context, key string, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return blob.NotConnected("S3")
	}
	if err := blob.ValidateKey(key); err != nil {
		return err
	}

	start := time.Now()
	uploadInput := &s3manager.UploadInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.generateKey(key)),
		ContentType: aws.String("application/json"),
		Metadata: map[string]*string{
			"model-key":  aws.String(key),
			"created-at": aws.String(start.UTC().Format(time.RFC3339)),
		},
	}
	if s.config.UseCompression {
		compressed, err := blob.Compress(data)
		if err != nil {
			s.metrics.Failure()
			return err
		}
		data = compressed
		uploadInput.ContentEncoding = aws.String("gzip")
	}
	uploadInput.Body = bytes.NewReader(data)
	if s.config.StorageClass != "" {
		uploadInput.StorageClass = aws.String(s.config.StorageClass)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.uploader.UploadWithContext(ctx, uploadInput); err != nil {
		s.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to upload to S3")
	}

	s.metrics.Write(len(data))
	s.logger.WithFields(logrus.Fields{
		"key":      key,
		"size":     len(data),
		"duration": time.Since(start),
	}).Debug("Saved model")
	return nil
}

// Load downloads the artifact stored under key
func (s *S3Storage) Load(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return nil, blob.NotConnected("S3")
	}
	if err := blob.ValidateKey(key); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	buf := aws.NewWriteAtBuffer([]byte{})
	if _, err := s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.generateKey(key)),
	}); err != nil {
		if isNotFound(err) {
			return nil, blob.NotFound(key)
		}
		s.metrics.Failure()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to download from S3")
	}

	data := buf.Bytes()
	s.metrics.Read(len(data))
	if s.config.UseCompression {
		return blob.Decompress(data)
	}
	return data, nil
}

// List returns the stored models whose key starts with prefix
func (s *S3Storage) List(ctx context.Context, prefix string) ([]models.ModelInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return nil, blob.NotConnected("S3")
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(s.keyPrefix() + prefix),
	}

	var infos []models.ModelInfo
	err := s.s3Client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				key := s.extractKey(aws.StringValue(obj.Key))
				if key == "" {
					continue
				}
				infos = append(infos, models.ModelInfo{
					Key:       key,
					Size:      aws.Int64Value(obj.Size),
					UpdatedAt: aws.TimeValue(obj.LastModified),
				})
			}
			return true
		})
	if err != nil {
		s.metrics.Failure()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to list objects from S3")
	}
	return infos, nil
}

// Delete removes the artifact stored under key
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return blob.NotConnected("S3")
	}
	if err := blob.ValidateKey(key); err != nil {
		return err
	}

	if _, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.generateKey(key)),
	}); err != nil {
		s.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to delete from S3")
	}
	s.metrics.Delete()
	return nil
}

// GetMetrics returns operation counters
func (s *S3Storage) GetMetrics(ctx context.Context) (*interfaces.StorageMetrics, error) {
	return s.metrics.Snapshot(), nil
}

func (s *S3Storage) keyPrefix() string {
	prefix := s.config.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + "models/"
}

func (s *S3Storage) generateKey(key string) string {
	return path.Join(s.keyPrefix(), key+".json")
}

// extractKey maps "prefix/models/<key>.json" back to <key>
func (s *S3Storage) extractKey(objectKey string) string {
	prefix := s.keyPrefix()
	if !strings.HasPrefix(objectKey, prefix) || !strings.HasSuffix(objectKey, ".json") {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(objectKey, prefix), ".json")
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return strings.Contains(err.Error(), s3.ErrCodeNoSuchKey)
}
