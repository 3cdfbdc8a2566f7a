package people

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

//go:generate mockgen -destination=mocks/mock_s3.go -package=mocks -source=s3.go ObjectAPI

// ObjectAPI is the subset of the S3 client used for datasets
type ObjectAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures the S3 client
type S3Config struct {
	Region string
	// Endpoint targets an S3-compatible service such as LocalStack, with path-style addressing
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// NewS3Client creates an S3 client from the default AWS credential chain, or from
// static credentials when an endpoint override is configured.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" && cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// DatasetFile is one dataset object in the bucket
type DatasetFile struct {
	Key          string    `json:"key"`
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// ClientDatasets groups the dataset files uploaded for one client id
type ClientDatasets struct {
	ClientID string        `json:"clientId"`
	Files    []DatasetFile `json:"files"`
}

// S3Store reads people datasets stored as {clientId}/{name}.json
type S3Store struct {
	client ObjectAPI
	bucket string
	logger *zap.Logger
	group  singleflight.Group
}

// NewS3Store creates a dataset store over client
func NewS3Store(client ObjectAPI, bucket string, logger *zap.Logger) *S3Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Store{client: client, bucket: bucket, logger: logger}
}

// Bucket returns the bucket name
func (s *S3Store) Bucket() string {
	return s.bucket
}

// LatestPeople returns the people in the most recently modified dataset for
// clientID. Concurrent lookups for the same client share one fetch. It returns
// nil when the client has no usable dataset; failures are logged, not returned.
func (s *S3Store) LatestPeople(ctx context.Context, clientID string) []Person {
	v, _, _ := s.group.Do(clientID, func() (interface{}, error) {
		return s.latestPeople(ctx, clientID), nil
	})
	people, _ := v.([]Person)
	return people
}

func (s *S3Store) latestPeople(ctx context.Context, clientID string) []Person {
	log := s.logger.With(zap.String("clientId", clientID))

	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(clientID + "/"),
		Delimiter: aws.String("/"),
	})
	if err != nil {
		log.Error("Error loading S3 data", zap.Error(err))
		return nil
	}

	files := jsonObjects(out.Contents)
	if len(files) == 0 {
		log.Warn("No JSON files found in S3 bucket for client")
		return nil
	}

	latest := files[0]
	log.Info("Loading most recent S3 data file", zap.String("key", latest.Key))

	data, err := s.read(ctx, latest.Key)
	if err != nil {
		log.Error("Error loading S3 data", zap.Error(err))
		return nil
	}

	ds, err := ParseDataset(data)
	if err != nil {
		log.Error("Invalid S3 data file", zap.String("key", latest.Key), zap.Error(err))
		return nil
	}

	log.Info("Loaded and validated S3 data", zap.Int("people", len(ds.People)))
	return ds.People
}

// Datasets lists every dataset in the bucket grouped by client id, newest first
func (s *S3Store) Datasets(ctx context.Context) ([]ClientDatasets, error) {
	var (
		objects []types.Object
		token   *string
	)
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list datasets: %w", err)
		}
		objects = append(objects, out.Contents...)
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}

	byClient := make(map[string][]DatasetFile)
	for _, f := range jsonObjects(objects) {
		clientID, _, found := strings.Cut(f.Key, "/")
		if !found || clientID == "" {
			continue
		}
		byClient[clientID] = append(byClient[clientID], f)
	}

	result := make([]ClientDatasets, 0, len(byClient))
	for clientID, files := range byClient {
		result = append(result, ClientDatasets{ClientID: clientID, Files: files})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ClientID < result[j].ClientID })
	return result, nil
}

// Download returns the raw dataset clientID/filename
func (s *S3Store) Download(ctx context.Context, clientID, filename string) ([]byte, error) {
	if strings.Contains(clientID, "/") || strings.Contains(filename, "/") || clientID == ".." || filename == ".." {
		return nil, ErrNotFound
	}

	data, err := s.read(ctx, clientID+"/"+filename)
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *S3Store) read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// jsonObjects keeps the .json objects, most recently modified first
func jsonObjects(objects []types.Object) []DatasetFile {
	files := make([]DatasetFile, 0, len(objects))
	for _, obj := range objects {
		key := aws.ToString(obj.Key)
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		files = append(files, DatasetFile{
			Key:          key,
			Filename:     path.Base(key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].LastModified.After(files[j].LastModified)
	})
	return files
}
