package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// s3API is the subset of the S3 client used by the backend.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// dynamoAPI is the subset of the DynamoDB client used for locking.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// s3Backend implements Backend for AWS S3 with optional DynamoDB locking.
type s3Backend struct {
	bucket        string
	prefix        string
	region        string
	dynamoDBTable string
	encrypt       bool
	profile       string

	s3Client s3API
	dbClient dynamoAPI
	retry    *RetryPolicy
	lockID   string
}

func newS3Backend(ctx context.Context, config map[string]string) (Backend, error) {
	b, err := configureS3Backend(config)
	if err != nil {
		return nil, err
	}
	if err := b.initClients(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize S3 backend: %w", err)
	}
	return b, nil
}

func configureS3Backend(config map[string]string) (*s3Backend, error) {
	bucket := config["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend requires 'bucket' configuration")
	}

	prefix := config["prefix"]
	if prefix == "" {
		prefix = "actiongraph"
	}

	region := config["region"]
	if region == "" {
		region = "us-east-1"
	}

	return &s3Backend{
		bucket:        bucket,
		prefix:        prefix,
		region:        region,
		dynamoDBTable: config["dynamodb_table"],
		encrypt:       config["encrypt"] == "true",
		profile:       config["profile"],
		retry:         DefaultRetryPolicy(),
	}, nil
}

func (b *s3Backend) initClients(ctx context.Context) error {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(b.region))
	if b.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(b.profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load AWS config: %w", err)
	}

	b.s3Client = s3.NewFromConfig(cfg)
	if b.dynamoDBTable != "" {
		b.dbClient = dynamodb.NewFromConfig(cfg)
	}
	return nil
}

func (b *s3Backend) objectKey(key string) string {
	return path.Join(b.prefix, key)
}

func (b *s3Backend) Read(ctx context.Context, key string) ([]byte, error) {
	objKey := b.objectKey(key)

	var content []byte
	err := RetryWithBackoff(ctx, b.retry, func() error {
		out, err := b.s3Client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(objKey),
		})
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: s3://%s/%s", ErrNotFound, b.bucket, objKey)
			}
			return err
		}
		defer out.Body.Close()

		content, err = io.ReadAll(out.Body)
		if err != nil {
			return fmt.Errorf("failed to read S3 object body: %w", err)
		}
		return nil
	}, IsTransientError)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", b.bucket, objKey, err)
	}

	return DecryptDocument(key, content)
}

func (b *s3Backend) Write(ctx context.Context, key string, data []byte) error {
	objKey := b.objectKey(key)

	content, err := EncryptDocument(key, data)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", key, err)
	}

	err = RetryWithBackoff(ctx, b.retry, func() error {
		input := &s3.PutObjectInput{
			Bucket:      aws.String(b.bucket),
			Key:         aws.String(objKey),
			Body:        bytes.NewReader(content),
			ContentType: aws.String("application/json"),
		}
		if b.encrypt {
			input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
		}
		_, err := b.s3Client.PutObject(ctx, input)
		return err
	}, IsTransientError)
	if err != nil {
		return fmt.Errorf("failed to write s3://%s/%s: %w", b.bucket, objKey, err)
	}
	return nil
}

func (b *s3Backend) Lock(ctx context.Context) error {
	if b.dynamoDBTable == "" {
		return nil
	}

	b.lockID = fmt.Sprintf("actiongraph-%d-%d", os.Getpid(), time.Now().UnixNano())

	_, err := b.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.dynamoDBTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: b.lockKey()},
			"Info":    &dbtypes.AttributeValueMemberS{Value: b.lockID},
			"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) || apiErrorCode(err) == "ConditionalCheckFailedException" {
			return fmt.Errorf("%w by another process. If this is an error, "+
				"manually delete the lock item with LockID=%q from DynamoDB table %q", ErrLocked, b.lockKey(), b.dynamoDBTable)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

func (b *s3Backend) Unlock(ctx context.Context) error {
	if b.dynamoDBTable == "" {
		return nil
	}

	_, err := b.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.dynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: b.lockKey()},
		},
		ConditionExpression:       aws.String("Info = :id"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{":id": &dbtypes.AttributeValueMemberS{Value: b.lockID}},
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	b.lockID = ""
	return nil
}

func (b *s3Backend) lockKey() string {
	return b.bucket + "/" + b.prefix
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	switch apiErrorCode(err) {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
