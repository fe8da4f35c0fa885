package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
)

// SQSConfig holds the connection settings for an SQS queue.
type SQSConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	QueueURL  string
	Endpoint  string
}

// SQSBroker implements Broker and Purger on Amazon SQS.
type SQSBroker struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSBroker builds an SQS client. Static credentials are used when an
// access key is configured, otherwise the default AWS credential chain.
func NewSQSBroker(ctx context.Context, cfg SQSConfig) (*SQSBroker, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("SQS_URL is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &SQSBroker{client: client, queueURL: cfg.QueueURL}, nil
}

// Receive long-polls for up to maxCount messages.
func (b *SQSBroker) Receive(ctx context.Context, maxCount int, wait, lease time.Duration) ([]Delivery, error) {
	out, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(b.queueURL),
		MaxNumberOfMessages: int32(maxCount),
		WaitTimeSeconds:     int32(wait / time.Second),
		VisibilityTimeout:   int32(lease / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	deliveries := make([]Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		deliveries = append(deliveries, Delivery{
			ID:         aws.ToString(m.MessageId),
			Body:       aws.ToString(m.Body),
			LeaseToken: aws.ToString(m.ReceiptHandle),
		})
	}
	return deliveries, nil
}

// DeleteByLease deletes the message behind a receipt handle.
func (b *SQSBroker) DeleteByLease(ctx context.Context, leaseToken string) error {
	_, err := b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(b.queueURL),
		ReceiptHandle: aws.String(leaseToken),
	})
	if err == nil {
		return nil
	}
	if isReceiptHandleError(err) {
		return fmt.Errorf("%w: %v", ErrLeaseInvalid, err)
	}
	return fmt.Errorf("sqs delete: %w", err)
}

// PurgeAll asks SQS to drop every message. SQS applies it asynchronously
// and allows one purge per queue every 60 seconds.
func (b *SQSBroker) PurgeAll(ctx context.Context) error {
	_, err := b.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: aws.String(b.queueURL)})
	if err != nil {
		return fmt.Errorf("sqs purge: %w", err)
	}
	return nil
}

// isReceiptHandleError matches both the dedicated error shape and the
// InvalidParameterValue SQS returns for an expired receipt handle.
func isReceiptHandleError(err error) bool {
	var invalid *types.ReceiptHandleIsInvalid
	if errors.As(err, &invalid) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == "ReceiptHandleIsInvalid" {
			return true
		}
		return strings.Contains(apiErr.ErrorMessage(), "ReceiptHandle") ||
			strings.Contains(apiErr.ErrorMessage(), "receipt handle")
	}
	return false
}

// Ensure SQSBroker implements Broker and Purger
var (
	_ Broker = (*SQSBroker)(nil)
	_ Purger = (*SQSBroker)(nil)
)
