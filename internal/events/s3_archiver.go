package events

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader is the slice of S3 upload behavior the archiver needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver writes terminal rollout outcomes to object storage under
//
//	s3://<bucket>/<prefix>/rollouts/YYYY/MM/DD/<deploymentID>-<type>.json
//
// Only deployment_complete and rollback_triggered envelopes are archived;
// the full event history already lives in the store.
type S3Archiver struct {
	bucket      string
	prefix      string
	uploader    Uploader
	unsubscribe func()
}

// NewS3Archiver builds an archiver using ambient AWS configuration
// (AWS_REGION, credentials chain).
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3: bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// NewS3ArchiverWithUploader injects the uploader; used by tests.
func NewS3ArchiverWithUploader(bucket, prefix string, uploader Uploader) *S3Archiver {
	return &S3Archiver{bucket: bucket, prefix: prefix, uploader: uploader}
}

// Attach subscribes the archiver to bus.
func (a *S3Archiver) Attach(bus *Bus) {
	a.unsubscribe = bus.Subscribe(func(ev Event) {
		if ev.Type != TypeDeploymentComplete && ev.Type != TypeRollbackTriggered {
			return
		}
		if err := a.archive(context.Background(), ev); err != nil {
			log.Printf("[events.s3] drop %s for %s: %v", ev.Type, ev.DeploymentID, err)
		}
	})
}

func (a *S3Archiver) archive(ctx context.Context, ev Event) error {
	body, err := marshalEnvelope(ev)
	if err != nil {
		return err
	}
	key := a.ObjectKey(ev)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// ObjectKey returns the archive key for ev.
func (a *S3Archiver) ObjectKey(ev Event) string {
	ts := ev.Timestamp.UTC()
	return path.Join(
		a.prefix,
		"rollouts",
		fmt.Sprintf("%04d/%02d/%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("%s-%s.json", ev.DeploymentID, ev.Type),
	)
}

// Detach unsubscribes from the bus.
func (a *S3Archiver) Detach() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}
