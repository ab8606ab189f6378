// File: internal/hooks/minio.go
// Brief: MinIO bucket, policy, and access-key provisioning.

package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/example/stackup/internal/retry"
	"github.com/example/stackup/internal/vars"
)

const (
	chatwootBucket = "chatwoot"
	mcImage        = "minio/mc:RELEASE.2024-06-12T14-34-03Z"
	// mcServiceCandidates are the DNS names a one-off container on the
	// overlay network can reach the MinIO task under, in preference order.
	minioReadyBudget = 90 * time.Second
)

var mcServiceCandidates = []string{"minio_minio", "tasks.minio_minio"}

// publicReadPolicy grants anonymous read on the bucket, which Chatwoot
// needs for serving attachment URLs directly.
const publicReadPolicy = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Principal": {"AWS": ["*"]},
      "Action": ["s3:GetObject"],
      "Resource": ["arn:aws:s3:::%s/*"]
    }
  ]
}`

// provisionMinIO waits for the object store, creates the bucket with a
// public-read policy over the S3-compatible API, then mints an access
// key pair through the admin CLI and feeds both values back into the
// variable set for the units that deploy afterwards.
func (r *Runner) provisionMinIO(ctx context.Context) error {
	rootUser, ok := r.vs.Get(vars.MinIORootUser)
	if !ok {
		return errors.New("minio hook: root user not populated")
	}
	rootPass, ok := r.vs.Get(vars.MinIORootPassword)
	if !ok {
		return errors.New("minio hook: root password not populated")
	}

	client, err := r.s3Client(ctx, rootUser, rootPass)
	if err != nil {
		return err
	}

	r.log.Infow("waiting for object store", "endpoint", r.s3Endpoint)
	err = retry.Poll(ctx, 5*time.Second, minioReadyBudget, func(ctx context.Context) (bool, error) {
		_, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
		return err == nil, err
	})
	if err != nil {
		return fmt.Errorf("object store never became reachable: %w", err)
	}

	if err := r.ensureBucket(ctx, client); err != nil {
		return err
	}
	if err := r.applyBucketPolicy(ctx, client); err != nil {
		return err
	}
	return r.createAccessKeys(ctx, rootUser, rootPass)
}

func (r *Runner) s3Client(ctx context.Context, user, pass string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(user, pass, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("object store client config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(r.s3Endpoint)
		o.UsePathStyle = true
	}), nil
}

func (r *Runner) ensureBucket(ctx context.Context, client *s3.Client) error {
	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(chatwootBucket)})
	if err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		var exists *s3types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			r.log.Infow("bucket already present", "bucket", chatwootBucket)
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", chatwootBucket, err)
	}
	r.log.Infow("bucket created", "bucket", chatwootBucket)
	return nil
}

func (r *Runner) applyBucketPolicy(ctx context.Context, client *s3.Client) error {
	policy := fmt.Sprintf(publicReadPolicy, chatwootBucket)
	_, err := client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(chatwootBucket),
		Policy: aws.String(policy),
	})
	if err != nil {
		return fmt.Errorf("set public-read policy on %s: %w", chatwootBucket, err)
	}
	r.log.Infow("public-read policy applied", "bucket", chatwootBucket)
	return nil
}

// svcAccount is the JSON shape of `mc admin user svcacct add --json`.
type svcAccount struct {
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
}

// createAccessKeys mints a service-account key pair. Key creation is a
// MinIO admin operation with no S3 API equivalent, so it runs the mc
// CLI in a one-off container on the stack's overlay network.
func (r *Runner) createAccessKeys(ctx context.Context, rootUser, rootPass string) error {
	var lastErr error
	for _, host := range mcServiceCandidates {
		script := fmt.Sprintf(
			"mc alias set local http://%s:9000 %s %s && mc admin user svcacct add local %s --json",
			host, rootUser, rootPass, rootUser)
		out, err := r.exec.RunOneOff(ctx, mcImage, r.network, "/bin/sh", "-c", script)
		if err != nil {
			lastErr = err
			continue
		}
		acct, err := parseSvcAccount(out)
		if err != nil {
			lastErr = err
			continue
		}
		if err := r.vs.Put(vars.StorageAccessKeyID, acct.AccessKey); err != nil {
			return err
		}
		if err := r.vs.Put(vars.StorageSecretAccessKey, acct.SecretKey); err != nil {
			return err
		}
		r.log.Infow("object store access keys provisioned", "accessKey", acct.AccessKey)
		return nil
	}
	return fmt.Errorf("create access keys: %w", lastErr)
}

// parseSvcAccount extracts the JSON document from mc output, which
// prefixes it with the alias confirmation line.
func parseSvcAccount(out string) (svcAccount, error) {
	idx := strings.Index(out, "{")
	if idx < 0 {
		return svcAccount{}, fmt.Errorf("no JSON in mc output: %s", firstLine(out))
	}
	var acct svcAccount
	if err := json.Unmarshal([]byte(out[idx:]), &acct); err != nil {
		return svcAccount{}, fmt.Errorf("decode mc output: %w", err)
	}
	if acct.AccessKey == "" || acct.SecretKey == "" {
		return svcAccount{}, errors.New("mc output missing access or secret key")
	}
	return acct, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return s
}
