package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/config"
)

// s3API is the subset of the S3 client used by S3Vault.
type s3API interface {
	manager.UploadAPIClient
	manager.DownloadAPIClient
	s3.HeadObjectAPIClient
	s3.HeadBucketAPIClient
	s3.ListObjectsV2APIClient
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Vault stores bodies as objects under <prefix>/content/<digest>.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   s3API
	uploader *manager.Uploader
}

// NewS3Vault builds an S3 client from the vault config. Static credentials
// are used when an access key is configured, otherwise the default AWS
// credential chain applies. A base endpoint switches to path-style
// addressing for S3-compatible servers.
func NewS3Vault(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Vault(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client), nil
}

func newS3Vault(name, bucket, prefix string, client s3API) *S3Vault {
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (v *S3Vault) contentPrefix() string {
	return path.Join(v.prefix, "content") + "/"
}

func (v *S3Vault) key(digest string) string {
	return v.contentPrefix() + digest
}

// PutContent uploads the body, using multipart upload for large files.
// An object whose length does not match size is removed again.
func (v *S3Vault) PutContent(ctx context.Context, digest string, r io.Reader, size int64) error {
	if err := checkDigest(digest); err != nil {
		return err
	}

	cr := &countingReader{r: r}
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(digest)),
		Body:   cr,
	})
	if err != nil {
		return fmt.Errorf("uploading content %s: %w", digest, err)
	}
	if cr.n != size {
		if derr := v.DeleteContent(ctx, digest); derr != nil {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d (cleanup failed: %v)", size, cr.n, derr)
		}
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, cr.n)
	}
	return nil
}

// GetContent streams the object body to w.
func (v *S3Vault) GetContent(ctx context.Context, digest string, w io.Writer) error {
	if err := checkDigest(digest); err != nil {
		return notFound(digest)
	}

	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(digest)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return notFound(digest)
		}
		return fmt.Errorf("getting content %s: %w", digest, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading content %s: %w", digest, err)
	}
	return nil
}

func (v *S3Vault) HasContent(ctx context.Context, digest string) (bool, error) {
	if checkDigest(digest) != nil {
		return false, nil
	}

	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(digest)),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("checking content %s: %w", digest, err)
}

// DeleteContent removes the object. S3 treats deleting a missing key as success.
func (v *S3Vault) DeleteContent(ctx context.Context, digest string) error {
	if err := checkDigest(digest); err != nil {
		return err
	}

	_, err := v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(digest)),
	})
	if err != nil {
		return fmt.Errorf("deleting content %s: %w", digest, err)
	}
	return nil
}

// ListContent pages through the content prefix and returns sorted digests.
func (v *S3Vault) ListContent(ctx context.Context) ([]string, error) {
	prefix := v.contentPrefix()
	paginator := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(v.bucket),
		Prefix: aws.String(prefix),
	})

	var out []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing content: %w", err)
		}
		for _, obj := range page.Contents {
			digest := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if checkDigest(digest) == nil {
				out = append(out, digest)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// ValidateSetup checks that the bucket exists and is reachable with the
// configured credentials.
func (v *S3Vault) ValidateSetup(ctx context.Context) error {
	_, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)})
	if err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

// Compile-time check that S3Vault implements ckpt.Vault interface
var _ ckpt.Vault = (*S3Vault)(nil)
