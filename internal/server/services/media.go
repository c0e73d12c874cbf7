package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/couplesync/internal/common"
	sc "github.com/dmitrijs2005/couplesync/internal/server/config"
	"github.com/google/uuid"
)

// PresignExpiry is the lifetime of media URLs.
const PresignExpiry = 15 * time.Minute

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// Membership reports whether a user is an active member of a couple.
type Membership interface {
	IsActiveMember(ctx context.Context, coupleID, userID string) (bool, error)
}

// MediaService hands out presigned S3 URLs for memory media. The bytes never
// pass through the server; a memory record only stores the object key.
type MediaService struct {
	config  *sc.Config
	members Membership
}

func NewMediaService(cfg *sc.Config, members Membership) *MediaService {
	return &MediaService{config: cfg, members: members}
}

// MediaKey is the object key of a memory's media.
func MediaKey(coupleID, memoryID string) string {
	return fmt.Sprintf("couples/%s/memories/%s-%s", coupleID, memoryID, uuid.NewString())
}

func (s *MediaService) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.config.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return newS3PresignClient(client), nil
}

func (s *MediaService) authorize(ctx context.Context, coupleID, userID string) error {
	if s.members == nil {
		return nil
	}
	ok, err := s.members.IsActiveMember(ctx, coupleID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrNotAuthorized
	}
	return nil
}

// UploadURL returns a presigned PUT URL and the media reference to store in
// the memory record.
func (s *MediaService) UploadURL(ctx context.Context, userID, coupleID, memoryID, contentType string) (url, mediaRef string, expiresAt time.Time, err error) {
	if coupleID == "" || memoryID == "" {
		return "", "", time.Time{}, fmt.Errorf("%w: couple id and memory id are required", common.ErrValidation)
	}
	if err := s.authorize(ctx, coupleID, userID); err != nil {
		return "", "", time.Time{}, err
	}

	pc, err := s.getPresignClient(ctx)
	if err != nil {
		return "", "", time.Time{}, err
	}

	bucket := s.config.S3Bucket
	key := MediaKey(coupleID, memoryID)
	in := &s3.PutObjectInput{Bucket: &bucket, Key: &key}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	req, err := presignPutObject(pc, ctx, in, s3.WithPresignExpires(PresignExpiry))
	if err != nil {
		return "", "", time.Time{}, err
	}
	return req.URL, key, now().Add(PresignExpiry), nil
}

// DownloadURL returns a presigned GET URL for a media reference of the
// caller's couple.
func (s *MediaService) DownloadURL(ctx context.Context, userID, coupleID, mediaRef string) (string, error) {
	if !strings.HasPrefix(mediaRef, "couples/"+coupleID+"/") {
		return "", errors.Join(common.ErrNotAuthorized, fmt.Errorf("media %q is not of couple %s", mediaRef, coupleID))
	}
	if err := s.authorize(ctx, coupleID, userID); err != nil {
		return "", err
	}

	pc, err := s.getPresignClient(ctx)
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket
	req, err := presignGetObject(pc, ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &mediaRef}, s3.WithPresignExpires(PresignExpiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
