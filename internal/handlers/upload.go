package handlers

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	appConfig "github.com/rick1290/estuary-messaging/internal/config"
	"github.com/rick1290/estuary-messaging/internal/models"
	errs "github.com/rick1290/estuary-messaging/pkg/errors"
	"github.com/rick1290/estuary-messaging/pkg/logger"
	"github.com/rick1290/estuary-messaging/pkg/utils"
)

// -- Helpers -- //

func getS3Client() (*s3.Client, error) {
	cfg := appConfig.AppConfig
	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.R2AccountID),
		}, nil
	})

	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithEndpointResolverWithOptions(r2Resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.R2AccessKeyID, cfg.R2SecretAccessKey, "")),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

func attachmentKindFor(mimeType string) models.AttachmentKind {
	if strings.HasPrefix(mimeType, "image/") {
		return models.AttachmentImage
	}
	return models.AttachmentFile
}

// thumbnailURLFor routes image thumbnails through the CDN's resizing path.
// Non-images have no thumbnail.
func thumbnailURLFor(publicURL, key string, kind models.AttachmentKind) string {
	if kind != models.AttachmentImage {
		return ""
	}
	return fmt.Sprintf("%s/cdn-cgi/image/width=320,fit=scale-down/%s", publicURL, key)
}

// -- Handlers -- //

// UploadChatAttachment stores a multipart file in object storage and returns
// the descriptor the client then embeds in its send request. The message
// itself is not created here; an upload that succeeds but is never sent is
// just an orphaned object.
func UploadChatAttachment(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.Error(errs.BadRequest("No valid file field found"))
		return
	}
	defer file.Close()

	cfg := appConfig.AppConfig
	if cfg.AttachmentMaxBytes > 0 && header.Size > cfg.AttachmentMaxBytes {
		c.Error(errs.PayloadTooLarge(fmt.Sprintf("Attachment exceeds the %d byte limit", cfg.AttachmentMaxBytes)))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	kind := attachmentKindFor(mimeType)

	ext := filepath.Ext(header.Filename)
	key := fmt.Sprintf("chat/%s%s", utils.GenerateID(), ext)

	client, err := getS3Client()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to init storage client")
		c.Error(errs.Internal("Failed to init storage client"))
		return
	}

	_, err = client.PutObject(c.Request.Context(), &s3.PutObjectInput{
		Bucket:      aws.String(cfg.R2BucketName),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		logger.Error().Err(err).Str("key", key).Msg("Attachment upload failed")
		c.Error(errs.Internal("Upload failed"))
		return
	}

	publicURL := cfg.R2PublicURL
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.r2.dev", cfg.R2BucketName)
	}

	c.JSON(http.StatusOK, gin.H{
		"kind":         kind,
		"url":          fmt.Sprintf("%s/%s", publicURL, key),
		"thumbnailUrl": thumbnailURLFor(publicURL, key, kind),
		"name":         header.Filename,
		"byteSize":     header.Size,
		"mimeType":     mimeType,
	})
}
