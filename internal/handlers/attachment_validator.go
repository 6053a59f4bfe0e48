package handlers

import (
	"errors"
	"net/url"
	"strings"

	"github.com/rick1290/estuary-messaging/internal/config"
)

// Attachment descriptors must point at this service's own object storage.
// Recipients' clients fetch these URLs, so arbitrary hosts are never accepted.
var allowedAttachmentHostSuffixes = []string{
	".r2.dev",
}

// Maximum URL length to prevent abuse
const maxAttachmentURLLength = 2048

// ValidateAttachmentURL validates that a URL points at allowed attachment
// storage over HTTPS.
func ValidateAttachmentURL(rawURL string) error {
	if len(rawURL) > maxAttachmentURLLength {
		return errors.New("attachment URL too long (max 2048 characters)")
	}

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return errors.New("attachment URL cannot be empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid attachment URL format")
	}

	if parsed.Scheme != "https" {
		return errors.New("only HTTPS attachment URLs are allowed")
	}

	lowerURL := strings.ToLower(rawURL)
	if strings.Contains(lowerURL, "<script") || strings.Contains(lowerURL, "onerror=") {
		return errors.New("unsafe attachment URL detected")
	}

	if !isAllowedAttachmentHost(parsed.Host) {
		return errors.New("attachment host not allowed")
	}

	return nil
}

func isAllowedAttachmentHost(host string) bool {
	lowerHost := strings.ToLower(host)

	// The configured public storage domain, when set.
	if config.AppConfig != nil && config.AppConfig.R2PublicURL != "" {
		if public, err := url.Parse(config.AppConfig.R2PublicURL); err == nil && public.Host != "" {
			if lowerHost == strings.ToLower(public.Host) {
				return true
			}
		}
	}

	for _, suffix := range allowedAttachmentHostSuffixes {
		if strings.HasSuffix(lowerHost, suffix) {
			return true
		}
	}
	return false
}
