// Package backends selects a remote implementation by configured type.
package backends

import (
	"context"
	"fmt"
	"strings"

	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/models"
	"github.com/TheMichaelB/dvcsync/internal/remote"
	"github.com/TheMichaelB/dvcsync/internal/remote/local"
	minioremote "github.com/TheMichaelB/dvcsync/internal/remote/minio"
	s3remote "github.com/TheMichaelB/dvcsync/internal/remote/s3"
)

// Types lists the supported backend types.
var Types = []string{local.Name, s3remote.Name, minioremote.Name}

// New creates the backend named by cloudType.
func New(ctx context.Context, cloudType string, settings remote.Settings, checksummer remote.Checksummer, logger *events.Logger) (remote.Backend, error) {
	switch strings.ToLower(cloudType) {
	case local.Name:
		return local.New(settings, checksummer, logger), nil
	case s3remote.Name:
		return s3remote.New(ctx, settings, checksummer, logger)
	case minioremote.Name:
		return minioremote.New(settings, checksummer, logger)
	case "":
		return nil, &models.ConfigError{Key: "cloud.type", Reason: "no remote configured"}
	default:
		return nil, &models.ConfigError{
			Key:    "cloud.type",
			Reason: fmt.Sprintf("unsupported remote %q (supported: %s)", cloudType, strings.Join(Types, ", ")),
		}
	}
}
