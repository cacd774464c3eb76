package artifacts

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// NewStore returns the artifact store selected by configuration.
func NewStore(ctx context.Context, cfg common.ArtifactsConfig, logger arbor.ILogger) (interfaces.ArtifactStore, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.Local.Dir, logger)
	case "s3":
		return NewS3Store(ctx, cfg.S3, logger)
	default:
		return nil, fmt.Errorf("unknown artifact backend: %q", cfg.Backend)
	}
}
