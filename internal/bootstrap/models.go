package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// LinkModels replaces whatever exists at localPath (file, directory, or link)
// with a symbolic link to volumePath. Removal of a nonexistent path is treated
// as success. When requireVolume is false a missing volume still produces the
// link; it dangles until the volume is mounted.
func LinkModels(localPath, volumePath string, requireVolume bool) error {
	if _, err := os.Stat(volumePath); err != nil {
		if requireVolume {
			return fmt.Errorf("network volume not available: %w", err)
		}
		log.Warn().Str("volume", volumePath).Msg("Network volume missing, creating dangling models link")
	}
	if err := os.RemoveAll(localPath); err != nil {
		return fmt.Errorf("remove models path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("create models parent: %w", err)
	}
	if err := os.Symlink(volumePath, localPath); err != nil {
		return fmt.Errorf("link models: %w", err)
	}
	log.Info().Str("path", localPath).Str("target", volumePath).Msg("Models directory linked")
	return nil
}
