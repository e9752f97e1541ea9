package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const fileHeader = `# cloudtodo configuration
#
# Every key can be overridden with an environment variable:
# CLOUDTODO_<SECTION>_<KEY>, e.g. CLOUDTODO_REMOTE_BACKEND=s3.
#
# remote.backend is one of "memory", "dir" or "s3".
# sync.scopes lists what the daemon reconciles: "all" or "creator:<id>".

`

// WriteDefault writes cfg, or the defaults when cfg is nil, to path as a
// commented TOML file. An existing file is only replaced when overwrite is
// set.
func WriteDefault(path string, cfg *Config, overwrite bool) error {
	if cfg == nil {
		cfg = Default()
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
