package settings

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"walletgate/internal/domain"
)

// AllowlistFile is the on-disk YAML format for bulk allow-list imports:
//
//	allowance:
//	  - app.uniswap.org
//	listing:
//	  - opensea.io
//	hash:
//	  - example.org
type AllowlistFile struct {
	Allowance []string `yaml:"allowance"`
	Listing   []string `yaml:"listing"`
	Hash      []string `yaml:"hash"`
}

// ImportAllowlists loads a YAML allow-list file and merges its hostnames
// into the store. Existing entries are kept; the import is additive.
func (s *SQLiteStore) ImportAllowlists(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read allowlist file: %w", err)
	}

	var file AllowlistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse allowlist file %s: %w", path, err)
	}

	imported := 0
	for kind, hosts := range map[domain.WarningKind][]string{
		domain.WarningAllowance: file.Allowance,
		domain.WarningListing:   file.Listing,
		domain.WarningHash:      file.Hash,
	} {
		for _, h := range hosts {
			if h == "" {
				continue
			}
			if err := s.Allowlist(ctx, kind, h); err != nil {
				return imported, fmt.Errorf("allowlist %s/%s: %w", kind, h, err)
			}
			imported++
		}
	}

	s.logger.Info("allowlists imported", "path", path, "entries", imported)
	return imported, nil
}
