package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"
)

// FileOptions is the on-disk, JSONC (JSON-with-comments) shape a shadow-
// session config file is written in. Files are standardized to strict
// JSON via [hujson.Standardize] before unmarshalling, so comments and
// trailing commas are accepted.
//
// TickLenMillis is stored in milliseconds rather than as a Go
// [time.Duration] string so the file format stays a plain JSON number
// readable/writable without importing this module.
type FileOptions struct {
	Path            string `json:"path"`
	Writer          bool   `json:"writer"`
	PageSize        uint32 `json:"page_size"`
	MDPagesReserved uint32 `json:"md_pages_reserved"`
	TickLenMillis   uint32 `json:"tick_len_millis"`
	MaxLag          uint32 `json:"max_lag"`
	FlushRawData    bool   `json:"flush_raw_data,omitempty"`
}

// LoadFile reads a JSONC config file at path and returns the [Options] it
// describes.
func LoadFile(path string) (Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("config: read %q: %w", path, err)
	}

	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return Options{}, fmt.Errorf("config: parse %q: %w", path, err)
	}

	var fo FileOptions
	if err := json.Unmarshal(standardized, &fo); err != nil {
		return Options{}, fmt.Errorf("config: decode %q: %w", path, err)
	}

	return Options{
		Path:            fo.Path,
		Writer:          fo.Writer,
		PageSize:        fo.PageSize,
		MDPagesReserved: fo.MDPagesReserved,
		TickLen:         time.Duration(fo.TickLenMillis) * time.Millisecond,
		MaxLag:          fo.MaxLag,
		FlushRawData:    fo.FlushRawData,
	}, nil
}
