package lua

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/samaelod/duoclock/config"
	"github.com/samaelod/duoclock/types"
)

// SaveToRecent saves the script to a new file in cfg's recent directory,
// falling back to the default config when cfg is nil. See SaveToDir.
func SaveToRecent(cfg *config.Config, script *types.Script, originalPath string) (string, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.LoadDefault(); err != nil {
			return "", fmt.Errorf("failed to load config: %w", err)
		}
	}
	return SaveToDir(cfg.RecentDir, script, originalPath)
}

// SaveToDir writes the script as name_N.lua in dir, where name comes from
// originalPath and N is the first free number. A Lua original is copied as
// is to keep its comments; anything else is generated from script.
func SaveToDir(dir string, script *types.Script, originalPath string) (string, error) {
	if dir == "" {
		dir = "recent"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create recent directory: %w", err)
	}

	baseName := filepath.Base(originalPath)
	nameWithoutExt := strings.TrimSuffix(baseName, filepath.Ext(baseName))

	// foo.pcap becomes foo_1.lua, then foo_2.lua
	var (
		newPath string
		f       *os.File
	)
	for counter := 1; ; counter++ {
		newPath = filepath.Join(dir, fmt.Sprintf("%s_%d.lua", nameWithoutExt, counter))
		var err error
		f, err = os.OpenFile(newPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to create script file: %w", err)
		}
	}
	defer f.Close()

	if strings.HasSuffix(originalPath, ".lua") {
		src, err := os.Open(originalPath)
		if err != nil {
			return "", fmt.Errorf("failed to open source lua file: %w", err)
		}
		defer src.Close()

		if _, err := io.Copy(f, src); err != nil {
			return "", fmt.Errorf("failed to copy lua content: %w", err)
		}
	} else {
		if err := WriteScript(f, script); err != nil {
			return "", fmt.Errorf("failed to write script to lua: %w", err)
		}
	}

	return newPath, nil
}
