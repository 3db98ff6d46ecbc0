package engine

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/samaelod/duoclock/lua"
	"github.com/samaelod/duoclock/pcapreader"
	"github.com/samaelod/duoclock/types"
)

// ScriptExtensions are the file types LoadScript understands.
var ScriptExtensions = []string{".lua", ".pcap", ".pcapng", ".cap"}

// LoadScript reads an emulator script from a Lua file or a packet capture
// and validates it.
func LoadScript(path string) (*types.Script, error) {
	var (
		script *types.Script
		err    error
	)

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".lua":
		script, err = lua.ReadScript(path)
	case ".pcap", ".pcapng", ".cap":
		script, err = pcapreader.ReadPCAP(path)
	default:
		return nil, fmt.Errorf("unsupported script type %q", ext)
	}
	if err != nil {
		return nil, err
	}

	if err := lua.ValidateScript(script); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	return script, nil
}
