package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/samaelod/duoclock/lua"
)

func TestLoadScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.lua")
	body := `
local script = {}
script.globals = { delay = 50 }
script.frames = {
	{ kind = "sync", args = { minutes(1), seconds(45) } },
	{ kind = "a_finish", t_delta = 1000 },
}
return script
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	script, err := LoadScript(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(script.Frames) != 2 || script.Frames[0].Args[1] != 45000 {
		t.Errorf("script = %+v", script)
	}
}

func TestLoadScriptRejects(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadScript(filepath.Join(dir, "notes.txt")); err == nil {
		t.Errorf("accepted a .txt file")
	}

	path := filepath.Join(dir, "bad.lua")
	body := `return { frames = { { kind = "sync", args = { 1 } } } }`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadScript(path); !errors.Is(err, lua.ErrInvalidScript) {
		t.Errorf("LoadScript = %v, want ErrInvalidScript", err)
	}
}
