package lua

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/samaelod/duoclock/types"
)

const sample = `
local script = {}

script.globals = {
	address = "127.0.0.1:7000",
	delay = 100,
	loop = true,
}

-- both sides get five minutes
script.frames = {
	{ kind = "sync", args = { minutes(5), minutes(5) } },
	{ kind = "start_a", args = { 300000 }, t_delta = 500 },
	{ kind = "start_b", args = { seconds(299.5) }, t_delta = 1500 },
	{ kind = "pause", args = { 0 } },
	{ kind = "b_finish" },
}

return script
`

func writeLua(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadScript(t *testing.T) {
	path := writeLua(t, t.TempDir(), "game.lua", sample)

	script, err := ReadScript(path)
	if err != nil {
		t.Fatalf("ReadScript: %v", err)
	}

	want := types.Script{
		Globals: types.Globals{Address: "127.0.0.1:7000", Delay: 100, Loop: true},
		Frames: []types.Frame{
			{Kind: "sync", Args: []uint32{300000, 300000}},
			{Kind: "start_a", Args: []uint32{300000}, TDelta: 500},
			{Kind: "start_b", Args: []uint32{299500}, TDelta: 1500},
			{Kind: "pause", Args: []uint32{0}},
			{Kind: "b_finish"},
		},
	}
	if !reflect.DeepEqual(*script, want) {
		t.Errorf("script = %+v\nwant     %+v", *script, want)
	}
}

func TestReadScriptRejects(t *testing.T) {
	tests := map[string]string{
		"not a table":  `return 5`,
		"unknown kind": `return { frames = { { kind = "resign" } } }`,
		"arg count":    `return { frames = { { kind = "sync", args = { 1 } } } }`,
		"negative":     `return { frames = { { kind = "b_finish", t_delta = -3 } } }`,
	}
	dir := t.TempDir()
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeLua(t, dir, strings.ReplaceAll(name, " ", "_")+".lua", body)
			if _, err := ReadScript(path); !errors.Is(err, ErrInvalidScript) {
				t.Errorf("ReadScript = %v, want ErrInvalidScript", err)
			}
		})
	}
}

func TestReadScriptLuaError(t *testing.T) {
	path := writeLua(t, t.TempDir(), "broken.lua", `return {`)
	if _, err := ReadScript(path); err == nil {
		t.Errorf("syntax error not reported")
	}
}

func TestWriteScriptReadsBack(t *testing.T) {
	script := &types.Script{
		Globals: types.Globals{Address: "0.0.0.0:9000", Delay: 20},
		Frames: []types.Frame{
			{Kind: "handshake", Args: []uint32{2}},
			{Kind: "sync", Args: []uint32{60000, 45000}, TDelta: 7},
			{Kind: "a_finish", TDelta: 100},
		},
	}

	var buf bytes.Buffer
	if err := WriteScript(&buf, script); err != nil {
		t.Fatalf("WriteScript: %v", err)
	}
	if strings.Contains(buf.String(), "args = {  }") {
		t.Errorf("empty args table written:\n%s", buf.String())
	}

	path := writeLua(t, t.TempDir(), "out.lua", buf.String())
	got, err := ReadScript(path)
	if err != nil {
		t.Fatalf("ReadScript: %v\n%s", err, buf.String())
	}
	if !reflect.DeepEqual(got, script) {
		t.Errorf("read back %+v, want %+v", got, script)
	}
}

func TestSaveToDir(t *testing.T) {
	dir := t.TempDir()
	recent := filepath.Join(dir, "recent")
	script := &types.Script{Frames: []types.Frame{{Kind: "pause", Args: []uint32{0}}}}

	first, err := SaveToDir(recent, script, "/captures/match.pcap")
	if err != nil {
		t.Fatalf("SaveToDir: %v", err)
	}
	second, err := SaveToDir(recent, script, "/captures/match.pcapng")
	if err != nil {
		t.Fatalf("SaveToDir: %v", err)
	}
	if filepath.Base(first) != "match_1.lua" || filepath.Base(second) != "match_2.lua" {
		t.Errorf("names = %s, %s", first, second)
	}
	if _, err := ReadScript(first); err != nil {
		t.Errorf("generated script unreadable: %v", err)
	}

	orig := writeLua(t, dir, "game.lua", sample)
	copied, err := SaveToDir(recent, nil, orig)
	if err != nil {
		t.Fatalf("SaveToDir lua: %v", err)
	}
	data, _ := os.ReadFile(copied)
	if string(data) != sample {
		t.Errorf("lua original not copied verbatim")
	}
}
