package lua

import (
	"errors"
	"fmt"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"

	"github.com/samaelod/duoclock/types"
	"github.com/samaelod/duoclock/wire"
)

var ErrInvalidScript = errors.New("invalid script")

// ReadScript runs a Lua file that returns a script table and maps it onto
// types.Script. Scripts may call seconds(n) and minutes(n) to get
// milliseconds.
func ReadScript(path string) (*types.Script, error) {
	L := lua.NewState()
	defer L.Close()

	registerHelpers(L)

	// Execute Lua file
	if err := L.DoFile(path); err != nil {
		return nil, err
	}

	// Lua file returns script table
	lv := L.Get(-1)
	table, ok := lv.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: lua file did not return a table", ErrInvalidScript)
	}

	var script types.Script

	// Map Lua table → Go struct
	if err := gluamapper.Map(table, &script); err != nil {
		return nil, err
	}

	if err := ValidateScript(&script); err != nil {
		return nil, err
	}

	return &script, nil
}

func registerHelpers(L *lua.LState) {
	scale := func(factor float64) lua.LGFunction {
		return func(L *lua.LState) int {
			n := L.CheckNumber(1)
			L.Push(lua.LNumber(float64(n) * factor))
			return 1
		}
	}
	L.SetGlobal("seconds", L.NewFunction(scale(1000)))
	L.SetGlobal("minutes", L.NewFunction(scale(60000)))
}

// ValidateScript checks every frame against the wire schema.
func ValidateScript(script *types.Script) error {
	if script.Globals.Delay < 0 {
		return fmt.Errorf("%w: negative global delay %d", ErrInvalidScript, script.Globals.Delay)
	}

	for i, f := range script.Frames {
		kind, ok := wire.ParseKindName(f.Kind)
		if !ok {
			return fmt.Errorf("%w: frame %d: unknown kind %q", ErrInvalidScript, i+1, f.Kind)
		}
		if len(f.Args) != kind.Args() {
			return fmt.Errorf("%w: frame %d: %s takes %d args, got %d",
				ErrInvalidScript, i+1, f.Kind, kind.Args(), len(f.Args))
		}
		if f.TDelta < 0 {
			return fmt.Errorf("%w: frame %d: negative t_delta %d", ErrInvalidScript, i+1, f.TDelta)
		}
	}

	return nil
}
