package lua

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/samaelod/duoclock/types"
)

// WriteScript emits a Lua file that ReadScript reads back to the same script.
func WriteScript(w io.Writer, script *types.Script) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "local script = {}")
	fmt.Fprintln(bw)

	// Globals
	fmt.Fprintln(bw, "-- GLOBALS ----------------------------------------")
	fmt.Fprintln(bw, "script.globals = {")
	fmt.Fprintf(bw, "\taddress = %q,\n", script.Globals.Address)
	fmt.Fprintf(bw, "\tdelay = %d,\n", script.Globals.Delay)
	fmt.Fprintf(bw, "\tloop = %t,\n", script.Globals.Loop)
	fmt.Fprintln(bw, "}")
	fmt.Fprintln(bw)

	// Frames
	fmt.Fprintln(bw, "-- FRAMES -----------------------------------------")
	fmt.Fprintln(bw, "script.frames = {")
	for _, f := range script.Frames {
		fmt.Fprintln(bw, "\t{")
		fmt.Fprintf(bw, "\t\tkind = %q,\n", f.Kind)
		// An empty table would map to a map, not a slice.
		if len(f.Args) > 0 {
			args := make([]string, len(f.Args))
			for i, a := range f.Args {
				args[i] = fmt.Sprint(a)
			}
			fmt.Fprintf(bw, "\t\targs = { %s },\n", strings.Join(args, ", "))
		}
		fmt.Fprintf(bw, "\t\tt_delta = %d,\n", f.TDelta)
		fmt.Fprintln(bw, "\t},")
	}
	fmt.Fprintln(bw, "}")
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "return script")

	return bw.Flush()
}
