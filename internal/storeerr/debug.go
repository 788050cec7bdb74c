package storeerr

import (
	"errors"
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

// DumpChain walks an error chain, printing each layer's type and spew's
// structural dump of StoreError layers, to explain an unexpected error
// without guessing at %+v formatting.
func DumpChain(err error) string {
	if err == nil {
		return "<nil>"
	}

	out := ""
	i := 0
	for e := err; e != nil; e = errors.Unwrap(e) {
		out += fmt.Sprintf("[%d] %T: %v\n", i, e, e)
		var se *StoreError
		if errors.As(e, &se) && se == e {
			out += spew.Sdump(se)
		}
		i++
	}
	return out
}
