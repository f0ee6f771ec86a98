// Package intrinsics fixes the numeric ids and signatures of the
// stdio functions whose bodies are supplied by the code generators.
// The id table is the binding contract between the resolver and every
// backend; renumbering it breaks previously emitted NVM images.
package intrinsics

import "github.com/perin-lang/perin/internal/types"

// ID identifies one stdio intrinsic.
type ID int

const (
	Print ID = iota
	Println
	PrintStr
	PrintlnStr
	PrintChar
	ReadInt
	ReadChar
	ReadLine
	Flush
)

var names = map[ID]string{
	Print:      "Print",
	Println:    "Println",
	PrintStr:   "PrintStr",
	PrintlnStr: "PrintlnStr",
	PrintChar:  "PrintChar",
	ReadInt:    "ReadInt",
	ReadChar:   "ReadChar",
	ReadLine:   "ReadLine",
	Flush:      "Flush",
}

func (id ID) String() string {
	if name, ok := names[id]; ok {
		return name
	}
	return "Unknown"
}

// Signature describes an intrinsic's parameter and result types.
type Signature struct {
	ID     ID
	Params []types.Type
	Result types.Type
}

// table maps stdio function names to their fixed signatures.
var table = map[string]Signature{
	"Print":      {ID: Print, Params: []types.Type{types.I64}, Result: types.Void},
	"Println":    {ID: Println, Params: []types.Type{types.I64}, Result: types.Void},
	"PrintStr":   {ID: PrintStr, Params: []types.Type{types.String}, Result: types.Void},
	"PrintlnStr": {ID: PrintlnStr, Params: []types.Type{types.String}, Result: types.Void},
	"PrintChar":  {ID: PrintChar, Params: []types.Type{types.I64}, Result: types.Void},
	"ReadInt":    {ID: ReadInt, Params: nil, Result: types.I64},
	"ReadChar":   {ID: ReadChar, Params: nil, Result: types.I64},
	"ReadLine":   {ID: ReadLine, Params: nil, Result: types.String},
	"Flush":      {ID: Flush, Params: nil, Result: types.Void},
}

// Lookup returns the signature of a stdio function by name.
func Lookup(name string) (Signature, bool) {
	sig, ok := table[name]
	return sig, ok
}
