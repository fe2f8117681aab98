package compiler

import (
	"fmt"
	"go/token"
)

// SyntaxError reports malformed generated source. It always indicates a
// code-generator defect, never a data problem, and is never swallowed.
type SyntaxError struct {
	FuncName string
	Err      error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("compiler: syntax error in generated source for %s: %v", e.FuncName, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// LoweringError reports a statement shape the compiler does not
// recognize. Generated source uses a restricted dialect; anything
// outside it is a generator defect.
type LoweringError struct {
	FuncName string
	Pos      token.Position
	Shape    string
}

func (e *LoweringError) Error() string {
	return fmt.Sprintf("compiler: unsupported statement shape in %s at %s: %s", e.FuncName, e.Pos, e.Shape)
}
