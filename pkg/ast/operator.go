package ast

import "fmt"

// Operator names a binary operator. The IR carries operators symbolically;
// type dispatch happens when the instruction executes.
type Operator uint8

const (
	// Math
	OpAdd Operator = iota
	OpSubtract
	OpMultiply
	OpDivide
	OpFloorDivide
	OpModulo
	OpPow

	// Comparison
	OpEqual
	OpNotEqual
	OpLessThan
	OpLessThanOrEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpRegexMatch
	OpNotRegexMatch
	OpIn
	OpNotIn
	OpStartsWith
	OpEndsWith

	// Boolean
	OpAnd
	OpOr
	OpXor

	// Concatenation of strings, lists, and binary values
	OpConcatenate
)

var operatorNames = map[Operator]string{
	OpAdd:                "+",
	OpSubtract:           "-",
	OpMultiply:           "*",
	OpDivide:             "/",
	OpFloorDivide:        "//",
	OpModulo:             "mod",
	OpPow:                "**",
	OpEqual:              "==",
	OpNotEqual:           "!=",
	OpLessThan:           "<",
	OpLessThanOrEqual:    "<=",
	OpGreaterThan:        ">",
	OpGreaterThanOrEqual: ">=",
	OpRegexMatch:         "=~",
	OpNotRegexMatch:      "!~",
	OpIn:                 "in",
	OpNotIn:              "not-in",
	OpStartsWith:         "starts-with",
	OpEndsWith:           "ends-with",
	OpAnd:                "and",
	OpOr:                 "or",
	OpXor:                "xor",
	OpConcatenate:        "++",
}

// String returns the source spelling of the operator.
func (o Operator) String() string {
	if name, ok := operatorNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Operator(%d)", uint8(o))
}

// IsComparison reports whether the operator yields a boolean.
func (o Operator) IsComparison() bool {
	return o >= OpEqual && o <= OpEndsWith
}

// IsBoolean reports whether the operator is a logical connective.
func (o Operator) IsBoolean() bool {
	return o == OpAnd || o == OpOr || o == OpXor
}
