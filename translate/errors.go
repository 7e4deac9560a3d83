package translate

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/fedsearch/cql"
	"github.com/pithecene-io/fedsearch/types"
)

// UnsupportedIndexError names an index with no registered use attribute.
type UnsupportedIndexError struct {
	Index string
}

func (e *UnsupportedIndexError) Error() string {
	return fmt.Sprintf("unsupported index %q", e.Index)
}

// UnsupportedRelationError names a relation with no registered relation attribute.
type UnsupportedRelationError struct {
	Index    string
	Relation cql.Relation
}

func (e *UnsupportedRelationError) Error() string {
	return fmt.Sprintf("unsupported relation %q on index %q", e.Relation, e.Index)
}

// UnsupportedOperatorError reports a boolean construct the target query
// form cannot express.
type UnsupportedOperatorError struct {
	Msg string
}

func (e *UnsupportedOperatorError) Error() string {
	return "unsupported boolean operator: " + e.Msg
}

// UnsupportedKindError is returned for target kinds with no lowering.
type UnsupportedKindError struct {
	Kind types.TargetKind
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("no query translation for target type %q", e.Kind)
}

// Diagnose converts a parse or translation error into the non-surrogate
// diagnostic recorded for the affected target. Any other error maps to a
// general system error.
func Diagnose(err error) *types.Diagnostic {
	var (
		syntaxErr   *cql.SyntaxError
		indexErr    *UnsupportedIndexError
		relationErr *UnsupportedRelationError
		operatorErr *UnsupportedOperatorError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &syntaxErr):
		return types.NonSurrogate(types.DiagSyntax, types.CodeQuerySyntax, "query syntax error").
			WithDetails(syntaxErr.Error())
	case errors.As(err, &indexErr):
		return types.NonSurrogate(types.DiagTranslation, types.CodeUnsupportedIndex, "unsupported index").
			WithDetails(indexErr.Index)
	case errors.As(err, &relationErr):
		return types.NonSurrogate(types.DiagTranslation, types.CodeUnsupportedRelation, "unsupported relation").
			WithDetails(string(relationErr.Relation))
	case errors.As(err, &operatorErr):
		return types.NonSurrogate(types.DiagTranslation, types.CodeUnsupportedBoolean, "unsupported boolean operator").
			WithDetails(operatorErr.Msg)
	default:
		return types.NonSurrogate(types.DiagTranslation, types.CodeGeneralSystemError, err.Error())
	}
}
