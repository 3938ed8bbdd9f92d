package meta

import "github.com/pkg/errors"

var (
	ErrNotIndexable            = errors.New("type is not indexable")
	ErrAmbiguousIdentity       = errors.New("more than one identity member")
	ErrMissingIdentity         = errors.New("identity not found")
	ErrDuplicateMultiFieldName = errors.New("duplicate multi-field name")
	ErrConflictingCodec        = errors.New("conflicting codec for multi-field")
	ErrUnresolvableValueType   = errors.New("unresolvable value type")
	ErrInvalidTag              = errors.New("invalid tag")
)
