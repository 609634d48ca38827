package types

import "errors"

// Sentinel errors for routing operations.
//
// Configuration errors surface at load time and cause the offending rule to
// be skipped. Invocation errors surface from Match.
var (
	// ErrInvalidFilterType indicates an unknown filter "type" in a rule document.
	ErrInvalidFilterType = errors.New("invalid filter type")

	// ErrMissingKey indicates a filter that requires keys was configured without any.
	ErrMissingKey = errors.New("filter has no key")

	// ErrMissingValue indicates a filter that requires values was configured without any.
	ErrMissingValue = errors.New("filter has no value")

	// ErrInvalidRegexp indicates a REGEXP value that does not compile.
	ErrInvalidRegexp = errors.New("invalid regular expression")

	// ErrInvalidNetwork indicates a NETWORK value that is neither an IP nor a CIDR.
	ErrInvalidNetwork = errors.New("invalid network")

	// ErrInvalidNumber indicates a comparator value that does not parse as a float.
	ErrInvalidNumber = errors.New("invalid number")

	// ErrInvalidTypeTag indicates a TYPEOF value outside the type vocabulary.
	ErrInvalidTypeTag = errors.New("invalid type tag")

	// ErrTooManyKeys indicates a TYPEOF filter with more than one key.
	ErrTooManyKeys = errors.New("filter accepts exactly one key")

	// ErrMalformedDocument indicates a rule document that cannot be decoded.
	ErrMalformedDocument = errors.New("malformed rule document")

	// ErrInvalidNamespace indicates a namespace other than streams or customers.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrNotNumeric indicates a comparator filter evaluated against a non-numeric value.
	ErrNotNumeric = errors.New("value is not numeric")

	// ErrInvalidHistory indicates the routing history path collides with a non-mapping value.
	ErrInvalidHistory = errors.New("routing history path is not a mapping")

	// ErrDuplicateManager indicates a rule manager registered twice for the same tag.
	ErrDuplicateManager = errors.New("rule manager already registered")
)
