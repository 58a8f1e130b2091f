package apperr

import "errors"

var (
	ErrRootNotFound   = errors.New("root not found")
	ErrOutsideRoot    = errors.New("path escapes root")
	ErrNotDocument    = errors.New("not a document")
	ErrDecode         = errors.New("content is not valid text")
	ErrNotFound       = errors.New("not found")
	ErrLedgerDisabled = errors.New("ledger disabled")
)
