package domain

import "errors"

var (
	ErrInvalidRange          = errors.New("invalid validity range")
	ErrInvalidEncoding       = errors.New("text is not valid UTF-8")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrBlockAlreadyOpen      = errors.New("block already open")
	ErrNoOpenBlock           = errors.New("no open block")
	ErrDuplicateCredential   = errors.New("duplicate credential")
	ErrUnknownCredential     = errors.New("unknown credential")
	ErrAlreadyRevoked        = errors.New("credential already revoked")
	ErrEmptyBlock            = errors.New("empty block")
	ErrChainLinkMismatch     = errors.New("chain link mismatch")
	ErrInvalidBlockHash      = errors.New("invalid block hash")
	ErrInvalidBlockSignature = errors.New("invalid block signature")
	ErrTamperedRecord        = errors.New("tampered record")
	ErrNotFound              = errors.New("not found")
	ErrPolicyDenied          = errors.New("issuance denied by policy")
)
