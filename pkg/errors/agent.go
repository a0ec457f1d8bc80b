package errors

import stderrors "errors"

/*
Kind is the failure taxonomy used across the engine to decide between
retrying, failing over, degrading or surfacing an error.
*/
type Kind int

const (
	KindUnknown Kind = iota
	KindFatalConfig
	KindTransient
	KindValidation
	KindExhaustion
	KindDegraded
)

func (kind Kind) String() string {
	switch kind {
	case KindFatalConfig:
		return "fatal-configuration"
	case KindTransient:
		return "transient-upstream"
	case KindValidation:
		return "validation"
	case KindExhaustion:
		return "exhaustion"
	case KindDegraded:
		return "best-effort-degradation"
	default:
		return "unknown"
	}
}

var (
	ErrMissingCredential   = stderrors.New("missing credential")
	ErrNoProviderAvailable = stderrors.New("no provider available")
	ErrEmptyMessage        = stderrors.New("message text is empty")
	ErrEmptyText           = stderrors.New("text is empty")
	ErrNotFound            = stderrors.New("not found")
	ErrEpisodeAssigned     = stderrors.New("record already belongs to an episode")
	ErrMalformedResponse   = stderrors.New("malformed provider response")
	ErrInvalidRecord       = stderrors.New("invalid memory record")
)

var sentinelKinds = map[error]Kind{
	ErrMissingCredential:   KindFatalConfig,
	ErrNoProviderAvailable: KindExhaustion,
	ErrEmptyMessage:        KindValidation,
	ErrEmptyText:           KindValidation,
	ErrNotFound:            KindValidation,
	ErrEpisodeAssigned:     KindValidation,
	ErrMalformedResponse:   KindTransient,
	ErrInvalidRecord:       KindValidation,
}
