package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidNonce is returned when a consumed nonce was never ingested
	// or was already consumed.
	ErrInvalidNonce = errors.New("invalid nonce")

	// ErrChallengeExpired is returned when a challenge is consumed after its TTL.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrMalformedBody is returned for an unreadable request body.
	ErrMalformedBody = errors.New("malformed body")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	ErrNoEnvironmentForIP        = errors.New("no environment for ip")
	ErrGatewayNotInitialized     = errors.New("gateway not initialized")
	ErrGatewayNotRegistered      = errors.New("gateway not registered")
	ErrCrossNetwork              = errors.New("caller and gateway are not on the same network")
	ErrIPBoundToOtherEnvironment = errors.New("ip is bound to another environment")

	// ErrUnauthorized is returned when the caller may not perform an operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited is returned when a requester exceeds the ingestion rate.
	ErrRateLimited = errors.New("rate limited")

	// ErrContentNotFound is returned when requested content cannot be found in a blob backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a blob backend is not accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a backend URI is malformed or unsupported.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// MissingHeaderError names a required HTTP header that was absent.
type MissingHeaderError struct {
	Name string
}

func (e *MissingHeaderError) Error() string {
	return "missing header: " + e.Name
}

// MalformedHeaderError names a header whose value could not be parsed.
type MalformedHeaderError struct {
	Name  string
	Value string
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("malformed header %s: %q", e.Name, e.Value)
}

// EntityError reports a keyed lookup or insert failure on a named entity.
// Err is ErrNotFound or ErrAlreadyExists.
type EntityError struct {
	Err    error
	Entity string
	Key    string
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Entity, e.Key, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// NotFound builds an EntityError wrapping ErrNotFound.
func NotFound(entity, key string) error {
	return &EntityError{Err: ErrNotFound, Entity: entity, Key: key}
}

// AlreadyExists builds an EntityError wrapping ErrAlreadyExists.
func AlreadyExists(entity, key string) error {
	return &EntityError{Err: ErrAlreadyExists, Entity: entity, Key: key}
}

// AccessKeyRejection enumerates why a presentation was refused.
type AccessKeyRejection string

const (
	InvalidSignature           AccessKeyRejection = "InvalidSignature"
	InvalidNonce               AccessKeyRejection = "InvalidNonce"
	InvalidAccessKey           AccessKeyRejection = "InvalidAccessKey"
	NonceAlreadyUsed           AccessKeyRejection = "NonceAlreadyUsed"
	RequestsLimitReached       AccessKeyRejection = "RequestsLimitReached"
	SignatureVerificationError AccessKeyRejection = "SignatureVerificationError"
)

// AccessKeyError is a rejected access-key presentation.
type AccessKeyError struct {
	Reason  AccessKeyRejection
	Message string
}

func (e *AccessKeyError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("access key rejected: %s: %s", e.Reason, e.Message)
	}
	return "access key rejected: " + string(e.Reason)
}

// Is matches any AccessKeyError with the same reason.
func (e *AccessKeyError) Is(target error) bool {
	t, ok := target.(*AccessKeyError)
	return ok && t.Reason == e.Reason
}

// RejectAccessKey builds an AccessKeyError without a message.
func RejectAccessKey(reason AccessKeyRejection) error {
	return &AccessKeyError{Reason: reason}
}

// LedgerError wraps a failure reported by the ledger.
type LedgerError struct {
	Msg string
}

func (e *LedgerError) Error() string {
	return "ledger error: " + e.Msg
}

// SignatureOracleError wraps a failure reported by the signature oracle.
type SignatureOracleError struct {
	Msg string
}

func (e *SignatureOracleError) Error() string {
	return "signature oracle error: " + e.Msg
}

var sentinelTags = []struct {
	err error
	tag string
}{
	{ErrInvalidNonce, "InvalidNonce"},
	{ErrChallengeExpired, "ChallengeExpired"},
	{ErrMalformedBody, "MalformedBody"},
	{ErrNoEnvironmentForIP, "NoEnvironmentForIp"},
	{ErrGatewayNotInitialized, "GatewayNotInitialized"},
	{ErrGatewayNotRegistered, "GatewayNotRegistered"},
	{ErrCrossNetwork, "CrossNetwork"},
	{ErrIPBoundToOtherEnvironment, "IpBoundToOtherEnvironment"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrRateLimited, "RateLimited"},
	{ErrContentNotFound, "NotFound(content)"},
	{ErrBackendUnavailable, "BackendUnavailable"},
}

// ErrorTag renders err as the string tag surfaced on the wire.
func ErrorTag(err error) string {
	if err == nil {
		return ""
	}

	var missing *MissingHeaderError
	if errors.As(err, &missing) {
		return fmt.Sprintf("MissingHeader(%s)", missing.Name)
	}
	var malformed *MalformedHeaderError
	if errors.As(err, &malformed) {
		return fmt.Sprintf("MalformedHeader(%s)", malformed.Name)
	}
	var akErr *AccessKeyError
	if errors.As(err, &akErr) {
		if akErr.Message != "" {
			return fmt.Sprintf("AccessKey(%s: %s)", akErr.Reason, akErr.Message)
		}
		return fmt.Sprintf("AccessKey(%s)", akErr.Reason)
	}
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) {
		return fmt.Sprintf("LedgerError(%s)", ledgerErr.Msg)
	}
	var oracleErr *SignatureOracleError
	if errors.As(err, &oracleErr) {
		return fmt.Sprintf("SignatureOracleError(%s)", oracleErr.Msg)
	}

	// Sentinels are checked before entity errors so that a gateway-specific
	// cause wrapping a NotFound keeps its own tag.
	for _, s := range sentinelTags {
		if errors.Is(err, s.err) {
			return s.tag
		}
	}

	var entityErr *EntityError
	if errors.As(err, &entityErr) {
		switch {
		case errors.Is(entityErr.Err, ErrNotFound):
			return fmt.Sprintf("NotFound(%s)", entityErr.Entity)
		case errors.Is(entityErr.Err, ErrAlreadyExists):
			return fmt.Sprintf("AlreadyExists(%s)", entityErr.Entity)
		}
	}
	return "Internal"
}
