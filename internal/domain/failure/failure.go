package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNetwork covers manifest and artifact transport failures, timeouts included.
	ErrNetwork = errors.New("network error")
	// ErrSignatureInvalid means manifest authenticity could not be established.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrHashMismatch means artifact content does not match its declared hash.
	ErrHashMismatch = errors.New("hash mismatch")
	// ErrIO covers local filesystem failures while reading or writing the cache.
	ErrIO = errors.New("io error")
	// ErrLaunch means the verified artifact set could not be started.
	ErrLaunch = errors.New("launch error")
	// ErrCanceled means the run was canceled by the user between stages.
	ErrCanceled = errors.New("canceled")
)

// Exit codes reported by the launcher binaries.
const (
	ExitOK        = 0
	ExitUnknown   = 1
	ExitNetwork   = 2
	ExitSignature = 3
	ExitHash      = 4
	ExitIO        = 5
	ExitLaunch    = 6
	ExitCanceled  = 130
)

// Error is a pipeline failure of a specific kind.
type Error struct {
	// Kind is one of the sentinel errors of this package.
	Kind error
	// Op names the operation that failed, e.g. "fetch manifest".
	Op string
	// Artifact is the artifact name involved, if any.
	Artifact string
	// Expected is the declared value (e.g. hash), if applicable.
	Expected string
	// Actual is the observed value (e.g. hash), if applicable.
	Actual string
	// Err is the underlying cause.
	Err error
}

// Error renders the failure with all known context.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var b strings.Builder

	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}

	b.WriteString(kindText(e.Kind))

	if e.Artifact != "" {
		b.WriteString(" for ")
		b.WriteString(e.Artifact)
	}

	if e.Expected != "" || e.Actual != "" {
		fmt.Fprintf(&b, " (expected %s, got %s)", e.Expected, e.Actual)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}

	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}

	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

// KV returns the failure context as key-value pairs for structured logging.
func (e *Error) KV() []any {
	kvs := []any{"kind", kindText(e.Kind)}
	if e.Op != "" {
		kvs = append(kvs, "op", e.Op)
	}

	if e.Artifact != "" {
		kvs = append(kvs, "artifact", e.Artifact)
	}

	if e.Expected != "" {
		kvs = append(kvs, "expected", e.Expected)
	}

	if e.Actual != "" {
		kvs = append(kvs, "actual", e.Actual)
	}

	if e.Err != nil {
		kvs = append(kvs, "cause", e.Err.Error())
	}

	return kvs
}

// Network wraps a transport failure.
func Network(op string, err error) error {
	return &Error{Kind: ErrNetwork, Op: op, Err: err}
}

// Signature wraps an authenticity failure.
func Signature(op string, err error) error {
	return &Error{Kind: ErrSignatureInvalid, Op: op, Err: err}
}

// Mismatch reports a content hash mismatch for an artifact.
func Mismatch(artifact, expected, actual string) error {
	return &Error{
		Kind:     ErrHashMismatch,
		Op:       "verify artifact",
		Artifact: artifact,
		Expected: expected,
		Actual:   actual,
	}
}

// IO wraps a local filesystem failure.
func IO(op, artifact string, err error) error {
	return &Error{Kind: ErrIO, Op: op, Artifact: artifact, Err: err}
}

// Launch wraps a failure to start the verified artifacts.
func Launch(op string, err error) error {
	return &Error{Kind: ErrLaunch, Op: op, Err: err}
}

// Canceled reports that the run stopped because ctx was canceled.
func Canceled(op string, err error) error {
	return &Error{Kind: ErrCanceled, Op: op, Err: err}
}

// FromContext returns a Canceled failure when ctx is done, or nil otherwise.
func FromContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return Canceled(op, err)
	}

	return nil
}

// KindOf returns the sentinel kind of err, or nil if err is not a pipeline failure.
func KindOf(err error) error {
	for _, kind := range []error{ErrNetwork, ErrSignatureInvalid, ErrHashMismatch, ErrIO, ErrLaunch, ErrCanceled} {
		if errors.Is(err, kind) {
			return kind
		}
	}

	return nil
}

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	switch KindOf(err) {
	case ErrNetwork:
		return ExitNetwork
	case ErrSignatureInvalid:
		return ExitSignature
	case ErrHashMismatch:
		return ExitHash
	case ErrIO:
		return ExitIO
	case ErrLaunch:
		return ExitLaunch
	case ErrCanceled:
		return ExitCanceled
	default:
		return ExitUnknown
	}
}

func kindText(kind error) string {
	if kind == nil {
		return "failure"
	}

	return kind.Error()
}
