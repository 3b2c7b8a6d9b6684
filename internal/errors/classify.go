package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/dl-alexandre/cellsync/internal/logging"
	"github.com/dl-alexandre/cellsync/internal/utils"
	"github.com/minio/minio-go/v7"
)

// Kind is the recovery class of a remote failure
type Kind int

const (
	KindTransient Kind = iota
	KindAuthExpired
	KindUnsupportedObject
	KindNotFound
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindAuthExpired:
		return "auth_expired"
	case KindUnsupportedObject:
		return "unsupported_object"
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	default:
		return "transient"
	}
}

// Code maps a kind to its stable CLI error code
func (k Kind) Code() string {
	switch k {
	case KindAuthExpired:
		return utils.ErrCodeAuthExpired
	case KindUnsupportedObject:
		return utils.ErrCodeUnsupportedObject
	case KindNotFound:
		return utils.ErrCodeNotFound
	case KindInvalid:
		return utils.ErrCodeInvalidArgument
	default:
		return utils.ErrCodeNetworkError
	}
}

// Error is a classified remote failure
type Error struct {
	Kind   Kind
	Op     string
	Status int
	S3Code string
	Err    error
}

func (e *Error) Error() string {
	if e.S3Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Err, e.S3Code)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Op, e.Err, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, classifying raw object-store errors on the fly
func KindOf(err error) Kind {
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.Kind
	}
	return ClassifyObjectError("", err).Kind
}

// IsAuthExpired reports whether err requires a session refresh
func IsAuthExpired(err error) bool {
	return err != nil && KindOf(err) == KindAuthExpired
}

// IsUnsupported reports whether the server refused the object permanently
func IsUnsupported(err error) bool {
	return err != nil && KindOf(err) == KindUnsupportedObject
}

// ClassifyHTTPStatus maps a metadata API status code to a kind
func ClassifyHTTPStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthExpired
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusNotImplemented || status == http.StatusRequestEntityTooLarge:
		return KindUnsupportedObject
	case status == http.StatusTooManyRequests || status >= 500:
		return KindTransient
	case status >= 400:
		return KindInvalid
	default:
		return KindTransient
	}
}

// NewHTTPError wraps a metadata API failure with its classified kind
func NewHTTPError(op string, status int, err error) *Error {
	return &Error{Kind: ClassifyHTTPStatus(status), Op: op, Status: status, Err: err}
}

// ClassifyObjectError inspects an S3 error response
func ClassifyObjectError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified
	}
	out := &Error{Kind: KindTransient, Op: op, Err: err}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return out
	}
	resp := minio.ToErrorResponse(err)
	out.S3Code = resp.Code
	out.Status = resp.StatusCode
	switch resp.Code {
	case "AccessDenied", "ExpiredToken", "InvalidAccessKeyId", "SignatureDoesNotMatch", "TokenRefreshRequired":
		out.Kind = KindAuthExpired
		return out
	case "NotImplemented", "EntityTooLarge", "InvalidObjectName", "KeyTooLongError":
		out.Kind = KindUnsupportedObject
		return out
	case "NoSuchBucket", "NoSuchKey":
		out.Kind = KindNotFound
		return out
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		out.Kind = KindAuthExpired
	case http.StatusNotImplemented:
		out.Kind = KindUnsupportedObject
	}
	return out
}

// ToAppError converts err into an AppError carrying a stable code
func ToAppError(op string, err error, traceID string, logger logging.Logger) error {
	if err == nil {
		return nil
	}
	var appErr *utils.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var classified *Error
	if !stderrors.As(err, &classified) {
		classified = ClassifyObjectError(op, err)
	}
	retryable := classified.Kind == KindTransient || classified.Kind == KindAuthExpired
	code := classified.Kind.Code()
	if classified.Status == http.StatusTooManyRequests {
		code = utils.ErrCodeRateLimited
	}
	if stderrors.Is(err, context.Canceled) {
		code = utils.ErrCodeCancelled
		retryable = false
	}

	logger.Error("Remote error classified",
		logging.F("op", op),
		logging.F("httpStatus", classified.Status),
		logging.F("s3Code", classified.S3Code),
		logging.F("errorCode", code),
		logging.F("retryable", retryable),
		logging.F("traceId", traceID),
	)

	builder := utils.NewCLIError(code, err.Error()).
		WithHTTPStatus(classified.Status).
		WithS3Code(classified.S3Code).
		WithRetryable(retryable).
		WithContext("traceId", traceID).
		WithContext("op", op)

	switch code {
	case utils.ErrCodeAuthExpired:
		builder.WithContext("suggestedAction", "run 'cellsync login' to re-authenticate")
	case utils.ErrCodeNotFound:
		builder.WithContext("suggestedAction", "verify the remote path exists and is readable")
	case utils.ErrCodeRateLimited:
		builder.WithContext("suggestedAction", "rate limit exceeded, retrying with backoff")
	case utils.ErrCodeUnsupportedObject:
		builder.WithContext("suggestedAction", "the server refused this object; rename or skip it")
	}

	return utils.WrapAppError(builder.Build(), err)
}
