package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/sells-group/lawdoc-cli/internal/model"
)

// retryable marks a failure as safe to repeat. status is the HTTP status
// that caused it, 0 when no response arrived.
type retryable struct {
	err    error
	status int
}

func (r *retryable) Error() string { return r.err.Error() }
func (r *retryable) Unwrap() error { return r.err }

// Retryable marks err as safe to retry.
func Retryable(err error, status int) error {
	return &retryable{err: err, status: status}
}

// StatusOf returns the HTTP status recorded by Retryable anywhere in err's
// chain, or 0.
func StatusOf(err error) int {
	var r *retryable
	if errors.As(err, &r) {
		return r.status
	}
	return 0
}

// Client-side messages of connection failures that carry no typed error.
var transientMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"no such host",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
}

// IsTransient reports whether err is worth retrying. A *model.StageError
// answers by its kind. Otherwise errors marked with Retryable, network
// timeouts, and refused or reset connections qualify.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var r *retryable
	if errors.As(err, &r) {
		return true
	}
	if se, ok := model.AsStageError(err); ok {
		return se.Kind == model.KindTransient
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		if errors.Is(err, errno) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// RetryableStatus reports whether an HTTP status signals a temporary
// server-side condition.
func RetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Classify returns err as a *model.StageError. Classified errors pass
// through; anything else gets code and a kind from IsTransient.
func Classify(code string, err error) *model.StageError {
	if err == nil {
		return nil
	}
	if se, ok := model.AsStageError(err); ok {
		return se
	}
	if IsTransient(err) {
		return model.TransientError(code, err)
	}
	return model.DataError(code, err)
}
