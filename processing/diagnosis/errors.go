package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"

	"plantdoctor/internal/models"
)

var (
	ErrNotConfigured = errors.New("diagnosis: analysis client not configured")
	ErrAuth          = errors.New("diagnosis: credential rejected")
	ErrRateLimit     = errors.New("diagnosis: rate limited")
	ErrNetwork       = errors.New("diagnosis: network error")
	ErrService       = errors.New("diagnosis: service error")
	ErrEncode        = errors.New("diagnosis: image encoding failed")
)

var kindSentinels = map[models.FailureKind]error{
	models.FailureNotConfigured: ErrNotConfigured,
	models.FailureAuth:          ErrAuth,
	models.FailureRateLimit:     ErrRateLimit,
	models.FailureNetwork:       ErrNetwork,
	models.FailureService:       ErrService,
	models.FailureEncode:        ErrEncode,
}

// Failure is a classified analysis error. errors.Is matches both the
// underlying cause and the sentinel for its Kind.
type Failure struct {
	Kind models.FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return kindSentinels[f.Kind].Error()
	}
	return fmt.Sprintf("%v: %v", kindSentinels[f.Kind], f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) Is(target error) bool {
	return kindSentinels[f.Kind] == target
}

func newFailure(kind models.FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// Classify maps an error from the remote boundary onto a failure kind.
func Classify(err error) models.FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classifyStatus(gerr.Code, gerr.Message+" "+gerr.Body)
	}

	var aerr *apierror.APIError
	if errors.As(err, &aerr) && aerr.HTTPCode() > 0 {
		return classifyStatus(aerr.HTTPCode(), aerr.Reason()+" "+aerr.Error())
	}

	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return models.FailureService
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.FailureNetwork
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return models.FailureNetwork
	}

	var uerr *url.Error
	if errors.As(err, &uerr) {
		return models.FailureNetwork
	}

	return models.FailureService
}

func classifyStatus(code int, detail string) models.FailureKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return models.FailureAuth
	case code == http.StatusTooManyRequests:
		return models.FailureRateLimit
	case code == http.StatusBadRequest && invalidKey(detail):
		// The Gemini API answers a bad key with 400 INVALID_ARGUMENT.
		return models.FailureAuth
	default:
		return models.FailureService
	}
}

func invalidKey(detail string) bool {
	d := strings.ToLower(detail)
	return strings.Contains(d, "api key not valid") || strings.Contains(d, "api_key_invalid")
}

// classify wraps err as a *Failure unless it already is one.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var f *Failure
	if errors.As(err, &f) {
		return err
	}

	return newFailure(Classify(err), err)
}
