package broker

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ValidationError reports a malformed request rejected before any network
// call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CapabilityError reports an operation the venue does not support.
type CapabilityError struct {
	Broker  string
	Feature string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Broker, e.Feature)
}

// LeverageError reports requested leverage above the venue ceiling.
type LeverageError struct {
	Broker    string
	Requested int
	Max       int
}

func (e *LeverageError) Error() string {
	return fmt.Sprintf("%s max leverage is %dx, you requested %dx", e.Broker, e.Max, e.Requested)
}

// UpstreamError wraps a venue API failure with its HTTP status and the
// venue-reported message.
type UpstreamError struct {
	Broker  string
	Status  int
	Code    int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s api error (status %d, code %d): %s", e.Broker, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s api error (status %d): %s", e.Broker, e.Status, e.Message)
}

// Auth reports whether the failure is a credential problem.
func (e *UpstreamError) Auth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// UnknownBrokerError is returned by the factory for unrecognized ids. The
// message lists valid identifiers so operator typos are self-correcting.
type UnknownBrokerError struct {
	ID    string
	Valid []string
}

func (e *UnknownBrokerError) Error() string {
	valid := append([]string(nil), e.Valid...)
	sort.Strings(valid)
	return fmt.Sprintf("unknown broker %q, valid brokers: %s", e.ID, strings.Join(valid, ", "))
}
