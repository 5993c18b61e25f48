// Package middleware holds the HTTP interceptor chain: request logging,
// bearer-token identity, and request auditing. Interceptors are explicit
// and ordered; there is no implicit registration.
package middleware

import "net/http"

// Interceptor wraps an http.Handler.
type Interceptor func(http.Handler) http.Handler

// Chain applies interceptors in the order given: the first interceptor is
// the outermost, seeing the request first and the response last.
func Chain(h http.Handler, interceptors ...Interceptor) http.Handler {
	for i := len(interceptors) - 1; i >= 0; i-- {
		h = interceptors[i](h)
	}
	return h
}
