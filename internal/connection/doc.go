// Package connection owns the dev server's single connection to the
// inspector backend.
//
// The Manager:
//   - Starts establishing the connection on the first Get, never earlier
//   - Shares that one establishment with every concurrent and later caller
//   - Primes the backend with one detached getPayload once connected
//   - Keeps a failed establishment (FailPermanently) or replaces it on the
//     next Get (RetryOnFailure)
package connection
