// Package auth keeps a short-lived provider access credential alive using a
// long-lived refresh credential.
//
// # Key Components
//
//   - Store: the refresh credential and the current access credential
//   - ClerkRefresher: exchanges the refresh credential at the identity provider
//     and classifies failures (expired_or_invalid, forbidden, rate_limited,
//     transient)
//   - Monitor: gates provider calls behind a usable credential, coalesces
//     concurrent refreshes and tracks the ok / degraded / reauth_required
//     health state
//   - Apply: the pure health fold the Monitor is built on
package auth
