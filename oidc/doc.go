// Package oidc exchanges user credentials for tokens at an OpenID Connect
// token endpoint using the resource owner password grant.
//
// Failures are reported as [*ResponseError] so that callers can classify them
// (no network, access denied, not found) without parsing error strings.
package oidc
