// Package token decodes the payload of compact signed tokens (header.payload.signature)
// without verifying the signature, and answers expiry questions about them.
package token
