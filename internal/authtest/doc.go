// Package authtest is an in-process authentication backend speaking the
// dashboard's auth HTTP contract. It backs tests and the local demo server.
//
// Access tokens are HS256 tokens carrying userId, email, role, exp and iat.
// The refresh credential is an opaque HttpOnly "refreshToken" cookie that is
// rotated on every refresh. Failures and latency can be injected per path.
package authtest
