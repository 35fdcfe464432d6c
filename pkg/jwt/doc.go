// Package jwt implements HS256 token generation, validation and HTTP
// middleware for authenticating API requests from the mobile clients. The
// middleware extracts the Bearer token, verifies it and exposes the subject
// (user ID) through the request context.
package jwt
