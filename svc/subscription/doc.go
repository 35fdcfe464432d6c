// Package subscription wires the entitlement domain into a running service:
// the HTTP API, the service facade that coordinates receipt validation and
// store notifications, and the state store implementations (in-memory and
// PostgreSQL).
package subscription
