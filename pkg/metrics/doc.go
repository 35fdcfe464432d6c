// Package metrics tracks subscription health in two layers: Prometheus
// counters for the request path and a Collector that derives business
// figures (active subscriptions, recurring revenue, trial conversion, churn)
// from the entitlement state store on demand.
package metrics
