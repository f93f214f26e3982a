// Package health reports whether the command path is usable: the AMQP
// connection (BrokerChecker), the broker node itself through its management
// port (ManagementProbe) and the configuration version reported by workers
// (VersionCheck).
//
// A Monitor weighs the checks by role: only broker checks can make the
// report unhealthy. Handler serves the report as JSON.
package health
