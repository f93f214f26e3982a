// Package monitor collects command metrics: commands sent, reply latency and
// failures (timeouts, correlation mismatches, unreadable replies, publish
// and reply queue errors) per instruction type.
package monitor
