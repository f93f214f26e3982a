// Package gateway serves the command client over HTTP.
//
//	POST /instructions     publish the XML instruction in the body
//	POST /ask/{category}   publish and wait; 504 when the replies did not all arrive
//	GET  /healthz          health report
//	GET  /metrics          command metrics
package gateway
