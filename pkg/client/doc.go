// Package client provides a reusable HTTP client for the voice pipeline
// server.
//
// It covers the orchestrator upload endpoint, the built-in chat and command
// validation services, and the aggregated health probe.
package client
