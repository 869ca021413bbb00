// Package aiproxy is a caching reverse proxy for OpenAI-compatible chat
// completion APIs. Non-streaming answers are cached by request fingerprint
// in memory (optionally persisted to disk) or Redis; streaming requests are
// piped through untouched. Traffic and token usage are tracked per model and
// exposed on a basic-auth admin surface.
package aiproxy
