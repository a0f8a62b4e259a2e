// Package embedder turns free-text queries into vectors for the embedding
// index.
//
// Catalog vectors arrive precomputed; the only runtime embedding is of the
// query text (or a synergy theme). Providers:
//   - jina, openai: OpenAI-compatible /v1/embeddings HTTP APIs with retry
//   - local: deterministic feature hashing, no network
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "local", CacheSize: 1000}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	vec, err := emb.Embed(ctx, "green ramp spells")
//
// # Failure Handling
//
// New wraps the provider in a Breaker. Transient HTTP failures are retried
// with exponential backoff; once retries are exhausted, or while the circuit
// is open, Embed returns an error matching errs.ErrServiceUnavailable. The
// search executor treats that as a signal to run in degraded mode.
//
// # Caching
//
// Vectors are cached in an LRU keyed by sha256(model, text); Get returns
// copies so callers may mutate results freely.
package embedder
