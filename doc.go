// Package tiercache implements a two-tier cache: a Local (in-process) tier
// and a Remote (network) tier behind one engine.
//
// Components:
//   - local.Backend: in-process map (local/ristretto by default, local/lru).
//     local.Store layers timeouts, sliding expiration, priorities, triggers
//     and eviction callbacks on top.
//   - provider.Provider: byte store with TTL for the Remote tier (Redis,
//     BigCache; provider/resilient adds retries and a circuit breaker).
//   - codec.Codec[V]: (de)serializes V <-> []byte for the Remote tier.
//
// Keys:
//
//	<PKG PATH>.<TYPE NAME>:<KEY>   - upper-cased, see package keys
//
// Every Local write captures the current invalidation epoch. ClearLocal
// moves to a new epoch, which expires all earlier Local entries at once
// without walking them. The Remote tier has no bulk invalidation.
//
// Usage:
//
//	h, _ := tiercache.New(tiercache.Options{Remote: redisProvider})
//	users := tiercache.Typed[User](h, nil) // JSON on the Remote tier
//	u, err := users.GetOrCreate(ctx, "42", func(ctx context.Context) (User, error) {
//	    return db.LoadUser(ctx, 42)
//	}, tiercache.WithTimeout(5*time.Minute))
//
// Backend failures are logged and masked by default: reads degrade to a
// miss and the factory result is returned uncached. Set ThrowOnFailure (or
// WithThrowOnFailure) to get *OpError instead. Factory errors are always
// returned.
package tiercache
