package tiercache

import "github.com/unkn0wn-root/tiercache/local"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	Hit(tier Tier, key string)
	Miss(tier Tier, key string)

	// A Local entry left the store. Runs inside the store's eviction path.
	LocalEvicted(key string, reason local.Reason)

	// The Local backend refused a write (admission policy / pressure).
	LocalSetRejected(key string)

	// A tier operation failed. Called whether or not the failure is masked.
	BackendError(tier Tier, op, key string, err error)

	// An undecodable entry was deleted on read.
	// reason ∈ {"corrupt", "type_mismatch", "value_decode"}
	SelfHeal(tier Tier, key, reason string)

	// ClearLocal installed a new epoch.
	LocalCleared(epoch uint64)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Hit(Tier, string)                         {}
func (NopHooks) Miss(Tier, string)                        {}
func (NopHooks) LocalEvicted(string, local.Reason)        {}
func (NopHooks) LocalSetRejected(string)                  {}
func (NopHooks) BackendError(Tier, string, string, error) {}
func (NopHooks) SelfHeal(Tier, string, string)            {}
func (NopHooks) LocalCleared(uint64)                      {}
