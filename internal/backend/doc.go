// Package backend manages the upstream directory servers the proxy balances
// across.
//
// A Backend owns a pool of upstream connections (Entries) together with the
// health state that decides whether new work may be sent to it: a
// consecutive failure counter, the end of the current backoff window and an
// operator controlled admin_down flag. Connections are established
// asynchronously through a DialFunc supplied by the server package; at most
// maxPendingDials dials run at once per backend, bounded by a weighted
// semaphore.
//
// # Selection
//
// Registry.Select reserves one operation slot on the best ready entry:
//
//  1. fewest operations currently assigned
//  2. lower configured priority
//  3. higher configured weight
//  4. configuration order of the backend, then dial order of the entry
//
// Weight never overrides load. Entries pinned to a client (bound-exclusive),
// backends in backoff and admin_down backends are never selected.
//
// # Backoff
//
// After n consecutive failures a backend is not used for
// min(max, base*2^(n-1)) plus up to a quarter of that as jitter. A
// successful dial resets the counter. A lost connection counts once no
// matter how many operations it carried.
//
// # Reload
//
// Registry.Apply keeps backends whose configuration is unchanged, starts new
// ones and drains removed or changed ones. Draining connections finish their
// operations before closing.
package backend
