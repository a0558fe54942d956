package kv

// Bucket layout for the pinner state store. Offers are keyed by big-endian
// slot id; claims reuse the slot id key which gives the one-claim-per-slot
// constraint for free. Tracked pins use a cid|pinner composite key, and
// tracked-pin rows are additionally reachable by cid hash through the
// cidHashIndexBucket so PINNED/UNPIN events can be resolved without a scan.
var (
	metadataBucket           = []byte("metadata")
	offersBucket             = []byte("offers")
	claimsBucket             = []byte("claims")
	pinsBucket               = []byte("pins")
	activityBucket           = []byte("activity")
	trackedCIDsBucket        = []byte("tracked-cids")
	trackedPinsBucket        = []byte("tracked-pins")
	verificationLogBucket    = []byte("verification-log")
	verificationCyclesBucket = []byte("verification-cycles")
	flagHistoryBucket        = []byte("flag-history")
	pinnerCacheBucket        = []byte("pinner-cache")

	// Indices buckets.
	cidHashIndexBucket = []byte("cid-hash-index")

	// Metadata keys.
	cursorKey       = []byte("cursor")
	daemonConfigKey = []byte("daemon-config")
)
