package envelope

import "time"

// Event kinds handled by this package.
const (
	KindLegacyDM = 4    // NIP-04 encrypted direct message
	KindSeal     = 13   // NIP-59 seal, signed by the true sender
	KindChat     = 14   // NIP-17 rumor, never independently signed
	KindGiftWrap = 1059 // NIP-59 outer wrap, signed by a one-time key
)

// Relay-list document kinds consumed for relay selection.
const (
	KindRelayList   = 10002 // NIP-65 general relay list
	KindDMRelayList = 10050 // NIP-17 DM inbox relay list
)

// MaxTimestampSkew is the bound within which senders randomize the
// created_at of seals and gift wraps for metadata privacy. Sync code must
// backfill past this bound or risk permanently missing messages.
const MaxTimestampSkew = 2 * 24 * time.Hour
