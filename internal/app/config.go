package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	// SecretKey is the local identity (64-char hex or nsec). PublicKey (hex
	// or npub) selects read-only mode instead: sync and read work, sending
	// fails. Exactly one of the two must be set.
	SecretKey string
	PublicKey string

	// ArchivePath is the SQLite file for the durable archive. Empty selects
	// the in-memory archive: state does not survive a restart.
	ArchivePath string

	// Relays is the account's configured relay set; DiscoveryRelays is the
	// fallback union used when no relay lists are published.
	Relays          []string
	DiscoveryRelays []string

	QueryTimeout    time.Duration
	PageSize        int
	BackfillBuffer  time.Duration
	RefreshInterval time.Duration

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("MURMUR_HTTP_ADDR", "127.0.0.1:8990"),
		LogLevel:  EnvString("MURMUR_LOG_LEVEL", "info"),
		LogFormat: EnvString("MURMUR_LOG_FORMAT", "json"),

		SecretKey: EnvString("MURMUR_SECRET_KEY", ""),
		PublicKey: EnvString("MURMUR_PUBLIC_KEY", ""),

		ArchivePath: EnvString("MURMUR_ARCHIVE_PATH", "murmur.db"),

		Relays: EnvCSV("MURMUR_RELAYS", nil),
		DiscoveryRelays: EnvCSV("MURMUR_DISCOVERY_RELAYS", []string{
			"wss://relay.damus.io",
			"wss://nos.lol",
			"wss://relay.nostr.band",
		}),

		QueryTimeout:    EnvDuration("MURMUR_QUERY_TIMEOUT", 30*time.Second),
		PageSize:        EnvInt("MURMUR_PAGE_SIZE", 100),
		BackfillBuffer:  EnvDuration("MURMUR_BACKFILL_BUFFER", 72*time.Hour),
		RefreshInterval: EnvDuration("MURMUR_REFRESH_INTERVAL", 5*time.Minute),

		ReadHeaderTimeout: EnvDuration("MURMUR_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("MURMUR_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("MURMUR_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("MURMUR_HTTP_IDLE_TIMEOUT", 60*time.Second),
	}
}
