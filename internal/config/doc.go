// Package config loads, validates, and watches the driftwatch daemon's
// YAML configuration.
//
// Loading goes through the Provider interface; the shipped
// implementation reads a YAML file from disk, but anything that can
// produce a *Config fits.
//
// # Configuration Structure
//
// The file has four sections:
//
//	socket:
//	  path: /var/run/driftwatchd.socket   # Unix domain socket path
//	resolver:
//	  transport: https                    # https or plain
//	  endpoint: https://cloudflare-dns.com/dns-query
//	  plain_address: 1.1.1.1:53           # used by the plain transport
//	  timeout: 5s                         # Timeout for lookups
//	storage:
//	  path: ~/.driftwatch/state.db        # bbolt state database
//	notifications:
//	  ttl: 10m                            # How long notifications stay readable
//	  max: 200                            # Notification buffer cap
//
// # Basic Usage
//
// Load configuration using the default path (~/.driftwatch/config.yaml):
//
//	provider := config.New()
//	cfg, err := provider.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Load configuration from a specific path:
//
//	provider := config.NewWithPath(filesys.OS(), "/etc/driftwatch/config.yaml")
//	cfg, err := provider.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Configuration Validation
//
// Load rejects files where any of these fail:
//   - Socket path must not be empty
//   - Resolver transport must be https or plain
//   - The https transport requires an endpoint, the plain transport a resolver address
//   - Resolver timeout must be at least 1 second
//   - Storage path must not be empty
//   - Notification TTL and limit must be positive
//
// # Default Configuration
//
// Without a configuration file the daemon runs with:
//   - Socket Path: /var/run/driftwatchd.socket
//   - Resolver: https via cloudflare-dns.com, 5 second timeout
//   - Storage Path: ~/.driftwatch/state.db
//   - Notifications: 10 minute TTL, 200 entries
//
// # Hot Reload
//
// A Watcher can monitor the configuration file and hand reloaded
// configurations to a callback:
//
//	w, err := config.NewWatcher(provider, path, func(cfg *config.Config) error {
//		return apply(cfg)
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	go w.Run(ctx)
//
// # Thread Safety
//
// Load may be called from any goroutine, and the Watcher does so. A
// loaded *Config is never mutated afterwards; consumers wanting newer
// values load again rather than editing the struct in place.
//
// # Error Handling
//
// Two sentinel errors classify failures:
//   - ErrInvalidConfig: the file parsed but failed validation
//   - ErrNoConfig: no file at the path (Load converts this to defaults)
package config
