// Package config loads relay configuration.
//
// Values come from, in increasing precedence: built-in defaults, a
// relay.yaml / relay.yml / relay.json file, variables from a .env file,
// RELAY_* environment variables, and finally command line flags applied
// by cmd/relay.
//
// # Configuration File Structure
//
//	server:
//	  address: ":8080"
//	  max_message_size: 1048576
//	  heartbeat_interval: 30s
//	  allowed_origins: ["app.example.com"]
//	registry:
//	  max_rooms: 1000
//	  idle_cutoff: 1h
//	  grace_period: 30s
//	  persist_interval: 30s
//	store:
//	  driver: sqlite
//	  dsn: file:relay.db
//	log:
//	  level: info
//	  format: json
//
// # Usage
//
//	cfg, err := config.Load(".", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config
