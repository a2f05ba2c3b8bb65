// Package app composes the gateway's services into a running application.
//
// The package wires the payment core (internal/payment), the chain
// broadcaster (internal/chain), and the domain services into one lifecycle:
//
//	internal/app/
//	├── application.go      # wiring and lifecycle
//	├── domain/             # domain models (pure data structures)
//	├── storage/            # store interfaces, memory/postgres/redis backends
//	├── services/           # payments, stations, sessions, chat, generation
//	├── httpapi/            # public REST + WebSocket API
//	├── metrics/            # Prometheus collectors
//	└── system/             # service lifecycle manager
//
// Business rules live in the services; handlers translate HTTP to service
// calls and storage backends stay swappable behind the interfaces in
// internal/app/storage.
package app
