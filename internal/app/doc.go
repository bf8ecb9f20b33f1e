// Package app composes the coordinator from its parts and manages their
// lifecycle.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── participant/    # Registered UTXOs and their pool state
//	│   ├── queue/          # Per-(token, amount) waiting queues
//	│   └── room/           # Shuffle rooms and the round state machine
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic
//	│   ├── queue/          # Registration, matching, and withdrawal
//	│   ├── rooms/          # Round progression, timeouts, settlement
//	│   └── tokens/         # Signed per-round credentials
//	├── httpapi/            # HTTP handlers and routing
//	├── system/             # Service lifecycle management
//	└── metrics/            # Prometheus collectors
//
// Services hold the business rules and depend only on the storage
// interfaces. The app package wires them together; cmd/coordinator builds
// the concrete stores and chain clients and hands them in.
package app
