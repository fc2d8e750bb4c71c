// Package app composes the VeriTrace data reliability platform.
//
// # Architecture Role
//
// The app package wires domain services, storage and the HTTP surface
// into one Application and manages its lifecycle. Business logic lives
// in the service packages below it; app only composes them.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── ingest/         # Source files and descriptive statistics
//	│   ├── quality/        # Validation reports and issues
//	│   ├── anomaly/        # Detection results
//	│   ├── version/        # Commits and branches
//	│   ├── audit/          # Ledger records and verification
//	│   ├── dataset/        # Catalog entries
//	│   ├── pipeline/       # Runs and platform status
//	│   └── token/          # Users, service tokens, identities
//	├── frame/              # Columnar table loaded from source files
//	├── services/           # Business logic, one package per concern
//	│   ├── ingestion/      # CSV, JSON and XLSX loading
//	│   ├── quality/        # Rule-based validation
//	│   ├── anomaly/        # Z-score, IQR and MAD detection
//	│   ├── versioning/     # Simulated data version control
//	│   ├── ledger/         # Hash-chained audit ledger
//	│   ├── catalog/        # Dataset metadata catalog
//	│   ├── pipeline/       # Full-pipeline orchestration and scheduling
//	│   └── auth/           # Users, JWTs and API keys
//	├── storage/            # Store interfaces plus memory and postgres
//	├── cache/              # Optional redis cache for derived artifacts
//	├── httpapi/            # REST handlers and the request audit trail
//	├── metrics/            # Prometheus collectors
//	├── system/             # Service lifecycle manager
//	└── runtime/            # Config, listeners, middleware, shutdown
//
// # Dependency Direction
//
//	cmd/veritrace, cmd/veritrace-pipeline
//	      │
//	      ▼
//	internal/app/runtime (listeners, middleware, stores)
//	      │
//	      ▼
//	internal/app (composition)
//	      │
//	      ├──► internal/app/services/* (business logic)
//	      │           │
//	      │           └──► internal/app/domain/*, frame, storage
//	      │
//	      └──► internal/app/httpapi (REST surface)
//
// # Adding a New Domain
//
// When adding a new domain (e.g. "retention"):
//
//  1. Create domain models in internal/app/domain/retention/
//  2. Add a store interface to internal/app/storage/interfaces.go
//  3. Implement it in internal/app/storage/postgres/ and memory/
//  4. Create the service in internal/app/services/retention/
//  5. Wire the service in internal/app/application.go
//  6. Add routes and handlers in internal/app/httpapi/handler.go
package app
