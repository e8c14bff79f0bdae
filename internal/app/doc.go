// Package app provides the Application Composition Layer for AppForge.
//
// # Architecture Role
//
// The app package sits above the infrastructure layers (config, database,
// cache, llm) and composes them into a running application. It is NOT a
// business logic layer - business logic belongs in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Main application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── user/           # Accounts, sessions and API keys
//	│   ├── conversation/   # Conversations, messages and flow context
//	│   └── module/         # Modules, schemas and UI definitions
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces (UserStore, ModuleStore, etc.)
//	│   ├── memory/         # In-memory implementation for testing
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic
//	│   ├── users/          # Signup, login sessions, API keys
//	│   ├── modules/        # Module lifecycle and dynamic tables
//	│   ├── chat/           # Intent handling and conversation flows
//	│   └── diagnostics/    # Database and host health reports
//	├── httpapi/            # HTTP API handlers and routing
//	├── ws/                 # Websocket hub for conversation events
//	├── system/             # Service lifecycle management
//	└── metrics/            # Application metrics
//
// # Responsibilities
//
// The app package is responsible for:
//
//   - Composing services from internal/app/services/ with their dependencies
//   - Defining storage interfaces that services depend on
//   - Providing domain models shared across services
//   - Exposing HTTP API endpoints for external access
//   - Managing application-level concerns (lifecycle, metrics)
//
// # Dependency Direction
//
// The dependency flow is:
//
//	cmd/appforge/
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           ├──► internal/app/storage/ (persistence)
//	      │           │
//	      │           └──► internal/llm/ (model providers)
//	      │
//	      ├──► internal/middleware/ (HTTP concerns)
//	      │
//	      └──► internal/scheduler/ (recurring jobs)
//
// # Example: Adding a New Domain
//
// When adding a new domain (e.g., "billing"):
//
//  1. Create domain models in internal/app/domain/billing/
//  2. Add storage interface to internal/app/storage/interfaces.go
//  3. Implement storage in internal/app/storage/postgres/ and memory/
//  4. Create service in internal/app/services/billing/service.go
//  5. Wire service in internal/app/application.go
//  6. Add HTTP handlers in internal/app/httpapi/
package app
