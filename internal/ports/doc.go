// Package ports defines the interfaces that connect the delivery reliability
// layer to the outside world.
//
// The delivery layer depends only on [Transport]; concrete implementations
// (websocket, in-memory fakes for tests) live in internal/adapters.
package ports
