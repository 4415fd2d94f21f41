// Package relayvault provides a durable single-blob JSON store and a delivery
// reliability layer for push messaging.
//
// Example usage:
//
//	st, err := relayvault.OpenStore(relayvault.StoreOptions{
//	    DataFile: "/srv/contest/data.json",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	state, err := st.Load(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := st.Save(ctx, newState, "entry_submit")
//	if err != nil || !res.Success {
//	    // the write is not durable; keep serving the prior state
//	}
package relayvault

import (
	"github.com/bft-labs/relayvault/internal/config"
	"github.com/bft-labs/relayvault/internal/delivery"
	"github.com/bft-labs/relayvault/internal/ports"
	"github.com/bft-labs/relayvault/internal/store"
)

// Config holds the full tuning surface for both subsystems.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = config.Config

// DefaultConfig returns a Config with sensible default values.
// At minimum, set DataDir before use.
func DefaultConfig() Config {
	return config.DefaultConfig()
}

// Store is the write-ahead-logged, backup-protected persistence engine.
type Store = store.Store

// StoreOptions configures OpenStore.
type StoreOptions = store.Options

// TxResult reports one Save outcome.
type TxResult = store.TxResult

// StoreMetrics is the store's read-only observability view.
type StoreMetrics = store.Metrics

// OpenStore validates opts and opens the durable store.
func OpenStore(opts StoreOptions) (*Store, error) {
	return store.Open(opts)
}

// Delivery is the connection-liveness and message-durability layer.
type Delivery = delivery.Layer

// DeliveryOptions configures NewDelivery.
type DeliveryOptions = delivery.Options

// SendOptions tunes one Queue or Broadcast call.
type SendOptions = delivery.SendOptions

// Transport is the push primitive the delivery layer drives.
type Transport = ports.Transport

// NewDelivery validates opts and builds a delivery layer bound to transport.
func NewDelivery(transport Transport, opts DeliveryOptions) (*Delivery, error) {
	return delivery.New(transport, opts)
}
