package daemon

import (
	"github.com/tarekazabou/sentineld/internal/dispatcher"
	"github.com/tarekazabou/sentineld/internal/store"
)

// storeAdapter repacks dispatcher.NetworkEventRecord into
// store.NetworkEventRecord so *store.Store can satisfy
// dispatcher.Persister without the two packages importing each other.
// Every other method is promoted unchanged from the embedded *store.Store.
type storeAdapter struct {
	*store.Store
}

func (a *storeAdapter) AddNetworkEvent(r dispatcher.NetworkEventRecord) error {
	return a.Store.AddNetworkEvent(store.NetworkEventRecord{
		PID: r.PID, Kind: r.Kind, RemoteAddress: r.RemoteAddress,
		RemotePort: r.RemotePort, LocalPort: r.LocalPort, BytesUploaded: r.BytesUploaded,
	})
}
