package view

import (
	"context"
	"sync/atomic"

	"github.com/DoyleJ11/davinci-client/internal/engine"
	"github.com/DoyleJ11/davinci-client/internal/roomstate"
)

type RoomFetcher interface {
	FetchRoom(ctx context.Context, roomID string) (engine.RoomSnapshot, error)
}

// Fetcher pulls the authoritative snapshot and hands it to the store. Each
// call takes a sequence number before the request goes out so the store can
// tell completion order from request order.
type Fetcher struct {
	api   RoomFetcher
	store *roomstate.Store
	seq   atomic.Uint64
}

func NewFetcher(api RoomFetcher, store *roomstate.Store) *Fetcher {
	return &Fetcher{api: api, store: store}
}

// Refresh fetches roomID under room epoch gen. Failures are returned
// unchanged and leave the store untouched.
func (f *Fetcher) Refresh(ctx context.Context, gen uint64, roomID string) (engine.RoomSnapshot, error) {
	seq := f.seq.Add(1)
	snap, err := f.api.FetchRoom(ctx, roomID)
	if err != nil {
		return engine.RoomSnapshot{}, err
	}
	f.store.Replace(ctx, gen, seq, snap)
	return snap, nil
}
