package crmsync_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/crmsync/internal/crmsync"
	"github.com/agentworkforce/crmsync/internal/store"
)

type remoteCall struct {
	Method string
	Action string
	Data   map[string]any
	Params map[string]any
}

// fakeClient scripts the CRM side of a test. The handler decides the
// response per call; every call is recorded.
type fakeClient struct {
	mu     sync.Mutex
	calls  []remoteCall
	handle func(call remoteCall) (map[string]any, error)
}

func (c *fakeClient) Request(_ context.Context, method, action string, data, params map[string]any) (map[string]any, error) {
	call := remoteCall{Method: method, Action: action, Data: data, Params: params}
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
	if c.handle == nil {
		return map[string]any{}, nil
	}
	return c.handle(call)
}

func (c *fakeClient) recorded() []remoteCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]remoteCall(nil), c.calls...)
}

type stubGeocoder struct {
	result *crmsync.Address
	err    error
}

func (g *stubGeocoder) Resolve(context.Context, string) (*crmsync.Address, error) {
	return g.result, g.err
}

type testEnv struct {
	store    *store.MemStore
	registry *crmsync.Registry
	events   *crmsync.Broadcaster
	client   *fakeClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	registry := crmsync.NewRegistry(crmsync.NewAddressNormalizer(&stubGeocoder{}, crmsync.Address{}))
	return &testEnv{
		store:    store.NewMemStore(registry, true),
		registry: registry,
		events:   crmsync.NewBroadcaster(16),
		client:   &fakeClient{},
	}
}

// seed stores a record without triggering sync tasks.
func (env *testEnv) seed(t *testing.T, rec crmsync.Record) {
	t.Helper()
	err := env.store.WithTx(context.Background(), func(tx crmsync.Tx) error {
		return tx.Save(context.Background(), rec, crmsync.SaveOptions{SkipSync: true})
	})
	require.NoError(t, err)
}

func (env *testEnv) load(t *testing.T, kind crmsync.Kind, rec crmsync.Record) crmsync.Record {
	t.Helper()
	var out crmsync.Record
	err := env.store.WithTx(context.Background(), func(tx crmsync.Tx) error {
		var err error
		out, err = tx.GetAny(context.Background(), kind, rec.Meta().ID)
		return err
	})
	require.NoError(t, err)
	return out
}
