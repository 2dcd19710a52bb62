package crmsync_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/crmsync/internal/crmapi"
	"github.com/agentworkforce/crmsync/internal/crmsync"
)

func newAccountResolver(env *testEnv) *crmsync.AccountResolver {
	return crmsync.NewAccountResolver(env.store, env.client, env.registry, env.events, nil, "", "")
}

func categoriesResponse(names ...string) map[string]any {
	list := make([]any, 0, len(names))
	for _, name := range names {
		list = append(list, map[string]any{"name": name})
	}
	return map[string]any{"list": list}
}

func accountHandler(account map[string]any, categories map[string]any) func(remoteCall) (map[string]any, error) {
	return func(call remoteCall) (map[string]any, error) {
		switch {
		case call.Method == http.MethodGet && call.Action == "Account/acc-1/accountCategories":
			return categories, nil
		case call.Method == http.MethodGet && call.Action == "Account/acc-1":
			return account, nil
		default:
			return map[string]any{}, nil
		}
	}
}

func TestResolveCreatesShelterAndClinic(t *testing.T) {
	env := newTestEnv(t)
	owner := newUser("ann")
	owner.RemoteID = "crm-owner-1"
	env.seed(t, owner)

	env.client.handle = accountHandler(map[string]any{
		"name":            "Paws & Claws",
		"platformShelter": true,
		"ownerId":         "crm-owner-1",
	}, categoriesResponse(crmsync.DefaultShelterCategory, crmsync.DefaultClinicCategory))

	require.NoError(t, newAccountResolver(env).Resolve(context.Background(), "acc-1"))

	err := env.store.WithTx(context.Background(), func(tx crmsync.Tx) error {
		shelter, err := tx.GetByRemoteID(context.Background(), crmsync.KindShelter, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, "Paws & Claws", shelter.(*crmsync.Shelter).Name)
		assert.Equal(t, owner.ID, shelter.(*crmsync.Shelter).OwnerID)

		clinic, err := tx.GetByRemoteID(context.Background(), crmsync.KindClinic, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, "Paws & Claws", clinic.(*crmsync.Clinic).Name)
		return nil
	})
	require.NoError(t, err)
}

func TestResolveShelterNeedsPlatformFlag(t *testing.T) {
	env := newTestEnv(t)
	env.client.handle = accountHandler(map[string]any{
		"name": "Paws",
	}, categoriesResponse(crmsync.DefaultShelterCategory))

	err := newAccountResolver(env).Resolve(context.Background(), "acc-1")
	require.Error(t, err)
	assert.True(t, crmsync.IsValidation(err))

	calls := env.client.recorded()
	last := calls[len(calls)-1]
	assert.Equal(t, http.MethodPatch, last.Method)
	assert.Equal(t, "Account/acc-1", last.Action)
	assert.NotEmpty(t, last.Params["syncFailed"])
}

func TestResolveUnrecognizedCategoriesFail(t *testing.T) {
	env := newTestEnv(t)
	env.client.handle = accountHandler(map[string]any{"name": "Misc"},
		categoriesResponse("supplier", "wholesale"))

	err := newAccountResolver(env).Resolve(context.Background(), "acc-1")
	require.Error(t, err)
	assert.True(t, crmsync.IsValidation(err))
}

func TestResolveEmptyCategoriesFail(t *testing.T) {
	env := newTestEnv(t)
	env.client.handle = accountHandler(map[string]any{"name": "Misc"}, categoriesResponse())

	err := newAccountResolver(env).Resolve(context.Background(), "acc-1")
	require.Error(t, err)
	assert.True(t, crmsync.IsValidation(err))
}

func TestResolveAccountGonePurgesBothKinds(t *testing.T) {
	env := newTestEnv(t)
	shelter := &crmsync.Shelter{Name: "Paws", OwnerID: uuid.New()}
	shelter.ID = uuid.New()
	shelter.RemoteID = "acc-1"
	env.seed(t, shelter)

	clinic := &crmsync.Clinic{Name: "Paws Vet"}
	clinic.ID = uuid.New()
	clinic.RemoteID = "acc-1"
	env.seed(t, clinic)

	env.client.handle = func(call remoteCall) (map[string]any, error) {
		return nil, crmapi.ErrRemoteNotFound
	}

	err := newAccountResolver(env).Resolve(context.Background(), "acc-1")
	require.ErrorIs(t, err, crmapi.ErrRemoteNotFound)

	err = env.store.WithTx(context.Background(), func(tx crmsync.Tx) error {
		if _, err := tx.GetAny(context.Background(), crmsync.KindShelter, shelter.ID); !assert.ErrorIs(t, err, crmsync.ErrNotFound) {
			return nil
		}
		_, err := tx.GetAny(context.Background(), crmsync.KindClinic, clinic.ID)
		assert.ErrorIs(t, err, crmsync.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	// A vanished account is control flow, not a failure to report.
	for _, call := range env.client.recorded() {
		assert.NotEqual(t, http.MethodPatch, call.Method)
	}
}

func TestResolveCategoriesGoneSkipsAnnotation(t *testing.T) {
	env := newTestEnv(t)
	env.client.handle = func(call remoteCall) (map[string]any, error) {
		if call.Action == "Account/acc-1/accountCategories" {
			return nil, crmapi.ErrRemoteNotFound
		}
		return map[string]any{"name": "Paws"}, nil
	}

	err := newAccountResolver(env).Resolve(context.Background(), "acc-1")
	require.ErrorIs(t, err, crmapi.ErrRemoteNotFound)

	for _, call := range env.client.recorded() {
		assert.NotEqual(t, http.MethodPatch, call.Method)
	}
}

func TestResolveMatchesClinicByLocalIDField(t *testing.T) {
	env := newTestEnv(t)
	clinic := &crmsync.Clinic{Name: "Old Name"}
	clinic.ID = uuid.New()
	env.seed(t, clinic)

	env.client.handle = accountHandler(map[string]any{
		"name":          "New Name",
		"clinicLocalId": clinic.ID.String(),
	}, categoriesResponse(crmsync.DefaultClinicCategory))

	require.NoError(t, newAccountResolver(env).Resolve(context.Background(), "acc-1"))

	stored := env.load(t, crmsync.KindClinic, clinic).(*crmsync.Clinic)
	assert.Equal(t, "acc-1", stored.RemoteID)
	assert.Equal(t, "New Name", stored.Name)
}

func TestResolveIgnoresShelterWhenFlagOffButClinicEligible(t *testing.T) {
	env := newTestEnv(t)
	env.client.handle = accountHandler(map[string]any{
		"name": "Vet Only",
	}, categoriesResponse(crmsync.DefaultShelterCategory, crmsync.DefaultClinicCategory))

	require.NoError(t, newAccountResolver(env).Resolve(context.Background(), "acc-1"))

	err := env.store.WithTx(context.Background(), func(tx crmsync.Tx) error {
		_, err := tx.GetByRemoteID(context.Background(), crmsync.KindShelter, "acc-1")
		assert.ErrorIs(t, err, crmsync.ErrNotFound)
		_, err = tx.GetByRemoteID(context.Background(), crmsync.KindClinic, "acc-1")
		assert.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
}
