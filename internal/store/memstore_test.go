package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/crmsync/internal/crmsync"
)

func newMemStore(t *testing.T, syncEnabled bool) *MemStore {
	t.Helper()
	registry := crmsync.NewRegistry(crmsync.NewAddressNormalizer(nil, crmsync.Address{}))
	return NewMemStore(registry, syncEnabled)
}

func seedUser(t *testing.T, s *MemStore, name string) *crmsync.User {
	t.Helper()
	user := &crmsync.User{Name: name, Email: name + "@example.com", IsActive: true}
	user.ID = uuid.New()
	err := s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		return tx.Save(context.Background(), user, crmsync.SaveOptions{SkipSync: true})
	})
	require.NoError(t, err)
	s.TakeTasks()
	return user
}

func TestSaveEnqueuesPushTask(t *testing.T) {
	s := newMemStore(t, true)
	user := &crmsync.User{Name: "ann", IsActive: true}
	user.ID = uuid.New()

	err := s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		return tx.Save(context.Background(), user, crmsync.SaveOptions{})
	})
	require.NoError(t, err)

	tasks := s.TakeTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, crmsync.TaskPush, tasks[0].Type)
	assert.Equal(t, crmsync.KindUser, tasks[0].Kind)
	assert.Equal(t, user.ID, tasks[0].EntityID)
	assert.NotZero(t, tasks[0].ID)
}

func TestSaveSkipSyncEnqueuesNothing(t *testing.T) {
	s := newMemStore(t, true)
	seedUser(t, s, "ann")
	assert.Empty(t, s.TakeTasks())
}

func TestSaveSyncDisabledEnqueuesNothing(t *testing.T) {
	s := newMemStore(t, false)
	user := &crmsync.User{Name: "ann", IsActive: true}
	user.ID = uuid.New()

	err := s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		return tx.Save(context.Background(), user, crmsync.SaveOptions{})
	})
	require.NoError(t, err)
	assert.Empty(t, s.TakeTasks())
}

func TestSoftDeleteKeepsRowAndPushes(t *testing.T) {
	s := newMemStore(t, true)
	user := seedUser(t, s, "ann")

	err := s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		return tx.Delete(context.Background(), crmsync.KindUser, user.ID)
	})
	require.NoError(t, err)

	tasks := s.TakeTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, crmsync.TaskPush, tasks[0].Type)

	err = s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		if _, err := tx.Get(context.Background(), crmsync.KindUser, user.ID); !errors.Is(err, crmsync.ErrNotFound) {
			t.Errorf("Get should exclude soft-deleted rows, got %v", err)
		}
		rec, err := tx.GetAny(context.Background(), crmsync.KindUser, user.ID)
		require.NoError(t, err)
		assert.True(t, rec.Meta().IsDeleted())
		return nil
	})
	require.NoError(t, err)
}

func TestHardDeleteSnapshotsRemoteAction(t *testing.T) {
	s := newMemStore(t, true)
	post := &crmsync.Post{Title: "adopt me", PostType: crmsync.PostTypeAdoption}
	post.ID = uuid.New()
	post.RemoteID = "crm-4"
	err := s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		return tx.Save(context.Background(), post, crmsync.SaveOptions{SkipSync: true})
	})
	require.NoError(t, err)

	err = s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		return tx.Delete(context.Background(), crmsync.KindPost, post.ID)
	})
	require.NoError(t, err)

	tasks := s.TakeTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, crmsync.TaskDelete, tasks[0].Type)
	assert.Equal(t, "Post/crm-4", tasks[0].RemoteAction)

	err = s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		_, err := tx.GetAny(context.Background(), crmsync.KindPost, post.ID)
		assert.ErrorIs(t, err, crmsync.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestHardDeleteWithoutRemoteIDSkipsTask(t *testing.T) {
	s := newMemStore(t, true)
	post := &crmsync.Post{Title: "local only"}
	post.ID = uuid.New()
	err := s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		return tx.Save(context.Background(), post, crmsync.SaveOptions{SkipSync: true})
	})
	require.NoError(t, err)

	err = s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		return tx.Delete(context.Background(), crmsync.KindPost, post.ID)
	})
	require.NoError(t, err)
	assert.Empty(t, s.TakeTasks())
}

func TestDeletePolicyNonePurgesSilently(t *testing.T) {
	s := newMemStore(t, true)
	sched := &crmsync.Schedule{}
	sched.ID = uuid.New()
	sched.RemoteID = "crm-s1"
	err := s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		return tx.Save(context.Background(), sched, crmsync.SaveOptions{SkipSync: true})
	})
	require.NoError(t, err)

	err = s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		return tx.Delete(context.Background(), crmsync.KindSchedule, sched.ID)
	})
	require.NoError(t, err)
	assert.Empty(t, s.TakeTasks())

	err = s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		_, err := tx.GetAny(context.Background(), crmsync.KindSchedule, sched.ID)
		assert.ErrorIs(t, err, crmsync.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestRollbackDiscardsWritesTasksAndHooks(t *testing.T) {
	s := newMemStore(t, true)
	user := &crmsync.User{Name: "ann", IsActive: true}
	user.ID = uuid.New()
	boom := errors.New("boom")
	hookFired := false

	err := s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		tx.OnCommit(func() { hookFired = true })
		if err := tx.Save(context.Background(), user, crmsync.SaveOptions{}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.False(t, hookFired)
	assert.Empty(t, s.TakeTasks())
	err = s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		_, err := tx.GetAny(context.Background(), crmsync.KindUser, user.ID)
		assert.ErrorIs(t, err, crmsync.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestCommitHookFiresAfterApply(t *testing.T) {
	s := newMemStore(t, true)
	user := seedUser(t, s, "ann")

	var seen crmsync.Record
	err := s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		if err := tx.SetRemoteID(context.Background(), crmsync.KindUser, user.ID, "crm-1"); err != nil {
			return err
		}
		tx.OnCommit(func() {
			_ = s.WithTx(context.Background(), func(inner crmsync.Tx) error {
				rec, err := inner.GetByRemoteID(context.Background(), crmsync.KindUser, "crm-1")
				if err != nil {
					return err
				}
				seen = rec
				return nil
			})
		})
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, user.ID, seen.Meta().ID)
}

func TestTaskSinkReceivesCommittedTasks(t *testing.T) {
	queue := NewMemQueue(0)
	registry := crmsync.NewRegistry(crmsync.NewAddressNormalizer(nil, crmsync.Address{}))
	s := NewMemStore(registry, true).WithTaskSink(queue)

	user := &crmsync.User{Name: "ann", IsActive: true}
	user.ID = uuid.New()
	err := s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		return tx.Save(context.Background(), user, crmsync.SaveOptions{})
	})
	require.NoError(t, err)

	assert.Empty(t, s.TakeTasks())
	depth, err := queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestPurgeByRemoteIDToleratesMissingRow(t *testing.T) {
	s := newMemStore(t, true)
	err := s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		return tx.PurgeByRemoteID(context.Background(), crmsync.KindClinic, "ghost")
	})
	require.NoError(t, err)
}

func TestStagedWritesVisibleInsideTransaction(t *testing.T) {
	s := newMemStore(t, true)
	user := &crmsync.User{Name: "ann", IsActive: true}
	user.ID = uuid.New()
	user.RemoteID = "crm-9"

	err := s.WithTx(context.Background(), func(tx crmsync.Tx) error {
		if err := tx.Save(context.Background(), user, crmsync.SaveOptions{SkipSync: true}); err != nil {
			return err
		}
		rec, err := tx.GetByRemoteID(context.Background(), crmsync.KindUser, "crm-9")
		require.NoError(t, err)
		assert.Equal(t, "ann", rec.(*crmsync.User).Name)
		return nil
	})
	require.NoError(t, err)
}
