package storage

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNamespace(name string) *types.Namespace {
	return &types.Namespace{
		ID:             "id-" + name,
		Name:           name,
		SchemaKind:     types.SchemaKindStandalone,
		State:          types.NamespaceStateActive,
		CreationParams: json.RawMessage(`{"shared_schema":false}`),
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
}

// storeFactories lets every backend run the same behavioral tests
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"bolt": func() Store {
			s, err := NewBoltStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
	}
}

func TestStorePutGet(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()

			ns := newNamespace("foo")
			require.NoError(t, s.Put(ns))

			got, err := s.Get("foo")
			require.NoError(t, err)
			assert.Equal(t, "foo", got.Name)
			assert.Equal(t, types.NamespaceStateActive, got.State)
			assert.JSONEq(t, `{"shared_schema":false}`, string(got.CreationParams))
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()

			_, err := s.Get("ghost")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreNamesAreCaseSensitive(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()

			require.NoError(t, s.Put(newNamespace("Foo")))
			_, err := s.Get("foo")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStorePutOverwritesAndDelete(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()

			ns := newNamespace("foo")
			ns.State = types.NamespaceStateCreating
			require.NoError(t, s.Put(ns))

			ns.State = types.NamespaceStateActive
			require.NoError(t, s.Put(ns))

			got, err := s.Get("foo")
			require.NoError(t, err)
			assert.Equal(t, types.NamespaceStateActive, got.State)

			require.NoError(t, s.Delete("foo"))
			_, err = s.Get("foo")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting an absent key is not an error
			assert.NoError(t, s.Delete("foo"))
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()

			for _, n := range []string{"default", "foo", "bar"} {
				require.NoError(t, s.Put(newNamespace(n)))
			}

			list, err := s.List()
			require.NoError(t, err)

			names := make([]string, 0, len(list))
			for _, ns := range list {
				names = append(names, ns.Name)
			}
			sort.Strings(names)
			assert.Equal(t, []string{"bar", "default", "foo"}, names)
		})
	}
}

func TestStoreRejectsEmptyName(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()

			assert.Error(t, s.Put(&types.Namespace{}))
			assert.Error(t, s.Put(nil))
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put(newNamespace("foo")))

	got, err := s.Get("foo")
	require.NoError(t, err)
	got.State = types.NamespaceStateDeleting

	again, err := s.Get("foo")
	require.NoError(t, err)
	assert.Equal(t, types.NamespaceStateActive, again.State)
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")

	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(newNamespace("foo")))
	require.NoError(t, s.Close())

	reopened, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("foo")
	require.NoError(t, err)
	assert.Equal(t, "id-foo", got.ID)
}

func TestBoltStoreReplaceAll(t *testing.T) {
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(newNamespace("stale")))
	require.NoError(t, s.replaceAll([]*types.Namespace{newNamespace("fresh")}))

	_, err = s.Get("stale")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("fresh")
	assert.NoError(t, err)
}
