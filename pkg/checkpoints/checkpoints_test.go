// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	key := Key{RunID: "medal_logreg", ALIter: 3, Epoch: 12}
	assert.Equal(t, "medal_logreg/al_3_epoch_12", ActiveLearningName(key))
	assert.Equal(t, "medal_logreg/epoch_12", FeedForwardName(key))

	parsed, ok := ParseName("medal_logreg/al_3_epoch_12")
	require.True(t, ok)
	assert.Equal(t, key, parsed)
	parsed, ok = ParseName("baseline/epoch_7")
	require.True(t, ok)
	assert.Equal(t, Key{RunID: "baseline", Epoch: 7}, parsed)
	_, ok = ParseName("baseline/latest")
	assert.False(t, ok)

	assert.True(t, Key{ALIter: 2, Epoch: 9}.Less(Key{ALIter: 10, Epoch: 1}))
	assert.True(t, Key{ALIter: 2, Epoch: 1}.Less(Key{ALIter: 2, Epoch: 10}))
}

func testStoreRoundTrip(t *testing.T, store Store) {
	record := &Record{
		Name:  "medal_test/al_2_epoch_1",
		RunID: "medal_test",
		ID:    "id-1",
		Extra: map[string]any{
			"al_iter":    2,
			"epoch":      1,
			"is_labeled": []int{1, 0, 0, 1},
			"note":       "x",
			"empty":      []int{},
		},
		Blobs: map[string][]float64{
			"model/weights":   {0.5, -1.25, 3},
			"model/bias":      {0.125},
			"optimizer/empty": {},
		},
	}
	require.NoError(t, store.Save(record))

	loaded, err := store.Load(record.Name)
	require.NoError(t, err)
	assert.Equal(t, record.Name, loaded.Name)
	assert.Equal(t, record.ID, loaded.ID)
	assert.Equal(t, record.Extra, loaded.Extra)
	assert.Equal(t, record.Blobs, loaded.Blobs)

	_, err = store.Load("medal_test/al_9_epoch_9")
	assert.ErrorIs(t, err, ErrNotFound)

	names, err := store.List("medal_test")
	require.NoError(t, err)
	assert.Equal(t, []string{record.Name}, names)
	names, err = store.List("other_run")
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, store.Remove(record.Name))
	require.NoError(t, store.Remove(record.Name), "removing twice is fine")
	names, err = store.List("medal_test")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(afero.NewMemMapFs(), "/data/model_checkpoints")
	require.NoError(t, err)
	testStoreRoundTrip(t, store)
}

func TestLevelDBStore(t *testing.T) {
	store, err := OpenLevelDBStore(filepath.Join(t.TempDir(), "checkpoints.ldb"))
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()
	testStoreRoundTrip(t, store)
}

func TestHandler(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewFileStore(fs, "/ckpt")
	require.NoError(t, err)
	handler := NewHandler(store, ActiveLearningName).Keep(3)

	_, err = handler.Latest("medal_test")
	assert.ErrorIs(t, err, ErrNotFound)

	// Save in progress order, crossing the al_9 -> al_10 boundary that lexical ordering gets wrong.
	var keys []Key
	for _, alIter := range []int{9, 10} {
		for epoch := 1; epoch <= 3; epoch++ {
			key := Key{RunID: "medal_test", ALIter: alIter, Epoch: epoch}
			keys = append(keys, key)
			_, err = handler.Save(key, map[string]any{"al_iter": alIter, "epoch": epoch}, nil)
			require.NoError(t, err)
		}
	}
	names, err := handler.List("medal_test")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"medal_test/al_10_epoch_1", "medal_test/al_10_epoch_2", "medal_test/al_10_epoch_3",
	}, names)

	latest, err := handler.Latest("medal_test")
	require.NoError(t, err)
	assert.Equal(t, "medal_test/al_10_epoch_3", latest.Name)
	assert.Equal(t, 10, latest.Extra["al_iter"])
	assert.NotEmpty(t, latest.ID)

	// Files outside the naming scheme are ignored.
	require.NoError(t, afero.WriteFile(fs, "/ckpt/medal_test/notes.json", []byte("{}"), 0644))
	names, err = handler.List("medal_test")
	require.NoError(t, err)
	assert.Len(t, names, 3)
}
