package models

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func TestArtifactRecord_CreateAndList(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, CreateArtifactRecord(db, &ArtifactRecord{
		SessionID: "s1", ShotIndex: 2, URL: "https://cdn/2.mp4",
		Provenance: RecordMetadata{Prompt: "frog sips", References: []string{"https://cdn/frame-2.png"}},
	}))
	require.NoError(t, CreateArtifactRecord(db, &ArtifactRecord{SessionID: "s1", ShotIndex: 1, URL: "https://cdn/1.mp4"}))
	require.NoError(t, CreateArtifactRecord(db, &ArtifactRecord{SessionID: "other", ShotIndex: 1, URL: "x"}))

	got, err := ListArtifactRecords(db, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].ShotIndex)
	assert.Equal(t, 2, got[1].ShotIndex)
	assert.Equal(t, ArtifactKindClip, got[1].Kind)
	assert.Equal(t, "frog sips", got[1].Provenance.Prompt)
	assert.Equal(t, []string{"https://cdn/frame-2.png"}, got[1].Provenance.References)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestRecordMetadata_Scan(t *testing.T) {
	var m RecordMetadata
	require.NoError(t, m.Scan([]byte(`{"prompt":"p"}`)))
	assert.Equal(t, "p", m.Prompt)
	require.NoError(t, m.Scan(`{"references":["a"]}`))
	assert.Equal(t, []string{"a"}, m.References)
	require.NoError(t, m.Scan(nil))
	assert.Error(t, m.Scan(42))
}
