package mbtiles

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T, pagesize int) *Writer {
	w, err := NewWriter(filepath.Join(t.TempDir(), "test.mbtiles"), pagesize)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestNewWriterRejectsBadPagesize(t *testing.T) {
	for _, pagesize := range []int{0, -1} {
		_, err := NewWriter(filepath.Join(t.TempDir(), "test.mbtiles"), pagesize)
		assert.Error(t, err)
	}
}

func TestCreateSchemaWritesMetadata(t *testing.T) {
	w := newTestWriter(t, 10)
	err := w.CreateSchema(Metadata{
		Name:    "ortho",
		MinZoom: 0,
		MaxZoom: 3,
		Bounds:  &geom.Extent{4.5, 52.0, 5.0, 52.5},
	})
	require.NoError(t, err)

	values := map[string]string{}
	rows, err := w.db.Query(`SELECT name, value FROM metadata`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var name, value string
		require.NoError(t, rows.Scan(&name, &value))
		values[name] = value
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, "ortho", values["name"])
	assert.Equal(t, "png", values["format"])
	assert.Equal(t, "3", values["maxzoom"])
	assert.Equal(t, "4.5,52,5,52.5", values["bounds"])
}

func TestWriteTilesPagesAndFlipsRows(t *testing.T) {
	w := newTestWriter(t, 2)
	require.NoError(t, w.CreateSchema(Metadata{Name: "ortho"}))

	tiles := make(chan Tile)
	done := make(chan error)
	go func() { done <- w.WriteTiles(tiles) }()
	for col := 0; col < 3; col++ {
		tiles <- Tile{Zoom: 1, Col: col, Row: 0, Rows: 2, Data: []byte{byte(col)}}
	}
	close(tiles)
	require.NoError(t, <-done)

	// row 0 of a 2-row matrix lands on TMS row 1
	var stored int
	require.NoError(t, w.db.QueryRow(`SELECT tile_row FROM tiles WHERE tile_column = 1`).Scan(&stored))
	assert.Equal(t, 1, stored)

	data, err := w.ReadTile(1, 2, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, data)
}

func TestReadTileMissing(t *testing.T) {
	w := newTestWriter(t, 2)
	require.NoError(t, w.CreateSchema(Metadata{Name: "ortho"}))

	_, err := w.ReadTile(0, 0, 0, 1)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestWriteTilesReplacesDuplicates(t *testing.T) {
	w := newTestWriter(t, 10)
	require.NoError(t, w.CreateSchema(Metadata{Name: "ortho"}))

	for _, payload := range [][]byte{{1}, {2}} {
		tiles := make(chan Tile, 1)
		tiles <- Tile{Zoom: 0, Col: 0, Row: 0, Rows: 1, Data: payload}
		close(tiles)
		require.NoError(t, w.WriteTiles(tiles))
	}

	data, err := w.ReadTile(0, 0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, data)
}
