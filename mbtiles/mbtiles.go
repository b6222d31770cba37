// Package mbtiles writes rendered tiles into an MBTiles 1.3 archive, a
// sqlite file with a metadata table and a tiles table in TMS row order.
package mbtiles

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-spatial/geom"
	_ "github.com/mattn/go-sqlite3"
)

// Tile is one finished tile addressed in XYZ order; the writer converts
// the row to the TMS order the format requires.
type Tile struct {
	Zoom int
	Col  int
	Row  int
	// Rows is the matrix height at this zoom, needed for the row flip.
	Rows int
	Data []byte
}

// Metadata fills the archive's metadata table.
type Metadata struct {
	Name        string
	Description string
	Format      string
	MinZoom     int
	MaxZoom     int
	Bounds      *geom.Extent
}

// Writer batches tiles into page-sized transactions.
type Writer struct {
	db       *sql.DB
	pagesize int
}

func NewWriter(file string, pagesize int) (*Writer, error) {
	if pagesize < 1 {
		return nil, fmt.Errorf("pagesize must be positive, got %d", pagesize)
	}
	db, err := sql.Open("sqlite3", file)
	if err != nil {
		return nil, fmt.Errorf("could not open mbtiles file %s: %w", file, err)
	}
	return &Writer{db: db, pagesize: pagesize}, nil
}

func (w *Writer) Close() error {
	return w.db.Close()
}

func (w *Writer) CreateSchema(meta Metadata) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS metadata (name TEXT, value TEXT);`,
		`CREATE TABLE IF NOT EXISTS tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row);`,
	}
	for _, statement := range statements {
		if _, err := w.db.Exec(statement); err != nil {
			return fmt.Errorf("could not create mbtiles schema: %w", err)
		}
	}
	return w.writeMetadata(meta)
}

func (w *Writer) writeMetadata(meta Metadata) error {
	format := meta.Format
	if format == "" {
		format = "png"
	}
	pairs := [][2]string{
		{"name", meta.Name},
		{"description", meta.Description},
		{"format", format},
		{"type", "overlay"},
		{"minzoom", strconv.Itoa(meta.MinZoom)},
		{"maxzoom", strconv.Itoa(meta.MaxZoom)},
	}
	if meta.Bounds != nil {
		bounds := []string{
			strconv.FormatFloat(meta.Bounds.MinX(), 'f', -1, 64),
			strconv.FormatFloat(meta.Bounds.MinY(), 'f', -1, 64),
			strconv.FormatFloat(meta.Bounds.MaxX(), 'f', -1, 64),
			strconv.FormatFloat(meta.Bounds.MaxY(), 'f', -1, 64),
		}
		pairs = append(pairs, [2]string{"bounds", strings.Join(bounds, ",")})
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("could not start a transaction: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO metadata (name, value) VALUES (?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("could not prepare a statement: %w", err)
	}
	for _, pair := range pairs {
		if _, err := stmt.Exec(pair[0], pair[1]); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("could not write metadata %s: %w", pair[0], err)
		}
	}
	stmt.Close()
	return tx.Commit()
}

// WriteTiles consumes the channel until it closes, committing a
// transaction per page. The first failed page aborts the run.
func (w *Writer) WriteTiles(tiles <-chan Tile) error {
	var page []Tile

	for {
		tile, hasMore := <-tiles
		if !hasMore {
			return w.writePage(page)
		}
		page = append(page, tile)

		if len(page)%w.pagesize == 0 {
			if err := w.writePage(page); err != nil {
				return err
			}
			page = nil
		}
	}
}

func (w *Writer) writePage(page []Tile) error {
	if len(page) == 0 {
		return nil
	}
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("could not start a transaction: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("could not prepare a statement: %w", err)
	}
	for _, tile := range page {
		tmsRow := tile.Rows - 1 - tile.Row
		if _, err := stmt.Exec(tile.Zoom, tile.Col, tmsRow, tile.Data); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("could not write tile %d/%d/%d: %w", tile.Zoom, tile.Col, tile.Row, err)
		}
	}
	stmt.Close()
	return tx.Commit()
}

// ReadTile fetches one tile back in XYZ addressing. Missing tiles return
// sql.ErrNoRows.
func (w *Writer) ReadTile(zoom, col, row, rows int) ([]byte, error) {
	var data []byte
	err := w.db.QueryRow(
		`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		zoom, col, rows-1-row,
	).Scan(&data)
	return data, err
}
