// Package serve exposes a tile-set model over HTTP as an XYZ tile
// endpoint with JSON metadata and a style endpoint for display changes.
package serve

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-spatial/geom"

	"github.com/felipecarrillo100/geotifftilesetmodel/model"
	"github.com/felipecarrillo100/geotifftilesetmodel/raster"
	"github.com/felipecarrillo100/geotifftilesetmodel/render"
)

type Server struct {
	model     *model.TileSetModel
	startTime time.Time
	version   string
}

func NewServer(m *model.TileSetModel, version string) *Server {
	return &Server{model: m, startTime: time.Now(), version: version}
}

// Router builds the HTTP routes with logging, panic recovery and a
// request timeout.
func (s *Server) Router(timeout time.Duration) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", s.GetHealth)
	r.Get("/metadata", s.GetMetadata)
	r.Post("/style", s.PostStyle)
	r.Get("/tiles/{z}/{x}/{y}.png", s.GetTile)
	return r
}

type healthResponse struct {
	Status     string `json:"status"`
	Uptime     int    `json:"uptime"`
	Version    string `json:"version"`
	Generation uint64 `json:"generation"`
}

func (s *Server) GetHealth(w http.ResponseWriter, _ *http.Request) {
	response := healthResponse{
		Status:     "healthy",
		Uptime:     int(time.Since(s.startTime).Seconds()),
		Version:    s.version,
		Generation: s.model.Generation(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

type matrixResponse struct {
	Ordinal      int          `json:"ordinal"`
	TileWidth    int          `json:"tileWidth"`
	TileHeight   int          `json:"tileHeight"`
	MatrixWidth  int          `json:"matrixWidth"`
	MatrixHeight int          `json:"matrixHeight"`
	Extent       *geom.Extent `json:"extent"`
}

type metadataResponse struct {
	Generation uint64           `json:"generation"`
	Matrices   []matrixResponse `json:"matrices"`
}

// GetMetadata describes the tile grid per zoom level, coarsest first.
func (s *Server) GetMetadata(w http.ResponseWriter, _ *http.Request) {
	set := s.model.Matrices()
	response := metadataResponse{Generation: s.model.Generation()}
	for ordinal := 0; ordinal < set.Len(); ordinal++ {
		matrix, _ := set.ByOrdinal(ordinal)
		response.Matrices = append(response.Matrices, matrixResponse{
			Ordinal:      matrix.Ordinal,
			TileWidth:    matrix.TileWidth,
			TileHeight:   matrix.TileHeight,
			MatrixWidth:  matrix.MatrixWidth,
			MatrixHeight: matrix.MatrixHeight,
			Extent:       matrix.Extent,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding metadata response: %v", err)
	}
}

// PostStyle applies a display-configuration document to the live model.
func (s *Server) PostStyle(w http.ResponseWriter, r *http.Request) {
	var style model.Style
	if err := json.NewDecoder(r.Body).Decode(&style); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_STYLE", err.Error())
		return
	}
	if err := s.model.ApplyStyle(&style); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "STYLE_REJECTED", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]uint64{"generation": s.model.Generation()})
}

// GetTile decodes and serves one tile as PNG. The z coordinate is the
// matrix ordinal, 0 = coarsest.
func (s *Server) GetTile(w http.ResponseWriter, r *http.Request) {
	addr, err := parseTileAddress(r)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_TILE_ADDRESS", err.Error())
		return
	}

	tile, err := s.model.GetTileData(r.Context(), addr)
	if err != nil {
		s.handleTileError(w, err)
		return
	}
	data, err := render.EncodePNG(tile)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "ENCODING_ERROR", err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("Error writing tile response: %v", err)
	}
}

func parseTileAddress(r *http.Request) (raster.Address, error) {
	var addr raster.Address
	var err error
	if addr.Level, err = strconv.Atoi(chi.URLParam(r, "z")); err != nil {
		return addr, err
	}
	if addr.Col, err = strconv.Atoi(chi.URLParam(r, "x")); err != nil {
		return addr, err
	}
	addr.Row, err = strconv.Atoi(chi.URLParam(r, "y"))
	return addr, err
}

func (s *Server) handleTileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrTileAddress):
		s.writeErrorResponse(w, http.StatusNotFound, "TILE_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrSourceRead):
		s.writeErrorResponse(w, http.StatusBadGateway, "SOURCE_READ_ERROR", err.Error())
	case errors.Is(err, raster.ErrUnsupportedFormat):
		s.writeErrorResponse(w, http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT", err.Error())
	default:
		s.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errorResponse{Error: errorCode, Message: message})
}
