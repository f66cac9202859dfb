// Package server exposes the final dataset read-only over HTTP for map and
// dashboard consumers.
package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/cluster"
	"github.com/sells-group/geocluster/internal/dataset"
	"github.com/sells-group/geocluster/internal/density"
	"github.com/sells-group/geocluster/internal/model"
)

// Server serves one clustered dataset file. The file is read per request,
// so a pipeline run can replace it underneath a running server.
type Server struct {
	datasetPath string
	thresholds  density.Thresholds
	origins     []string
}

// Option configures a Server.
type Option func(*Server)

// WithThresholds sets the thresholds used to band cluster summaries.
func WithThresholds(t density.Thresholds) Option {
	return func(s *Server) { s.thresholds = t }
}

// WithAllowedOrigins restricts CORS origins. The default allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// New creates a Server for the dataset at datasetPath.
func New(datasetPath string, opts ...Option) *Server {
	s := &Server{
		datasetPath: datasetPath,
		thresholds:  density.DefaultThresholds,
		origins:     []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/facilities.geojson", s.handleFacilities)
	r.Get("/clusters", s.handleClusters)
	r.Get("/clusters/{id}", s.handleCluster)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFacilities(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(s.datasetPath)
	if err != nil {
		s.datasetError(w, err)
		return
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		s.datasetError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	http.ServeContent(w, r, "facilities.geojson", info.ModTime(), f)
}

// clusterResponse is the body of GET /clusters.
type clusterResponse struct {
	Clusters     []density.Summary `json:"clusters"`
	Unclustered  int               `json:"unclustered"`
	Facilities   int               `json:"facilities"`
	DatasetMTime time.Time         `json:"dataset_mtime"`
}

func (s *Server) handleClusters(w http.ResponseWriter, _ *http.Request) {
	d, mtime, err := s.load()
	if err != nil {
		s.datasetError(w, err)
		return
	}

	res, unclustered := summarize(d.Rows)
	writeJSON(w, http.StatusOK, clusterResponse{
		Clusters:     density.Summaries(res, s.thresholds),
		Unclustered:  unclustered,
		Facilities:   len(res.Assignment),
		DatasetMTime: mtime,
	})
}

func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cluster id must be an integer"})
		return
	}

	d, _, err := s.load()
	if err != nil {
		s.datasetError(w, err)
		return
	}

	members := make([]model.ClusteredFacility, 0)
	for _, row := range d.Rows {
		if row.Cluster == id {
			members = append(members, row)
		}
	}
	if len(members) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "cluster not found"})
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) load() (*dataset.Dataset, time.Time, error) {
	info, err := os.Stat(s.datasetPath)
	if err != nil {
		return nil, time.Time{}, err
	}
	d, err := dataset.Read(s.datasetPath)
	if err != nil {
		return nil, time.Time{}, err
	}
	return d, info.ModTime().UTC(), nil
}

func (s *Server) datasetError(w http.ResponseWriter, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "dataset not found"})
		return
	}
	zap.L().Error("dataset unavailable", zap.String("component", "server"), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "dataset unavailable"})
}

// summarize rebuilds per-cluster counts and centroids from dataset rows,
// counting each facility id once.
func summarize(rows []model.ClusteredFacility) (*cluster.Result, int) {
	res := &cluster.Result{Assignment: make(map[string]int)}
	var unclustered int
	sums := make(map[int]*cluster.Point)

	for _, row := range rows {
		if _, seen := res.Assignment[row.ID]; seen {
			continue
		}
		res.Assignment[row.ID] = row.Cluster
		if row.Cluster == model.Unclustered {
			unclustered++
			continue
		}
		if row.Cluster+1 > res.K {
			res.K = row.Cluster + 1
		}
		if lat, lon, ok := row.Point(); ok {
			p := sums[row.Cluster]
			if p == nil {
				p = &cluster.Point{}
				sums[row.Cluster] = p
			}
			p.Lat += lat
			p.Lon += lon
		}
	}

	res.Counts = make([]int, res.K)
	res.Centroids = make([]cluster.Point, res.K)
	for _, c := range res.Assignment {
		if c != model.Unclustered {
			res.Counts[c]++
		}
	}
	for c, p := range sums {
		n := float64(res.Counts[c])
		res.Centroids[c] = cluster.Point{Lat: p.Lat / n, Lon: p.Lon / n}
	}
	return res, unclustered
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("request",
			zap.String("component", "server"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.String("component", "server"), zap.Error(err))
	}
}
