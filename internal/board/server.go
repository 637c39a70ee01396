// Package board serves a read-only HTTP view over the artifacts a run
// leaves behind: scalar event files and checkpoints.
package board

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/classnets/classnets/ckpt"
	"github.com/classnets/classnets/internal/observability"
	"github.com/classnets/classnets/tblog"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrTagNotFound = errors.New("tag not found")
)

// Workspace points the board at a run's artifact directories.
type Workspace struct {
	TBLogdir string
	CkptDir  string
}

type Board struct {
	ID       string    `json:"id"`
	Addr     string    `json:"addr"`
	Appeared time.Time `json:"appeared"`

	ws     Workspace
	store  *ckpt.Store
	router *gin.Engine
}

func Appear(id, addr string, corsOrigins []string, ws Workspace) *Board {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetrics(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Board{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		ws:       ws,
		store:    &ckpt.Store{Root: ws.CkptDir},
		router:   r,
	}
}

func (b *Board) HTTPRouter() *gin.Engine {
	return b.router
}

func (b *Board) RegisterRoutes() {
	b.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(b.Appeared).String(),
			"service": b.ID,
			"version": "0.0.1",
		})
	})

	b.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	b.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(b.Appeared).String(),
			"service": b.ID,
			"version": "0.0.1",
		})
	})

	b.router.GET("/runs", func(c *gin.Context) {
		runs, err := b.ListRuns()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	})

	b.router.GET("/runs/:run/scalars", func(c *gin.Context) {
		run := c.Param("run")
		scalars, err := b.ReadRunScalars(run, c.Query("tag"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrTagNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"run": run, "scalars": scalars})
	})

	b.router.GET("/checkpoints", func(c *gin.Context) {
		entries, err := b.store.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"checkpoints": checkpointInfos(entries)})
	})

	b.router.GET("/checkpoints/best", func(c *gin.Context) {
		entry, ok, err := b.store.Best()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no best checkpoint"})
			return
		}
		c.JSON(http.StatusOK, checkpointInfo(entry))
	})
}

// ReadRunScalars loads the scalar history of one run, optionally filtered
// to a single tag.
func (b *Board) ReadRunScalars(run, tag string) (map[string][]tblog.Point, error) {
	start := time.Now()
	scalars, err := b.readRunScalars(run, tag)
	observability.RecordScalarRead(b.ID, run, time.Since(start), err == nil)
	if err != nil {
		log.Warn().
			Str("board", b.ID).
			Str("run", run).
			Str("tag", tag).
			Err(err).
			Msg("scalar read failed")
		return nil, err
	}
	log.Info().
		Str("board", b.ID).
		Str("run", run).
		Int("tags", len(scalars)).
		Msg("scalar read served")
	return scalars, nil
}

func (b *Board) readRunScalars(run, tag string) (map[string][]tblog.Point, error) {
	if run == "" || run != filepath.Base(run) || strings.HasPrefix(run, ".") {
		return nil, ErrRunNotFound
	}
	dir := filepath.Join(b.ws.TBLogdir, run)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, ErrRunNotFound
	}
	scalars, err := tblog.ReadScalars(dir)
	if err != nil {
		return nil, err
	}
	if tag == "" {
		return scalars, nil
	}
	points, ok := scalars[tag]
	if !ok {
		return nil, ErrTagNotFound
	}
	return map[string][]tblog.Point{tag: points}, nil
}

// RunInfo is one row of the run listing.
type RunInfo struct {
	Name       string `json:"name"`
	EventFiles int    `json:"event_files"`
}

// ListRuns enumerates the run directories under the TensorBoard root. A
// missing root just means no runs yet.
func (b *Board) ListRuns() ([]RunInfo, error) {
	dirents, err := os.ReadDir(b.ws.TBLogdir)
	if errors.Is(err, os.ErrNotExist) {
		return []RunInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	runs := make([]RunInfo, 0, len(dirents))
	for _, de := range dirents {
		if !de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		events := 0
		if inner, err := os.ReadDir(filepath.Join(b.ws.TBLogdir, de.Name())); err == nil {
			for _, f := range inner {
				if strings.HasPrefix(f.Name(), "events.out.tfevents.") {
					events++
				}
			}
		}
		runs = append(runs, RunInfo{Name: de.Name(), EventFiles: events})
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Name < runs[j].Name
	})
	return runs, nil
}

// CheckpointInfo is the JSON view of one checkpoint entry.
type CheckpointInfo struct {
	Name        string  `json:"name"`
	Arch        string  `json:"arch"`
	Epoch       int     `json:"epoch"`
	Params      int     `json:"params"`
	ValAccuracy float64 `json:"val_accuracy,omitempty"`
	SavedAt     int64   `json:"saved_at"`
}

func checkpointInfo(e ckpt.Entry) CheckpointInfo {
	return CheckpointInfo{
		Name:        filepath.Base(e.Path),
		Arch:        e.Meta.Arch,
		Epoch:       e.Meta.Epoch,
		Params:      e.Meta.Params,
		ValAccuracy: e.Meta.ValAccuracy,
		SavedAt:     e.Meta.SavedAt,
	}
}

func checkpointInfos(entries []ckpt.Entry) []CheckpointInfo {
	infos := make([]CheckpointInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, checkpointInfo(e))
	}
	return infos
}

func (b *Board) Serve() error {
	b.RegisterRoutes()
	return b.router.Run(b.Addr)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
