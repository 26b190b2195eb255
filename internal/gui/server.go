package gui

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/born-ml/cellpose2onnx/internal/convert"
)

// Dialog levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Dialog is the result of a conversion as shown to the user.
type Dialog struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Entry is one directory listing row.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Dir  bool   `json:"dir"`
}

// Listing is the response of the browse endpoint.
type Listing struct {
	Path    string  `json:"path"`
	Parent  string  `json:"parent"`
	Entries []Entry `json:"entries"`
}

// Options holds the form defaults.
type Options struct {
	OutputDir string // Used when the output field is left empty
	BrowseDir string // Initial directory of the file browser
	Logger    logrus.FieldLogger
}

// Server is the conversion form.
type Server struct {
	svc    *convert.Service
	opts   Options
	logger logrus.FieldLogger

	// mu serializes conversions started from concurrent submissions.
	mu sync.Mutex

	engine *gin.Engine
}

// New creates the form server. Call gin.SetMode before New to change the
// gin mode.
func New(svc *convert.Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{svc: svc, opts: opts, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery(), s.logging())
	r.SetHTMLTemplate(template.Must(template.New("index").Parse(indexHTML)))
	r.GET("/", s.index)
	r.GET("/browse", s.browse)
	r.POST("/convert", s.startConversion)
	s.engine = r
	return s
}

// Handler returns the HTTP handler serving the form.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves the form on addr until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.WithField("addr", addr).Info("serving converter form")
	return srv.ListenAndServe()
}

func (s *Server) logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		s.logger.WithFields(logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"latency_ms": time.Since(start).Milliseconds(),
		}).Debug("request completed")
	}
}

func (s *Server) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index", gin.H{
		"OutputDir": s.opts.OutputDir,
		"BrowseDir": s.opts.BrowseDir,
	})
}

func (s *Server) browse(c *gin.Context) {
	dir := c.Query("path")
	if dir == "" {
		dir = s.opts.BrowseDir
	}
	if dir == "" {
		dir = "."
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	des, err := os.ReadDir(dir)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, os.ErrNotExist) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		entries = append(entries, Entry{
			Name: de.Name(),
			Path: filepath.Join(dir, de.Name()),
			Dir:  de.IsDir(),
		})
	}
	// Directories first, then by name.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Dir != entries[j].Dir {
			return entries[i].Dir
		}
		return entries[i].Name < entries[j].Name
	})

	c.JSON(http.StatusOK, Listing{Path: dir, Parent: filepath.Dir(dir), Entries: entries})
}

func (s *Server) startConversion(c *gin.Context) {
	req := convert.Request{
		ModelPath: c.PostForm("model_path"),
		OutputDir: c.PostForm("output_directory"),
	}
	if req.OutputDir == "" {
		req.OutputDir = s.opts.OutputDir
	}
	if req.ModelPath != "" {
		d, err := convert.ParseMeanDiameter(c.PostForm("mean_diameter"))
		if err != nil {
			c.JSON(http.StatusBadRequest, Dialog{Level: LevelError, Message: err.Error()})
			return
		}
		req.MeanDiameter = d
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	artifacts, err := s.svc.Run(req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, convert.ErrInvalidMeanDiameter) {
			status = http.StatusBadRequest
		}
		s.logger.WithError(err).Error("conversion failed")
		c.JSON(status, Dialog{Level: LevelError, Message: err.Error()})
		return
	}

	s.logger.WithField("artifacts", len(artifacts)).Info("conversion completed")
	c.JSON(http.StatusOK, Dialog{
		Level:   LevelInfo,
		Message: fmt.Sprintf("Output models are saved here: %s\nConversion completed.", req.OutputDir),
	})
}
