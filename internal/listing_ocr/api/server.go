package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"listing-ocr/internal/listing_ocr/model"
	"listing-ocr/internal/listing_ocr/store"
)

// Server 只读查询接口，每次请求直接读落盘文件
type Server struct {
	ArtifactPath string
	Log          *zap.Logger
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", s.health)
	r.GET("/records", s.listRecords) // ?status=Complete&page=1&limit=20
	r.GET("/records/:id", s.getRecord)
	r.GET("/summary", s.summary)
	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) load(c *gin.Context) ([]model.ListingRecord, bool) {
	recs, err := store.ReadArtifact(s.ArtifactPath)
	if err != nil {
		if s.Log != nil {
			s.Log.Warn("Failed to read artifact", zap.String("path", s.ArtifactPath), zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ItemID < recs[j].ItemID })
	return recs, true
}

func (s *Server) listRecords(c *gin.Context) {
	var status model.Status
	if v := c.Query("status"); v != "" {
		status = model.Status(v)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + v})
			return
		}
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	recs, ok := s.load(c)
	if !ok {
		return
	}
	all := recs
	if status != "" {
		all = make([]model.ListingRecord, 0, len(recs))
		for _, r := range recs {
			if r.Status == status {
				all = append(all, r)
			}
		}
	}

	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	c.JSON(http.StatusOK, gin.H{
		"total": len(all),
		"data":  all[start:end],
		"page":  page,
		"limit": limit,
	})
}

func (s *Server) getRecord(c *gin.Context) {
	recs, ok := s.load(c)
	if !ok {
		return
	}
	id := c.Param("id")
	for _, r := range recs {
		if r.ItemID == id {
			c.JSON(http.StatusOK, r)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
}

func (s *Server) summary(c *gin.Context) {
	recs, ok := s.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, model.Tally(recs))
}
