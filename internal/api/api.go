// Package api exposes an engine.Store over HTTP. Every endpoint is a POST
// whose body carries the arguments and whose response is JSON.
package api

import (
	"net/http"

	"github.com/celerix-dev/celerix-tablecrypt/pkg/engine"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/schema"
	"github.com/gin-gonic/gin"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// CreateTableRequest is the body of POST /api/tables.
type CreateTableRequest struct {
	Schema *schema.TableSchema   `json:"schema" binding:"required"`
	Mode   schema.EncryptionMode `json:"mode"`
}

// ListRecordsRequest is the body of POST /api/tables/:table/records/list.
type ListRecordsRequest struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

type Handler struct {
	Store engine.Store
}

// Register mounts all endpoints under /api.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/api")
	g.POST("/tables", h.CreateTable)
	g.POST("/tables/list", h.ListTables)
	g.POST("/tables/:table/get", h.GetTable)
	g.POST("/tables/:table/delete", h.DeleteTable)

	g.POST("/tables/:table/records", h.CreateRecord)
	g.POST("/tables/:table/records/list", h.ListRecords)
	g.POST("/tables/:table/records/search", h.SearchRecords)
	g.POST("/tables/:table/records/restore", h.RestoreRecord)
	g.POST("/tables/:table/records/:record/get", h.GetRecord)
	g.POST("/tables/:table/records/:record/update", h.UpdateRecord)
	g.POST("/tables/:table/records/:record/fields/:field/update", h.UpdateField)
	g.POST("/tables/:table/records/:record/delete", h.DeleteRecord)
}

// status maps an error kind to an HTTP status code.
func status(err error) int {
	switch {
	case errors.Is(errors.NotExist, err):
		return http.StatusNotFound
	case errors.Is(errors.Exists, err):
		return http.StatusConflict
	case errors.Is(errors.Invalid, err):
		return http.StatusBadRequest
	case errors.Is(errors.Precondition, err):
		return http.StatusPreconditionFailed
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	code := status(err)
	if code == http.StatusInternalServerError {
		log.Error.Printf("api: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func (h *Handler) CreateTable(c *gin.Context) {
	var req CreateTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := h.Store.CreateTable(req.Schema, req.Mode)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) ListTables(c *gin.Context) {
	ids, err := h.Store.ListTables()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ids)
}

func (h *Handler) GetTable(c *gin.Context) {
	s, err := h.Store.GetTable(c.Param("table"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) DeleteTable(c *gin.Context) {
	if err := h.Store.DeleteTable(c.Param("table")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) CreateRecord(c *gin.Context) {
	var p schema.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := h.Store.CreateRecord(c.Param("table"), &p)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) ListRecords(c *gin.Context) {
	var req ListRecordsRequest
	// An empty body lists the first page.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	page, err := h.Store.ListRecords(c.Param("table"), req.Offset, req.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) SearchRecords(c *gin.Context) {
	var q schema.Query
	if err := c.ShouldBindJSON(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	recs, err := h.Store.SearchRecords(c.Param("table"), q)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h *Handler) RestoreRecord(c *gin.Context) {
	var rec schema.StoredRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Store.RestoreRecord(c.Param("table"), &rec); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) GetRecord(c *gin.Context) {
	r, err := h.Store.GetRecord(c.Param("table"), c.Param("record"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) UpdateRecord(c *gin.Context) {
	var p schema.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := h.Store.UpdateRecord(c.Param("table"), c.Param("record"), &p)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) UpdateField(c *gin.Context) {
	var p schema.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := h.Store.UpdateField(c.Param("table"), c.Param("record"), c.Param("field"), &p)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteRecord(c *gin.Context) {
	if err := h.Store.DeleteRecord(c.Param("table"), c.Param("record")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
