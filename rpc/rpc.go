// Package rpc exposes the region server's client data-path operations and
// administrative surface over HTTP+JSON via gin, with swagger docs mounted
// the way the teacher's rest_api package does. The RPC transport is
// explicitly unspecified by the operation semantics this package implements
// (get/openScanner/next/close/batchUpdate/deleteAll plus region
// listing/compact/split); HTTP+JSON is simply the teacher's own choice of
// concrete transport, reused here. There is no getRow route: get reads one
// column of a row.
package rpc

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/lease"
	"github.com/sharedcode/regionserver/region"
	"github.com/sharedcode/regionserver/registry"
	"github.com/sharedcode/regionserver/scan"
)

// Router wires the client and administrative route groups onto a gin engine.
type Router struct {
	reg    *registry.Registry
	leases *lease.Manager
}

// New returns a Router over reg (the region lookup table) and leases (the
// scanner lease manager backing openScanner/next/close).
func New(reg *registry.Registry, leases *lease.Manager) *Router {
	return &Router{reg: reg, leases: leases}
}

// Mount registers every route under /api/v1 plus the /swagger/*any doc endpoint.
func (rt *Router) Mount(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.GET("/regions/:name/rows/:row", rt.handleGet)
		v1.POST("/regions/:name/scanners", rt.handleOpenScanner)
		v1.POST("/regions/:name/scanners/:id/next", rt.handleScannerNext)
		v1.DELETE("/regions/:name/scanners/:id", rt.handleScannerClose)
		v1.POST("/regions/:name/batch", rt.handleBatchUpdate)
		v1.POST("/regions/:name/rows/:row/deleteall", rt.handleDeleteAll)

		v1.GET("/regions", rt.handleListRegions)
		v1.GET("/regions/:name", rt.handleGetRegionInfo)
		v1.POST("/regions/:name/compact", rt.handleCompact)
		v1.POST("/regions/:name/split", rt.handleSplit)
	}
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))
}

func (rt *Router) lookup(c *gin.Context) (*region.Region, bool) {
	name := c.Param("name")
	reg, err := rt.reg.Lookup(c.Request.Context(), name, true)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	r, ok := reg.(*region.Region)
	if !ok {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"message": "region handle has unexpected type"})
		return nil, false
	}
	return r, true
}

// handleGet godoc
// @Summary Get returns the newest version of one column.
// @Tags Regions
// @Produce json
// @Param name path string true "region name"
// @Param row path string true "base64-encoded row key"
// @Param column query string true "family:qualifier"
// @Success 200 {object} rs.Cell
// @Failure 404 {object} map[string]any
// @Router /regions/{name}/rows/{row} [get]
func (rt *Router) handleGet(c *gin.Context) {
	r, ok := rt.lookup(c)
	if !ok {
		return
	}
	row, err := decodeRow(c.Param("row"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	column := c.Query("column")
	if versions := c.Query("versions"); versions != "" {
		n, _ := strconv.Atoi(versions)
		cells, err := r.GetFull(c.Request.Context(), row, column, n)
		if err != nil {
			writeError(c, err)
			return
		}
		c.IndentedJSON(http.StatusOK, cells)
		return
	}
	cell, err := r.Get(c.Request.Context(), row, column)
	if err != nil {
		writeError(c, err)
		return
	}
	if cell == nil {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "not found"})
		return
	}
	c.IndentedJSON(http.StatusOK, cell)
}

type scanRequest struct {
	StartRow   string   `json:"start_row"`
	EndRow     string   `json:"end_row"`
	Families   []string `json:"families"`
	Versions   int      `json:"versions"`
	LeaseTTLMs int64    `json:"lease_ttl_ms"`
	// Filters are CEL expressions over the "cell" variable (see scan.NewFilter);
	// a cell must satisfy every filter to be returned by the scanner.
	Filters []string `json:"filters"`
}

// handleOpenScanner godoc
// @Summary OpenScanner opens a merged-read cursor over a row range.
// @Tags Regions
// @Accept json
// @Produce json
// @Param name path string true "region name"
// @Success 200 {object} map[string]any
// @Router /regions/{name}/scanners [post]
func (rt *Router) handleOpenScanner(c *gin.Context) {
	r, ok := rt.lookup(c)
	if !ok {
		return
	}
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	startRow, _ := decodeRow(req.StartRow)
	endRow, _ := decodeRow(req.EndRow)

	filters := make([]*scan.Filter, 0, len(req.Filters))
	for _, expr := range req.Filters {
		f, err := scan.NewFilter(expr)
		if err != nil {
			c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		filters = append(filters, f)
	}

	scanner, err := r.Scanner(c.Request.Context(), startRow, endRow, req.Families, req.Versions, filters)
	if err != nil {
		writeError(c, err)
		return
	}
	id := rt.leases.Grant(scanner, time.Duration(req.LeaseTTLMs)*time.Millisecond)
	c.IndentedJSON(http.StatusOK, gin.H{"scanner_id": id.String()})
}

// handleScannerNext godoc
// @Summary Next returns the next (row, column) version group from an open scanner.
// @Tags Regions
// @Produce json
// @Param name path string true "region name"
// @Param id path string true "scanner id"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /regions/{name}/scanners/{id}/next [post]
func (rt *Router) handleScannerNext(c *gin.Context) {
	id, err := rs.ParseUUID(c.Param("id"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	cursor, err := rt.leases.Renew(id)
	if err != nil {
		writeError(c, err)
		return
	}
	scanner, ok := cursor.(*region.Scanner)
	if !ok {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"message": "lease holds unexpected cursor type"})
		return
	}
	cells, more, err := scanner.Next()
	if err != nil {
		writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"cells": cells, "more": more})
}

// handleScannerClose godoc
// @Summary Close releases an open scanner's lease.
// @Tags Regions
// @Param name path string true "region name"
// @Param id path string true "scanner id"
// @Success 204
// @Router /regions/{name}/scanners/{id} [delete]
func (rt *Router) handleScannerClose(c *gin.Context) {
	id, err := rs.ParseUUID(c.Param("id"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if err := rt.leases.Release(id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type batchEdit struct {
	Row    string `json:"row"`
	Column string `json:"column"`
	Ts     int64  `json:"ts"`
	Value  string `json:"value"`
	Delete bool   `json:"delete"`
}

type batchRequest struct {
	Edits []batchEdit `json:"edits"`
}

// handleBatchUpdate godoc
// @Summary BatchUpdate applies a set of puts/deletes as one row-locked commit per row.
// @Tags Regions
// @Accept json
// @Param name path string true "region name"
// @Success 200 {object} map[string]any
// @Router /regions/{name}/batch [post]
func (rt *Router) handleBatchUpdate(c *gin.Context) {
	r, ok := rt.lookup(c)
	if !ok {
		return
	}
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	ctx := c.Request.Context()
	byRow := make(map[string][]batchEdit)
	var order []string
	for _, e := range req.Edits {
		if _, seen := byRow[e.Row]; !seen {
			order = append(order, e.Row)
		}
		byRow[e.Row] = append(byRow[e.Row], e)
	}

	applied := 0
	for _, rowKey := range order {
		row, err := decodeRow(rowKey)
		if err != nil {
			continue
		}
		lockID, err := r.StartUpdate(ctx, row)
		if err != nil {
			writeError(c, err)
			return
		}
		failed := false
		for _, e := range byRow[rowKey] {
			if e.Delete {
				err = r.Delete(ctx, lockID, e.Column, e.Ts)
			} else {
				value, _ := base64.StdEncoding.DecodeString(e.Value)
				err = r.Put(ctx, lockID, e.Column, e.Ts, value)
			}
			if err != nil {
				failed = true
				break
			}
		}
		if failed {
			_ = r.Abort(ctx, lockID)
			continue
		}
		if err := r.Commit(ctx, lockID); err != nil {
			writeError(c, err)
			return
		}
		applied += len(byRow[rowKey])
	}
	c.IndentedJSON(http.StatusOK, gin.H{"applied": applied})
}

// handleDeleteAll godoc
// @Summary DeleteAll tombstones every qualifier of a family at row.
// @Tags Regions
// @Param name path string true "region name"
// @Param row path string true "base64-encoded row key"
// @Success 200
// @Router /regions/{name}/rows/{row}/deleteall [post]
func (rt *Router) handleDeleteAll(c *gin.Context) {
	r, ok := rt.lookup(c)
	if !ok {
		return
	}
	row, err := decodeRow(c.Param("row"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	family := c.Query("family")
	ts, _ := strconv.ParseInt(c.Query("ts"), 10, 64)

	ctx := c.Request.Context()
	lockID, err := r.StartUpdate(ctx, row)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := r.DeleteAll(ctx, lockID, family, ts); err != nil {
		_ = r.Abort(ctx, lockID)
		writeError(c, err)
		return
	}
	if err := r.Commit(ctx, lockID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// handleListRegions godoc
// @Summary ListRegions returns every currently online region's descriptor.
// @Tags Admin
// @Produce json
// @Success 200 {object} []rs.RegionInfo
// @Router /regions [get]
func (rt *Router) handleListRegions(c *gin.Context) {
	snapshot := rt.reg.Snapshot()
	infos := make([]rs.RegionInfo, 0, len(snapshot))
	for _, reg := range snapshot {
		infos = append(infos, reg.Info())
	}
	c.IndentedJSON(http.StatusOK, infos)
}

// handleGetRegionInfo godoc
// @Summary GetRegionInfo returns one region's descriptor.
// @Tags Admin
// @Produce json
// @Param name path string true "region name"
// @Success 200 {object} rs.RegionInfo
// @Router /regions/{name} [get]
func (rt *Router) handleGetRegionInfo(c *gin.Context) {
	r, ok := rt.lookup(c)
	if !ok {
		return
	}
	c.IndentedJSON(http.StatusOK, r.Info())
}

// handleCompact godoc
// @Summary Compact triggers an out-of-band compaction of a region's store files.
// @Tags Admin
// @Param name path string true "region name"
// @Success 202
// @Router /regions/{name}/compact [post]
func (rt *Router) handleCompact(c *gin.Context) {
	r, ok := rt.lookup(c)
	if !ok {
		return
	}
	filesPerRun, _ := strconv.Atoi(c.Query("files"))
	if err := r.Compact(c.Request.Context(), filesPerRun); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// handleSplit godoc
// @Summary Split splits a region at the given row key into two children.
// @Tags Admin
// @Param name path string true "region name"
// @Success 200 {object} map[string]any
// @Router /regions/{name}/split [post]
func (rt *Router) handleSplit(c *gin.Context) {
	r, ok := rt.lookup(c)
	if !ok {
		return
	}
	splitKey, err := decodeRow(c.Query("split_key"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	left, right, leftRefs, rightRefs, err := r.CloseAndSplit(c.Request.Context(), splitKey)
	if err != nil {
		writeError(c, err)
		return
	}
	// The caller (master/client) persists left/leftRefs and right/rightRefs
	// into the catalog's new child rows (catalog.Row.ParentRefs); this server
	// only knows how to close and slice itself, not how the catalog is reached.
	c.IndentedJSON(http.StatusOK, gin.H{
		"left": left, "left_refs": leftRefs,
		"right": right, "right_refs": rightRefs,
	})
}

func decodeRow(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

func writeError(c *gin.Context, err error) {
	rsErr, ok := err.(rs.Error)
	if !ok {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch rsErr.Code {
	case rs.NotServingRegion, rs.UnknownScanner, rs.UnknownLock:
		status = http.StatusNotFound
	case rs.TableNotDisabled, rs.RegionServerRunning:
		status = http.StatusConflict
	case rs.LeaseExpired:
		status = http.StatusGone
	}
	c.IndentedJSON(status, gin.H{"code": rsErr.Code.String(), "message": rsErr.Error()})
}
