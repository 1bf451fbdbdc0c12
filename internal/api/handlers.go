package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/stateindex/internal/historical"
	"github.com/roach88/stateindex/internal/queryir"
	"github.com/roach88/stateindex/internal/search"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", queryir.ErrMalformedBody, err)
	}
	return body, nil
}

func (s *Server) handleSearch(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	req, err := queryir.ParseSearchRequest(body)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	params, err := historical.ParseParams(c.Request.URL.Query())
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	res, err := s.searcher.Search(c.Request.Context(), req, params)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, SearchResponse{
		Entries:     newDataEntries(res.Entries),
		HasNextPage: res.HasNextPage,
	})
}

func (s *Server) handleEntries(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	var req EntriesRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.abortWithError(c, fmt.Errorf("%w: %v", queryir.ErrMalformedBody, err))
		return
	}
	if req.AddressKeyPairs == nil {
		s.abortWithError(c, queryir.NewMissingParameter(search.ParamPairs))
		return
	}

	params, err := historical.ParseParams(c.Request.URL.Query())
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	found, err := s.searcher.Get(c.Request.Context(), req.AddressKeyPairs, params)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	resp := EntriesResponse{Entries: make([]*DataEntry, len(found))}
	for i, e := range found {
		if e == nil {
			continue
		}
		de := newDataEntry(*e)
		resp.Entries[i] = &de
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.pinger.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
