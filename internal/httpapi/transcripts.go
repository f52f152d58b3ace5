package httpapi

import (
	"errors"
	"net/http"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/transcripts"

	"github.com/gin-gonic/gin"
)

// ListTranscripts returns recent transcripts, or matches when ?search= is given.
func (h Handlers) ListTranscripts(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	var (
		list []transcripts.Detail
		err  error
	)
	if term := c.Query("search"); term != "" {
		list, err = h.Transcripts.Search(c.Request.Context(), term, limit)
	} else {
		list, err = h.Transcripts.List(c.Request.Context(), limit)
	}
	if err != nil {
		internalError(c, "transcript list failed", err)
		return
	}
	if list == nil {
		list = []transcripts.Detail{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(list), "transcripts": list})
}

func (h Handlers) GetTranscript(c *gin.Context) {
	d, err := h.Transcripts.Get(c.Request.Context(), c.Param("call_id"))
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Transcript not found"})
		return
	case err != nil:
		internalError(c, "transcript lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h Handlers) TranscriptSummary(c *gin.Context) {
	sum, err := h.Transcripts.Summary(c.Request.Context())
	if err != nil {
		internalError(c, "transcript summary failed", err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h Handlers) ReportSummary(c *gin.Context) {
	d, err := h.Reports.Dashboard(c.Request.Context())
	if err != nil {
		internalError(c, "report summary failed", err)
		return
	}
	c.JSON(http.StatusOK, d)
}
