package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/johan/oddsrelay/internal/types"
)

type eventsResponse struct {
	Success bool          `json:"success"`
	Count   int           `json:"count"`
	Events  []types.Event `json:"events"`
}

type eventResponse struct {
	Success bool        `json:"success"`
	Event   types.Event `json:"event"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, errorResponse{Success: false, Error: message})
}

// listEvents serves GET /api/events?isLive=true|false&sportId=N.
func (s *Server) listEvents(c *gin.Context) {
	var liveFilter *bool
	if v := strings.TrimSpace(c.Query("isLive")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail(c, http.StatusBadRequest, "isLive must be true or false")
			return
		}
		liveFilter = &b
	}

	sportID := 0
	if v := strings.TrimSpace(c.Query("sportId")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, "sportId must be a positive integer")
			return
		}
		sportID = n
	}

	events := make([]types.Event, 0)
	for _, ev := range s.store.All() {
		if liveFilter != nil && ev.IsLive() != *liveFilter {
			continue
		}
		if sportID != 0 && ev.SportID != sportID {
			continue
		}
		events = append(events, ev)
	}

	c.JSON(http.StatusOK, eventsResponse{
		Success: true,
		Count:   len(events),
		Events:  events,
	})
}

func (s *Server) getEvent(c *gin.Context) {
	ev, ok := s.store.Get(c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, "event not found")
		return
	}
	c.JSON(http.StatusOK, eventResponse{Success: true, Event: ev})
}
