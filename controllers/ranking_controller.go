package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"go_market_ranking/services/catalog"
	"go_market_ranking/services/ranking"
)

// RankingController serves ranking and instrument queries.
type RankingController struct {
	repo    *ranking.Repository
	catalog *catalog.Store
}

// NewRankingController creates a ranking controller.
func NewRankingController(repo *ranking.Repository, cat *catalog.Store) *RankingController {
	return &RankingController{repo: repo, catalog: cat}
}

// GetLatest returns the ranked table for the most recent stored date at or
// before the optional ?date=YYYY-MM-DD ceiling.
func (rc *RankingController) GetLatest(c *gin.Context) {
	rows, err := rc.repo.Latest(c.Query("date"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	date := ""
	if len(rows) > 0 {
		date = rows[0].Date
	}
	c.JSON(http.StatusOK, gin.H{
		"date":  date,
		"count": len(rows),
		"data":  rows,
	})
}

// GetHistory returns the stored score rows for one symbol, newest first.
func (rc *RankingController) GetHistory(c *gin.Context) {
	symbol := c.Param("symbol")
	limit := intQuery(c, "limit", 30)

	rows, err := rc.repo.History(symbol, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "bad_request",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"count":  len(rows),
		"data":   rows,
	})
}

// GetMovers returns the symbols whose rank moved the most over the lookback
// window for one metric.
func (rc *RankingController) GetMovers(c *gin.Context) {
	metric := c.DefaultQuery("metric", ranking.CompositeMetric)
	lookback := intQuery(c, "lookback_days", 5)
	minChange := intQuery(c, "min_change", 0)
	limit := intQuery(c, "limit", 50)
	direction := ranking.Direction(c.DefaultQuery("direction", string(ranking.DirectionAny)))

	movers, err := rc.repo.RankDelta(metric, lookback, minChange, direction, limit)
	if err != nil {
		var unknownErr *ranking.UnknownMetricError
		if errors.As(err, &unknownErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unknown_metric",
				"message": unknownErr.Error(),
				"allowed": unknownErr.Allowed,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "bad_request",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"metric":        metric,
		"lookback_days": lookback,
		"count":         len(movers),
		"data":          movers,
	})
}

// GetInstruments lists the tracked instrument universe.
func (rc *RankingController) GetInstruments(c *gin.Context) {
	instruments, err := rc.catalog.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(instruments),
		"data":  instruments,
	})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
