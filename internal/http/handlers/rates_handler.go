package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-staff-assistant/internal/domain"
	"github.com/tbourn/go-staff-assistant/internal/repo"
)

// RateReader reads stored exchange-rate observations. *repo.Store
// implements it.
type RateReader interface {
	LatestExchangeRate(ctx context.Context, currency string) (*domain.ExchangeRate, error)
}

// Rates serves the exchange rates collected by the rates job.
type Rates struct {
	store RateReader
}

// NewRates binds the rates endpoint to store.
func NewRates(store RateReader) *Rates { return &Rates{store: store} }

// Latest returns the newest stored rate for ?currency= (default USD).
func (h *Rates) Latest(c *gin.Context) {
	cur := strings.ToUpper(strings.TrimSpace(c.DefaultQuery("currency", "USD")))
	if len(cur) != 3 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "currency must be a 3-letter code")
		return
	}
	r, err := h.store.LatestExchangeRate(c.Request.Context(), cur)
	if errors.Is(err, repo.ErrNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no rate stored for "+cur)
		return
	}
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, r)
}
