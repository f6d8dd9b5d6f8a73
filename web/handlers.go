package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tripsync/ledger"
	"tripsync/trip"
)

type handlers struct {
	svc *trip.Service
}

type nameRequest struct {
	Name string `json:"name"`
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errBadBody, err))
		return false
	}
	return true
}

func (h *handlers) listMembers(c *gin.Context) {
	members, err := h.svc.Roster.Members(c.Request.Context(), IdentityFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *handlers) addMember(c *gin.Context) {
	var req nameRequest
	if !bindJSON(c, &req) {
		return
	}
	members, err := h.svc.Roster.AddMember(c.Request.Context(), IdentityFrom(c), req.Name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"members": members})
}

func (h *handlers) listExpenses(c *gin.Context) {
	expenses, err := h.svc.Expenses.List(c.Request.Context(), IdentityFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expenses": expenses})
}

func (h *handlers) addExpense(c *gin.Context) {
	var in ledger.ExpenseInput
	if !bindJSON(c, &in) {
		return
	}
	e, err := h.svc.Expenses.Add(c.Request.Context(), IdentityFrom(c), in)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *handlers) editExpense(c *gin.Context) {
	var in ledger.ExpenseInput
	if !bindJSON(c, &in) {
		return
	}
	e, err := h.svc.Expenses.Edit(c.Request.Context(), IdentityFrom(c), c.Param("id"), in)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *handlers) deleteExpense(c *gin.Context) {
	if err := h.svc.Expenses.Delete(c.Request.Context(), IdentityFrom(c), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) clearExpenses(c *gin.Context) {
	if err := h.svc.Expenses.Clear(c.Request.Context(), IdentityFrom(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) expenseForm(c *gin.Context) {
	in, err := h.svc.Expenses.EditForm(c.Request.Context(), IdentityFrom(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

type exportedDoc struct {
	Path      string          `json:"path"`
	Version   int64           `json:"version"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (h *handlers) export(c *gin.Context) {
	docs, err := h.svc.Export(c.Request.Context(), IdentityFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := make([]exportedDoc, 0, len(docs))
	for _, d := range docs {
		out = append(out, exportedDoc{Path: d.Path, Version: d.Version, Data: json.RawMessage(d.Data), UpdatedAt: d.UpdatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

type balancesResponse struct {
	Balances    ledger.Balances     `json:"balances"`
	Settlements []ledger.Settlement `json:"settlements"`
	Lines       []string            `json:"lines"`
	Total       float64             `json:"total"`
	Settled     bool                `json:"settled"`
}

func (h *handlers) balances(c *gin.Context) {
	sum, err := h.svc.Expenses.Summary(c.Request.Context(), IdentityFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	lines := make([]string, 0, len(sum.Settlements))
	for _, s := range sum.Settlements {
		lines = append(lines, s.String())
	}
	c.JSON(http.StatusOK, balancesResponse{
		Balances:    sum.Balances,
		Settlements: sum.Settlements,
		Lines:       lines,
		Total:       sum.Total,
		Settled:     sum.Settled,
	})
}

func (h *handlers) summary(c *gin.Context) {
	sum, err := h.svc.Expenses.LoadSummary(c.Request.Context(), IdentityFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *handlers) listSongs(c *gin.Context) {
	songs, err := h.svc.Playlist.Songs(c.Request.Context(), c.Param("tripID"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"songs": songs, "votePolicy": h.svc.Playlist.VotePolicy().Name()})
}

func (h *handlers) addSong(c *gin.Context) {
	var req nameRequest
	if !bindJSON(c, &req) {
		return
	}
	song, err := h.svc.Playlist.Add(c.Request.Context(), IdentityFrom(c), c.Param("tripID"), req.Name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, song)
}

func (h *handlers) removeSong(c *gin.Context) {
	err := h.svc.Playlist.Remove(c.Request.Context(), IdentityFrom(c), c.Param("tripID"), c.Param("songID"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) toggleVote(c *gin.Context) {
	song, err := h.svc.Playlist.ToggleVote(c.Request.Context(), IdentityFrom(c), c.Param("tripID"), c.Param("songID"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, song)
}
