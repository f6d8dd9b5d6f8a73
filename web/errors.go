package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tripsync/auth"
	"tripsync/collab"
	"tripsync/db/db"
	"tripsync/ledger"
	"tripsync/trip"
)

var (
	badRequest = []error{
		ledger.ErrInvalidExpense,
		ledger.ErrEmptySelection,
		ledger.ErrNegativeShare,
		ledger.ErrSplitMismatch,
		ledger.ErrUnknownPolicy,
		ledger.ErrInvalidAmount,
		trip.ErrInvalid,
		errBadBody,
	}
	forbidden = []error{trip.ErrNotOwner, trip.ErrAlreadyVoted, trip.ErrSelfVote, errForbiddenPath}
	conflict  = []error{trip.ErrDuplicateSong, trip.ErrDuplicateName, collab.ErrConflict, db.ErrVersionConflict}
	notFound  = []error{trip.ErrNotFound, db.ErrNotFound}
	unauth    = []error{auth.ErrMissingToken, auth.ErrInvalidToken}

	errBadBody       = errors.New("malformed request body")
	errForbiddenPath = errors.New("document belongs to another user")
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case isAny(err, badRequest):
		return http.StatusBadRequest
	case isAny(err, unauth):
		return http.StatusUnauthorized
	case isAny(err, forbidden):
		return http.StatusForbidden
	case isAny(err, conflict):
		return http.StatusConflict
	case isAny(err, notFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
