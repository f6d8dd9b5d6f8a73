package trip

import (
	"errors"
	"fmt"
	"time"

	"tripsync/ledger"
)

var (
	ErrInvalid       = errors.New("trip: invalid input")
	ErrNotFound      = errors.New("trip: not found")
	ErrNotOwner      = errors.New("trip: only the owner may do this")
	ErrDuplicateSong = errors.New("trip: song already in the playlist")
	ErrDuplicateName = errors.New("trip: member already exists")
	ErrAlreadyVoted  = errors.New("trip: already voted for another song")
	ErrSelfVote      = errors.New("trip: cannot vote for your own song")
)

// DefaultRoster seeds a user's member list the first time it is found empty.
var DefaultRoster = []string{
	"Aditya",
	"Ashutosh",
	"Ashwin",
	"Kedar",
	"Krushna",
	"Prathamesh",
	"Rushikesh",
	"Shrutika",
	"Sushama",
	"Tejas",
}

// UserPrefix is the path prefix shared by every document a user owns.
func UserPrefix(uid string) string { return fmt.Sprintf("users/%s/", uid) }

func MembersPath(uid string) string { return fmt.Sprintf("users/%s/data/members", uid) }

func ExpensesPath(uid string) string { return fmt.Sprintf("users/%s/expenses", uid) }

func PlaylistPath(tripID string) string { return fmt.Sprintf("trips/%s/fun/playlist", tripID) }

// MembersDoc is stored at MembersPath.
type MembersDoc struct {
	List []string `json:"list" diff:"list"`
}

// ExpensesDoc is stored at ExpensesPath.
type ExpensesDoc struct {
	Expenses []ledger.Expense `json:"expenses" diff:"expenses"`
}

// Song is one playlist entry. Votes holds voter uids in the order they voted.
type Song struct {
	ID         string    `json:"id" diff:"id,identifier"`
	Name       string    `json:"name" diff:"name"`
	AddedBy    string    `json:"addedBy" diff:"addedBy"`
	AddedByUID string    `json:"addedByUid" diff:"addedByUid"`
	Votes      []string  `json:"votes" diff:"votes"`
	CreatedAt  time.Time `json:"createdAt" diff:"createdAt"`
}

func (s Song) HasVote(uid string) bool {
	for _, v := range s.Votes {
		if v == uid {
			return true
		}
	}
	return false
}

// PlaylistDoc is stored at PlaylistPath.
type PlaylistDoc struct {
	Songs []Song `json:"songs" diff:"songs"`
}

// Summary is everything the expenses screen shows for one user.
type Summary struct {
	Members     []string            `json:"members"`
	Expenses    []ledger.Expense    `json:"expenses"`
	Balances    ledger.Balances     `json:"balances"`
	Settlements []ledger.Settlement `json:"settlements"`
	Total       float64             `json:"total"`
	Settled     bool                `json:"settled"`
}
