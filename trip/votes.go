package trip

import (
	"fmt"
	"slices"

	"tripsync/auth"
)

// VotePolicy applies one voter's toggle on songs[idx]. It edits songs in place and
// returns an error to refuse the vote.
type VotePolicy interface {
	Name() string
	Toggle(songs []Song, idx int, voter auth.Identity) error
}

const (
	VotePerSongToggle    = "per_song_toggle"
	VoteSingleGlobalVote = "single_global_vote"
	VoteNoSelfVote       = "no_self_vote"
)

// VotePolicyByName returns the named policy; "" selects PerSongToggle.
func VotePolicyByName(name string) (VotePolicy, error) {
	switch name {
	case "", VotePerSongToggle:
		return PerSongToggle{}, nil
	case VoteSingleGlobalVote:
		return SingleGlobalVote{}, nil
	case VoteNoSelfVote:
		return NoSelfVote{}, nil
	}
	return nil, fmt.Errorf("%w: unknown vote policy %q", ErrInvalid, name)
}

// PerSongToggle adds the vote if absent and removes it if present. A voter may
// back any number of songs.
type PerSongToggle struct{}

func (PerSongToggle) Name() string { return VotePerSongToggle }

func (PerSongToggle) Toggle(songs []Song, idx int, voter auth.Identity) error {
	toggle(&songs[idx], voter.UID)
	return nil
}

// SingleGlobalVote allows one vote across the whole playlist. Toggling the song
// already voted for withdraws the vote.
type SingleGlobalVote struct{}

func (SingleGlobalVote) Name() string { return VoteSingleGlobalVote }

func (SingleGlobalVote) Toggle(songs []Song, idx int, voter auth.Identity) error {
	if !songs[idx].HasVote(voter.UID) {
		for i, s := range songs {
			if i != idx && s.HasVote(voter.UID) {
				return fmt.Errorf("%w: %q", ErrAlreadyVoted, s.Name)
			}
		}
	}
	toggle(&songs[idx], voter.UID)
	return nil
}

// NoSelfVote is PerSongToggle except that nobody votes for a song they added.
type NoSelfVote struct{}

func (NoSelfVote) Name() string { return VoteNoSelfVote }

func (NoSelfVote) Toggle(songs []Song, idx int, voter auth.Identity) error {
	if songs[idx].AddedByUID == voter.UID {
		return ErrSelfVote
	}
	toggle(&songs[idx], voter.UID)
	return nil
}

func toggle(s *Song, uid string) {
	if i := slices.Index(s.Votes, uid); i >= 0 {
		s.Votes = slices.Delete(slices.Clone(s.Votes), i, i+1)
		return
	}
	s.Votes = append(slices.Clone(s.Votes), uid)
}
