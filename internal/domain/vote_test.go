package domain_test

import (
	"testing"

	"impostor-game/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestMajorityThreshold(t *testing.T) {
	assert.Equal(t, 1, domain.MajorityThreshold(1))
	assert.Equal(t, 1, domain.MajorityThreshold(2))
	assert.Equal(t, 2, domain.MajorityThreshold(3))
	assert.Equal(t, 2, domain.MajorityThreshold(4))
	assert.Equal(t, 3, domain.MajorityThreshold(5))
}

func TestTallyVotes(t *testing.T) {
	tests := []struct {
		name   string
		votes  map[string]string
		total  int
		expect string
	}{
		{
			name:   "unique majority ejects",
			votes:  map[string]string{"ana": "marko", "bob": "marko", "marko": domain.SkipVote},
			total:  3,
			expect: "marko",
		},
		{
			name:   "two-two split never ejects",
			votes:  map[string]string{"a": "c", "b": "c", "c": "d", "d": "d"},
			total:  4,
			expect: domain.SkipVote,
		},
		{
			name:   "unique max below quorum",
			votes:  map[string]string{"a": "b", "b": domain.SkipVote, "c": "", "d": domain.SkipVote, "e": domain.SkipVote},
			total:  5,
			expect: domain.SkipVote,
		},
		{
			name:   "exactly half of an even roster is enough",
			votes:  map[string]string{"a": "c", "b": "c", "c": "a", "d": domain.SkipVote},
			total:  4,
			expect: "c",
		},
		{
			name:   "no votes",
			votes:  map[string]string{},
			total:  3,
			expect: domain.SkipVote,
		},
		{
			name:   "all skip",
			votes:  map[string]string{"a": domain.SkipVote, "b": domain.SkipVote, "c": ""},
			total:  3,
			expect: domain.SkipVote,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, domain.TallyVotes(tc.votes, tc.total))
		})
	}
}

func TestScoreGame_CrewWins(t *testing.T) {
	members := []string{"ana", "bob", "cid"}

	impostorWon, results := domain.ScoreGame(members, "bob", "bob")

	assert.False(t, impostorWon)
	assert.Equal(t, []domain.PlayerResult{
		{Username: "ana", Won: true, Points: domain.CrewmateWinPoints},
		{Username: "bob", IsImpostor: true},
		{Username: "cid", Won: true, Points: domain.CrewmateWinPoints},
	}, results)
}

func TestScoreGame_ImpostorWinsWhenNobodyEjected(t *testing.T) {
	impostorWon, results := domain.ScoreGame([]string{"ana", "bob"}, "ana", domain.SkipVote)

	assert.True(t, impostorWon)
	assert.Equal(t, domain.ImpostorWinPoints, results[0].Points)
	assert.True(t, results[0].Won)
	assert.Zero(t, results[1].Points)
	assert.False(t, results[1].Won)
}

func TestScoreGame_ImpostorWinsWhenWrongPlayerEjected(t *testing.T) {
	impostorWon, _ := domain.ScoreGame([]string{"ana", "bob", "cid"}, "ana", "cid")
	assert.True(t, impostorWon)
}
