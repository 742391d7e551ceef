package model

import "time"

// Cell is one user's aggregate on one problem. Attempts counts every
// judged submission on the cell; SolvedAt is when the first accepted
// submission was made.
type Cell struct {
	ProblemID   int64      `json:"problem_id"`
	Attempts    int32      `json:"attempts"`
	Solved      bool       `json:"solved"`
	Score       int32      `json:"score"`
	AcceptedSeq int64      `json:"accepted_seq,omitempty"`
	SolvedAt    *time.Time `json:"solved_at,omitempty"`
}

// Row is one ranked scoreboard line. LastAcceptedSeq is the contest
// sequence number of the user's latest counted accepted submission; it
// breaks score ties in favor of whoever finished their set earlier.
type Row struct {
	Rank            int32  `json:"rank"`
	UserID          string `json:"user_id"`
	TotalScore      int64  `json:"total_score"`
	SolvedCount     int32  `json:"solved_count"`
	LastAcceptedSeq int64  `json:"last_accepted_seq,omitempty"`
	Cells           []Cell `json:"cells"`
}

// Standing is a ranked scoreboard snapshot.
type Standing struct {
	ContestID   int64     `json:"contest_id"`
	Frozen      bool      `json:"frozen"`
	GeneratedAt time.Time `json:"generated_at"`
	Rows        []Row     `json:"rows"`
}
