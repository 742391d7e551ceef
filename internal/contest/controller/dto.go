package controller

// CreateContestRequest is the payload for contest creation.
type CreateContestRequest struct {
	Title           string `json:"title" binding:"required"`
	Description     string `json:"description"`
	StartTime       string `json:"start_time" binding:"required"`
	EndTime         string `json:"end_time" binding:"required"`
	FreezeOffsetSec int64  `json:"freeze_offset_sec"`
	ProblemScore    int32  `json:"problem_score"`
}

// UpdateWindowRequest changes timing on a draft contest.
type UpdateWindowRequest struct {
	StartTime       string `json:"start_time" binding:"required"`
	EndTime         string `json:"end_time" binding:"required"`
	FreezeOffsetSec int64  `json:"freeze_offset_sec"`
}

// AttachProblemRequest binds a problem into a contest.
type AttachProblemRequest struct {
	ProblemID int64 `json:"problem_id" binding:"required"`
}

// AddManagerRequest grants management rights.
type AddManagerRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// ContestResponse is the wire form of a contest.
type ContestResponse struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	State           string `json:"state"`
	Phase           string `json:"phase"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	FreezeOffsetSec int64  `json:"freeze_offset_sec,omitempty"`
	ProblemScore    int32  `json:"problem_score"`
	CreatedBy       string `json:"created_by"`
}

// ContestListResponse wraps the public contest listing.
type ContestListResponse struct {
	Items []ContestResponse `json:"items"`
}

// ContestProblemResponse is one entry of the contest problem list.
type ContestProblemResponse struct {
	ProblemID int64  `json:"problem_id"`
	Ordinal   int32  `json:"ordinal"`
	Label     string `json:"label"`
}

// ContestProblemListResponse wraps the ordered problem list.
type ContestProblemListResponse struct {
	Items []ContestProblemResponse `json:"items"`
}
