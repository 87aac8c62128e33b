package rooms

import "sort"

// CandidateScore is the aggregated preference for one candidate.
type CandidateScore struct {
	CandidateID string
	Total       int
	Ballots     int
}

// TallyResult holds every scored candidate, best first.
type TallyResult struct {
	Scores []CandidateScore
}

// Winner returns the top candidate id, or false when no ballot was cast.
func (r TallyResult) Winner() (string, bool) {
	if len(r.Scores) == 0 {
		return "", false
	}
	return r.Scores[0].CandidateID, true
}

// Tally sums signed ballot values per candidate and orders the sums.
//
// The highest total wins regardless of sign. Equal totals are ordered by the
// candidate's index in candidateOrder, then by candidate id; candidates
// missing from candidateOrder rank after listed ones.
func Tally(candidateOrder []string, ballots []Ballot) TallyResult {
	if len(ballots) == 0 {
		return TallyResult{}
	}

	positions := make(map[string]int, len(candidateOrder))
	for index, candidateID := range candidateOrder {
		if _, seen := positions[candidateID]; !seen {
			positions[candidateID] = index
		}
	}

	scoresByID := make(map[string]*CandidateScore)
	for _, ballot := range ballots {
		score, ok := scoresByID[ballot.CandidateID]
		if !ok {
			score = &CandidateScore{CandidateID: ballot.CandidateID}
			scoresByID[ballot.CandidateID] = score
		}
		score.Total += ballot.Value
		score.Ballots++
	}

	scores := make([]CandidateScore, 0, len(scoresByID))
	for _, score := range scoresByID {
		scores = append(scores, *score)
	}

	position := func(candidateID string) int {
		if index, ok := positions[candidateID]; ok {
			return index
		}
		return len(candidateOrder)
	}
	sort.Slice(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if pa, pb := position(a.CandidateID), position(b.CandidateID); pa != pb {
			return pa < pb
		}
		return a.CandidateID < b.CandidateID
	})

	return TallyResult{Scores: scores}
}
