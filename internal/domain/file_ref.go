package domain

// CandidateFile is one file inside a torrent as enumerated by the engine.
// Size is zero or negative when the engine could not report it.
type CandidateFile struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
}

func CandidateNames(files []CandidateFile) []string {
	if len(files) == 0 {
		return nil
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return names
}

// SelectionOutcome is the result of the file selection policy: either a
// concrete index or a request for the user to choose.
type SelectionOutcome struct {
	Index           int
	NeedsUserChoice bool
}

func SelectIndex(i int) SelectionOutcome {
	return SelectionOutcome{Index: i}
}

func NeedsUserChoice() SelectionOutcome {
	return SelectionOutcome{Index: -1, NeedsUserChoice: true}
}
