package miner

import (
	"github.com/Sumatoshi-tech/defectminer/pkg/gitparse"
)

// Commit is one mined commit. Files lists the language-filtered destination
// paths in diff order; Diff and Blame are keyed by those paths. Blame is taken
// at the parent revision and is empty for files the parent did not have.
type Commit struct {
	CommitID string                       `json:"commit_id"`
	ParentID string                       `json:"parent_id"`
	Subject  string                       `json:"subject"`
	Message  string                       `json:"message"`
	Author   string                       `json:"author"`
	Date     int64                        `json:"date"`
	Files    []string                     `json:"files"`
	Diff     map[string]gitparse.FileDiff `json:"diff"`
	Blame    map[string]gitparse.BlameMap `json:"blame"`
}

// LinesAdded sums added lines over every file.
func (c *Commit) LinesAdded() int {
	total := 0

	for _, d := range c.Diff {
		for _, h := range d.Content {
			total += len(h.After)
		}
	}

	return total
}

// LinesDeleted sums deleted lines over every file.
func (c *Commit) LinesDeleted() int {
	total := 0

	for _, d := range c.Diff {
		for _, h := range d.Content {
			total += len(h.Before)
		}
	}

	return total
}
