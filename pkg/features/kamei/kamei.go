// Package kamei computes just-in-time change metrics in the style of Kamei et
// al.: size, diffusion, history and experience features of each commit.
package kamei

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"

	"github.com/Sumatoshi-tech/defectminer/pkg/features"
	"github.com/Sumatoshi-tech/defectminer/pkg/miner"
)

// Name identifies the aggregator.
const Name = "kamei"

// StateVersion is bumped whenever State changes shape.
const StateVersion = 1

const secondsPerDay = 86400

// ErrInvalidState is returned by Restore for inconsistent snapshots.
var ErrInvalidState = errors.New("invalid kamei state")

// Fix-indicating message patterns.
var (
	strongFix = regexp.MustCompile(`(?i)(denial.of.service|remote.code.execution|\bopen.redirect|OSVDB|\bXSS\b|\bReDoS\b|\bNVD\b|malicious|x−frame−options|attack|cross.site|exploit|directory.traversal|\bRCE\b|\bdos\b|\bXSRF\b|clickjack|session.fixation|hijack|advisory|insecure|security|\bcross−origin\b|unauthori[z|s]ed|infinite.loop)`)
	mediumFix = regexp.MustCompile(`(?i)(authenticat(e|ion)|bruteforce|bypass|constant.time|crack|credential|\bDoS\b|expos(e|ing)|hack|harden|injection|lockout|overflow|password|\bPoC\b|proof.of.concept|poison|privelage|\b(in)?secur(e|ity)|(de)?serializ|spoof|timing|traversal)`)
)

// Record holds the features of one commit.
type Record struct {
	CommitID string  `json:"commit_id"`
	Date     int64   `json:"date"`
	NS       int     `json:"ns"`
	ND       int     `json:"nd"`
	NF       int     `json:"nf"`
	Entropy  float64 `json:"entropy"`
	LA       int     `json:"la"`
	LD       int     `json:"ld"`
	LT       int     `json:"lt"`
	Fix      bool    `json:"fix"`
	NDev     int     `json:"ndev"`
	Age      float64 `json:"age"`
	NUC      int     `json:"nuc"`
	Exp      int     `json:"exp"`
	Rexp     float64 `json:"rexp"`
	Sexp     int     `json:"sexp"`
}

// FileHistory is the running history of one file.
type FileHistory struct {
	// Authors is sorted.
	Authors       []string `json:"authors"`
	UniqueChanges int      `json:"unique_changes"`
	LastModified  int64    `json:"last_modified"`
	// Interval is the time between the last two changes in seconds; zero
	// after the first change.
	Interval int64 `json:"interval"`
}

// State is the serializable aggregator state.
type State struct {
	// Authors maps author to path to the dates the author changed the path.
	Authors map[string]map[string][]int64 `json:"authors"`
	Files   map[string]*FileHistory       `json:"files"`
}

// Aggregator computes Record values from a chronological commit stream.
type Aggregator struct {
	state State
}

// New returns an aggregator with empty history.
func New() *Aggregator {
	return &Aggregator{state: emptyState()}
}

func emptyState() State {
	return State{
		Authors: map[string]map[string][]int64{},
		Files:   map[string]*FileHistory{},
	}
}

// Name implements features.Aggregator.
func (a *Aggregator) Name() string { return Name }

// StateVersion implements features.Aggregator.
func (a *Aggregator) StateVersion() int { return StateVersion }

// Ingest computes the features of c and then folds c into the history.
// Experience features only see the author's earlier commits; file features
// count c itself.
func (a *Aggregator) Ingest(c *miner.Commit) (Record, error) {
	checkErr := features.CheckCommit(c)
	if checkErr != nil {
		return Record{}, checkErr
	}

	subsystems, directories, names := diffusion(c.Files)
	exp, rexp, sexp := a.experience(c.Author, c.Date, subsystems)

	a.update(c)

	la, ld, lt, entropy := lineFeatures(c)
	ndev, nuc, age := a.fileFeatures(c.Files)

	return Record{
		CommitID: c.CommitID,
		Date:     c.Date,
		NS:       len(subsystems),
		ND:       len(directories),
		NF:       len(names),
		Entropy:  entropy,
		LA:       la,
		LD:       ld,
		LT:       lt,
		Fix:      IsFix(c.Message),
		NDev:     ndev,
		Age:      age,
		NUC:      nuc,
		Exp:      exp,
		Rexp:     rexp,
		Sexp:     sexp,
	}, nil
}

func (a *Aggregator) update(c *miner.Commit) {
	touched, ok := a.state.Authors[c.Author]
	if !ok {
		touched = map[string][]int64{}
		a.state.Authors[c.Author] = touched
	}

	for _, path := range c.Files {
		touched[path] = append(touched[path], c.Date)

		fh, ok := a.state.Files[path]
		if !ok {
			a.state.Files[path] = &FileHistory{
				Authors:       []string{c.Author},
				UniqueChanges: 1,
				LastModified:  c.Date,
			}

			continue
		}

		if i, found := slices.BinarySearch(fh.Authors, c.Author); !found {
			fh.Authors = slices.Insert(fh.Authors, i, c.Author)
		}

		fh.UniqueChanges++
		fh.Interval = c.Date - fh.LastModified
		fh.LastModified = c.Date
	}
}

// IsFix reports whether a commit message matches either fix pattern class.
func IsFix(message string) bool {
	return strongFix.MatchString(message) || mediumFix.MatchString(message)
}

// diffusion returns the distinct subsystems, directories and file names.
func diffusion(paths []string) (subsystems, directories, names map[string]struct{}) {
	subsystems = map[string]struct{}{}
	directories = map[string]struct{}{}
	names = map[string]struct{}{}

	for _, p := range paths {
		sub, dir, name := features.PathParts(p)
		subsystems[sub] = struct{}{}
		directories[dir] = struct{}{}
		names[name] = struct{}{}
	}

	return subsystems, directories, names
}

// lineFeatures sums added and deleted lines, the original length of the
// touched files and the Shannon entropy of the change distribution.
func lineFeatures(c *miner.Commit) (la, ld, lt int, entropy float64) {
	changed := make([]int, 0, len(c.Files))

	for _, path := range c.Files {
		d, ok := c.Diff[path]
		if !ok {
			continue
		}

		added, deleted := 0, 0

		for _, h := range d.Content {
			added += len(h.After)
			deleted += len(h.Before)
		}

		la += added
		ld += deleted
		changed = append(changed, added+deleted)

		if d.MetaA != nil {
			lt += d.MetaA.Lines
		}
	}

	return la, ld, lt, Entropy(changed)
}

// Entropy returns -Σ p·log2(p) over the shares of changed lines per file.
// Files without changes contribute nothing.
func Entropy(changed []int) float64 {
	total := 0
	for _, n := range changed {
		total += n
	}

	if total == 0 {
		return 0
	}

	entropy := 0.0

	for _, n := range changed {
		if n == 0 {
			continue
		}

		p := float64(n) / float64(total)
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// fileFeatures returns the distinct developers over the touched files, the
// summed unique change counts and the mean change interval in days.
func (a *Aggregator) fileFeatures(paths []string) (ndev, nuc int, age float64) {
	devs := map[string]struct{}{}

	var interval int64

	for _, p := range paths {
		fh := a.state.Files[p]

		for _, author := range fh.Authors {
			devs[author] = struct{}{}
		}

		nuc += fh.UniqueChanges
		interval += fh.Interval
	}

	if len(paths) > 0 {
		age = float64(interval) / float64(len(paths)) / secondsPerDay
	}

	return len(devs), nuc, age
}

// experience measures the author's earlier changes: their count, a
// recency-weighted count and the touched subsystems the author changed before.
func (a *Aggregator) experience(author string, anchor int64, subsystems map[string]struct{}) (exp int, rexp float64, sexp int) {
	touched := a.state.Authors[author]
	known := map[string]struct{}{}

	// Sorted paths keep the floating-point sum independent of map order.
	for _, path := range slices.Sorted(maps.Keys(touched)) {
		dates := touched[path]
		exp += len(dates)

		for _, d := range dates {
			days := max(float64(anchor-d)/secondsPerDay, 0)
			rexp += 1 / (days + 1)
		}

		sub, _, _ := features.PathParts(path)
		if _, ok := subsystems[sub]; ok {
			known[sub] = struct{}{}
		}
	}

	return exp, rexp, len(known)
}

// Snapshot implements features.Aggregator.
func (a *Aggregator) Snapshot() State {
	return cloneState(a.state)
}

// Restore implements features.Aggregator.
func (a *Aggregator) Restore(s State) error {
	for path, fh := range s.Files {
		if fh == nil {
			return fmt.Errorf("%w: file %s has no history", ErrInvalidState, path)
		}
	}

	restored := cloneState(s)
	if restored.Authors == nil {
		restored.Authors = map[string]map[string][]int64{}
	}

	if restored.Files == nil {
		restored.Files = map[string]*FileHistory{}
	}

	a.state = restored

	return nil
}

func cloneState(s State) State {
	out := State{
		Authors: make(map[string]map[string][]int64, len(s.Authors)),
		Files:   make(map[string]*FileHistory, len(s.Files)),
	}

	for author, touched := range s.Authors {
		cp := make(map[string][]int64, len(touched))
		for path, dates := range touched {
			cp[path] = slices.Clone(dates)
		}

		out.Authors[author] = cp
	}

	for path, fh := range s.Files {
		cp := *fh
		cp.Authors = slices.Clone(fh.Authors)
		out.Files[path] = &cp
	}

	return out
}
