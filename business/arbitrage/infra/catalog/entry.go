// Package catalog provides path catalogs backed by a YAML file or SQLite.
package catalog

import (
	"slices"
	"strings"

	"github.com/fd1az/triarb/business/arbitrage/domain"
	md "github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/apperror"
)

// SelectAll matches every path regardless of its sets.
const SelectAll = "all"

// Entry is a catalog path together with the selector sets it belongs to.
type Entry struct {
	Path domain.TriangularPath
	Sets []string
}

// Matches reports whether selector picks this entry. An empty selector or
// SelectAll matches everything.
func (e Entry) Matches(selector string) bool {
	if selector == "" || selector == SelectAll {
		return true
	}
	return slices.ContainsFunc(e.Sets, func(s string) bool {
		return strings.EqualFold(s, selector)
	})
}

type stepRecord struct {
	Pair string `yaml:"pair"`
	Side string `yaml:"side"`
}

type pathRecord struct {
	ID          string       `yaml:"id"`
	Description string       `yaml:"description"`
	Start       string       `yaml:"start"`
	Sets        []string     `yaml:"sets"`
	Steps       []stepRecord `yaml:"steps"`
}

func (r pathRecord) toEntry() (Entry, error) {
	path := domain.TriangularPath{
		ID:            r.ID,
		Description:   r.Description,
		StartCurrency: strings.ToUpper(r.Start),
		Steps:         make([]domain.Step, 0, len(r.Steps)),
	}
	for i, s := range r.Steps {
		pair, err := md.ParsePair(s.Pair)
		if err != nil {
			return Entry{}, apperror.New(apperror.CodeInvalidPath,
				apperror.WithContextf("path %q step %d", r.ID, i), apperror.WithCause(err))
		}
		side, err := md.ParseSide(s.Side)
		if err != nil {
			return Entry{}, apperror.New(apperror.CodeInvalidPath,
				apperror.WithContextf("path %q step %d", r.ID, i), apperror.WithCause(err))
		}
		path.Steps = append(path.Steps, domain.Step{Pair: pair, Side: side})
	}
	if err := path.Validate(); err != nil {
		return Entry{}, err
	}
	return Entry{Path: path, Sets: r.Sets}, nil
}

func fromEntry(e Entry) pathRecord {
	r := pathRecord{
		ID:          e.Path.ID,
		Description: e.Path.Description,
		Start:       e.Path.StartCurrency,
		Sets:        e.Sets,
	}
	for _, s := range e.Path.Steps {
		r.Steps = append(r.Steps, stepRecord{Pair: s.Pair.String(), Side: string(s.Side)})
	}
	return r
}

func selectPaths(entries []Entry, selector string) []domain.TriangularPath {
	out := make([]domain.TriangularPath, 0, len(entries))
	for _, e := range entries {
		if e.Matches(selector) {
			out = append(out, e.Path)
		}
	}
	return out
}
