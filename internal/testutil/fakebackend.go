// Package testutil holds shared test doubles.
package testutil

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/braincanary/braincanary/internal/evalquery"
)

var (
	versionRe = regexp.MustCompile(`"braincanary\.version" = '([^']+)'`)
	createdRe = regexp.MustCompile(`created > '([^']+)'`)
)

// FakeBackend behaves like the evaluation SQL endpoint: it filters its rows
// by the version and created-after predicates found in the query text.
type FakeBackend struct {
	mu          sync.Mutex
	rows        map[string][]evalquery.Row
	fail        error
	failVersion map[string]error
	health      evalquery.Health
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		rows:        map[string][]evalquery.Row{},
		failVersion: map[string]error{},
		health:      evalquery.Health{Status: "healthy"},
	}
}

// Add appends rows for a version.
func (f *FakeBackend) Add(version string, rows ...evalquery.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[version] = append(f.rows[version], rows...)
}

// SetFail makes every Query return err until cleared with nil.
func (f *FakeBackend) SetFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

// SetVersionFail fails only queries for one version; clear with nil.
func (f *FakeBackend) SetVersionFail(version string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failVersion, version)
		return
	}
	f.failVersion[version] = err
}

func (f *FakeBackend) Query(ctx context.Context, sql string) ([]evalquery.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	vm := versionRe.FindStringSubmatch(sql)
	cm := createdRe.FindStringSubmatch(sql)
	if vm == nil || cm == nil {
		return nil, fmt.Errorf("malformed query: %s", sql)
	}
	if err := f.failVersion[vm[1]]; err != nil {
		return nil, err
	}
	after, err := time.Parse(time.RFC3339Nano, cm[1])
	if err != nil {
		return nil, err
	}
	var out []evalquery.Row
	for _, row := range f.rows[vm[1]] {
		if row.Created.After(after) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *FakeBackend) Health() evalquery.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

// ScoreRow builds a scored trace row with a single scorer value.
func ScoreRow(id string, created time.Time, scorer string, value float64) evalquery.Row {
	return evalquery.Row{
		ID:      id,
		Scores:  map[string]*float64{scorer: &value},
		Created: created,
	}
}

// ErrorRow builds a failed trace row with no scores.
func ErrorRow(id string, created time.Time) evalquery.Row {
	msg := "upstream error"
	return evalquery.Row{
		ID:      id,
		Scores:  map[string]*float64{},
		Created: created,
		Error:   &msg,
	}
}
