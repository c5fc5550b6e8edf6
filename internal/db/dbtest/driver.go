// Package dbtest provides a scripted in-memory db.Driver for tests.
package dbtest

import (
	"context"
	"strings"
	"sync"

	"github.com/timetrail/timetrail/internal/db"
)

// Call records one statement issued against the fake driver.
type Call struct {
	SQL  string
	Args []any
}

// Script matches statements by substring and supplies a canned response.
// A script is consumed by its first match unless Repeat is set, so the
// same query issued twice can be answered differently.
type Script struct {
	Match  string
	Rows   []db.Row
	Err    error
	Repeat bool

	used bool
}

// Driver is a scripted db.Driver. Statements are recorded in order;
// responses come from the first unconsumed matching script.
type Driver struct {
	mu      sync.Mutex
	Calls   []Call
	Scripts []*Script
	TxErr   error
}

func (d *Driver) On(match string, rows ...db.Row) *Script {
	s := &Script{Match: match, Rows: rows}
	d.Scripts = append(d.Scripts, s)
	return s
}

func (d *Driver) OnRepeat(match string, rows ...db.Row) *Script {
	s := d.On(match, rows...)
	s.Repeat = true
	return s
}

func (d *Driver) FailOn(match string, err error) *Script {
	s := d.On(match)
	s.Err = err
	return s
}

func (d *Driver) respond(sql string, args []any) ([]db.Row, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Calls = append(d.Calls, Call{SQL: sql, Args: args})
	for _, s := range d.Scripts {
		if s.used || !strings.Contains(sql, s.Match) {
			continue
		}
		if !s.Repeat {
			s.used = true
		}
		return s.Rows, s.Err
	}
	return nil, nil
}

func (d *Driver) Query(_ context.Context, sql string, args ...any) ([]db.Row, error) {
	return d.respond(sql, args)
}

func (d *Driver) Exec(_ context.Context, sql string, args ...any) error {
	_, err := d.respond(sql, args)
	return err
}

func (d *Driver) WithTx(ctx context.Context, fn func(db.Driver) error) error {
	if d.TxErr != nil {
		return d.TxErr
	}
	d.record("BEGIN")
	if err := fn(d); err != nil {
		d.record("ROLLBACK")
		return err
	}
	d.record("COMMIT")
	return nil
}

func (d *Driver) record(sql string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, Call{SQL: sql})
}

// Executed reports whether any recorded statement contains the substring.
func (d *Driver) Executed(match string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.Calls {
		if strings.Contains(c.SQL, match) {
			return true
		}
	}
	return false
}

// CallsMatching returns the recorded statements containing the substring.
func (d *Driver) CallsMatching(match string) []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Call
	for _, c := range d.Calls {
		if strings.Contains(c.SQL, match) {
			out = append(out, c)
		}
	}
	return out
}
