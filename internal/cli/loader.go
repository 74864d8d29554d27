package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/roach88/deckstore/internal/conflict"
	"github.com/roach88/deckstore/internal/deck"
)

// dtgLayout is the YYYYMMDDHH form DTGs are written in on the command line.
const dtgLayout = "2006010215"

// LoadError reports a line of input that could not be read.
type LoadError struct {
	Path    string
	Line    int
	Message string
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// openInput opens path for reading; "-" is stdin.
func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Message: err.Error()}
	}
	return f, nil
}

// LoadRecords reads JSON-lines records from path ("-" for stdin). Blank
// lines are skipped and unknown fields rejected. Each record's deck type is
// normalised and B/E records in the genesis number range are routed to the
// genesis decks.
func LoadRecords(path string, stdin io.Reader) ([]*deck.Record, error) {
	in, err := openInput(path, stdin)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	var out []*deck.Record
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		var r deck.Record
		if err := dec.Decode(&r); err != nil {
			return nil, &LoadError{Path: path, Line: line, Message: err.Error()}
		}
		dt, err := deck.ParseType(string(r.Deck))
		if err != nil {
			return nil, &LoadError{Path: path, Line: line, Message: err.Error()}
		}
		r.Deck = deck.Resolve(dt, r.CycloneNum)
		r.ID = 0
		out = append(out, &r)
	}
	if err := sc.Err(); err != nil {
		return nil, &LoadError{Path: path, Message: err.Error()}
	}
	return out, nil
}

// LoadDecisions reads a JSON object mapping record ids to decisions:
//
//	{"12": {"choice": "sandbox"}, "15": {"choice": "merged", "record": {...}}}
func LoadDecisions(path string, stdin io.Reader) (map[int64]conflict.Decision, error) {
	in, err := openInput(path, stdin)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	var out map[int64]conflict.Decision
	dec := json.NewDecoder(in)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, &LoadError{Path: path, Message: err.Error()}
	}
	return out, nil
}

// parseScope reads the --deck and --storm flags.
func parseScope(deckFlag, stormFlag string) (deck.Type, deck.Storm, error) {
	dt, err := deck.ParseType(deckFlag)
	if err != nil {
		return "", deck.Storm{}, err
	}
	storm, err := deck.ParseStorm(stormFlag)
	if err != nil {
		return "", deck.Storm{}, err
	}
	return dt, storm, nil
}

func parseDTG(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dtgLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("DTG %q is not of the form YYYYMMDDHH", s)
	}
	return t, nil
}
