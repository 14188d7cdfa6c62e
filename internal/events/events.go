// Package events reads event files and converts event codes into labelled
// annotations.
package events

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
)

var ErrNoEvents = errors.New("no events")

// Read parses a text event file with one event per line: either
// "sample code" or "sample previous code". Blank lines and lines starting
// with '#' are skipped.
func Read(path string) ([]models.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []models.Event
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 && len(fields) != 3 {
			return nil, fmt.Errorf("%s:%d: want 2 or 3 columns, got %d", filepath.Base(path), lineNo, len(fields))
		}
		sample, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: sample: %w", filepath.Base(path), lineNo, err)
		}
		code, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: code: %w", filepath.Base(path), lineNo, err)
		}
		out = append(out, models.Event{Sample: sample, Code: code})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrNoEvents)
	}
	return out, nil
}

// ToAnnotations maps events through dict into zero-duration annotations
// timed at sample/sfreq. Events whose code is missing from dict are dropped
// and counted in the second return value.
func ToAnnotations(evts []models.Event, dict map[int]string, sfreq float64) ([]models.Annotation, int) {
	anns := make([]models.Annotation, 0, len(evts))
	dropped := 0
	for _, e := range evts {
		label, ok := dict[e.Code]
		if !ok {
			dropped++
			continue
		}
		anns = append(anns, models.Annotation{
			Onset:       float64(e.Sample) / sfreq,
			Description: label,
		})
	}
	sort.SliceStable(anns, func(i, j int) bool { return anns[i].Onset < anns[j].Onset })
	return anns, dropped
}

// ParseDict parses "code=label" pairs, e.g. "31=con/MC/s".
func ParseDict(pairs []string) (map[int]string, error) {
	dict := make(map[int]string, len(pairs))
	for _, p := range pairs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("event mapping %q: want code=label", p)
		}
		code, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("event mapping %q: %w", p, err)
		}
		dict[code] = strings.TrimSpace(v)
	}
	if len(dict) == 0 {
		return nil, errors.New("empty event mapping")
	}
	return dict, nil
}
