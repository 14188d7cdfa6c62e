// Package montage reads electrode position files and attaches them to
// recordings.
package montage

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
)

// HeadRadius is the sphere radius (metres) used for polar layouts.
const HeadRadius = 0.095

// Montage maps electrode labels to positions, in file order.
type Montage struct {
	Names     []string
	Positions []models.Position
}

// Lookup returns the position of name, matching case-insensitively.
func (m *Montage) Lookup(name string) (models.Position, bool) {
	for i, n := range m.Names {
		if strings.EqualFold(n, name) {
			return m.Positions[i], true
		}
	}
	return models.Position{}, false
}

// Read loads a montage. ".loc"/".locs" files use the EEGLAB polar layout
// (index, theta in degrees, radius, label); ".tsv"/".csv"/".xyz" files hold
// label and cartesian x, y, z in metres.
func Read(path string) (*Montage, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".loc", ".locs":
		return readFile(path, parseLocLine)
	case ".tsv", ".csv", ".xyz":
		return readFile(path, parseXYZLine)
	default:
		return nil, fmt.Errorf("unsupported montage format %q", ext)
	}
}

func readFile(path string, parse func([]string) (string, models.Position, error)) (*Montage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := &Montage{}
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == '\t' || r == ' '
		})
		name, pos, err := parse(fields)
		if err != nil {
			// a header row is allowed on the first line
			if lineNo == 1 {
				continue
			}
			return nil, fmt.Errorf("%s:%d: %w", filepath.Base(path), lineNo, err)
		}
		m.Names = append(m.Names, name)
		m.Positions = append(m.Positions, pos)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(m.Names) == 0 {
		return nil, errors.New("montage file holds no electrodes")
	}
	return m, nil
}

// parseLocLine converts an EEGLAB polar entry. Theta is measured from the
// nose towards the right ear; a radius of 0.5 lies on the head's equator.
func parseLocLine(fields []string) (string, models.Position, error) {
	if len(fields) < 4 {
		return "", models.Position{}, fmt.Errorf("want 4 columns, got %d", len(fields))
	}
	theta, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return "", models.Position{}, fmt.Errorf("theta: %w", err)
	}
	radius, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return "", models.Position{}, fmt.Errorf("radius: %w", err)
	}
	label := strings.TrimRight(strings.Join(fields[3:], " "), ".")

	polar := radius * math.Pi
	az := theta * math.Pi / 180
	return label, models.Position{
		X: HeadRadius * math.Sin(polar) * math.Sin(az),
		Y: HeadRadius * math.Sin(polar) * math.Cos(az),
		Z: HeadRadius * math.Cos(polar),
	}, nil
}

func parseXYZLine(fields []string) (string, models.Position, error) {
	if len(fields) < 4 {
		return "", models.Position{}, fmt.Errorf("want 4 columns, got %d", len(fields))
	}
	var xyz [3]float64
	for i := range xyz {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return "", models.Position{}, fmt.Errorf("coordinate %d: %w", i, err)
		}
		xyz[i] = v
	}
	return fields[0], models.Position{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

// Apply attaches positions to the EEG and EOG channels of rec that appear in
// m and returns the channels that received none.
func Apply(rec *models.Recording, m *Montage) (missing []string) {
	for i, ch := range rec.Channels {
		pos, ok := m.Lookup(ch.Name)
		if !ok {
			if ch.Type == models.ChannelEEG {
				missing = append(missing, ch.Name)
			}
			continue
		}
		p := pos
		rec.Channels[i].Pos = &p
	}
	return missing
}
