package itemctx

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// GenreColumns is the number of genre flags at the end of a MovieLens 100k
// u.item row.
const GenreColumns = 19

// NewGenreProvider reads MovieLens u.item
// (id|title|release date|video release date|url|19 genre flags) from dir and
// uses the genre flags of each movie as its context vector.
func NewGenreProvider(dir string) (*MapProvider, error) {
	filename := filepath.Join(dir, "u.item")
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()

	p := NewMapProvider(GenreColumns)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) < GenreColumns+1 {
			return nil, fmt.Errorf("%s line %d: expected at least %d fields, got %d",
				filename, lineNo, GenreColumns+1, len(parts))
		}

		flags := parts[len(parts)-GenreColumns:]
		vec := make([]float64, GenreColumns)
		for j, f := range flags {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: genre %d: %w", filename, lineNo, j, err)
			}
			vec[j] = v
		}
		if err := p.Set(parts[0], vec); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", filename, err)
	}
	return p, nil
}

// NewMatrixProvider uses row r of an item embedding matrix q, e.g. MF item
// factors or graph embeddings, as the context of keys[r].
func NewMatrixProvider(keys []string, q *mat.Dense) (*MapProvider, error) {
	rows, rank := q.Dims()
	if rows != len(keys) {
		return nil, fmt.Errorf("%w: %d item keys for %d factor rows", ErrDimension, len(keys), rows)
	}

	p := NewMapProvider(rank)
	for r, key := range keys {
		if err := p.Set(key, q.RawRowView(r)); err != nil {
			return nil, err
		}
	}
	return p, nil
}
