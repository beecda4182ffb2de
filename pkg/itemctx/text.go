package itemctx

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SaveText writes p in the plain embedding format shared with graph
// embedding tools: a "<count> <dim>" header, then one "<key> v1 ... vd" line
// per item in key order.
func SaveText(filename string, p *MapProvider) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", filename, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "%d %d\n", p.Len(), p.Dim())
	for _, key := range p.Keys() {
		w.WriteString(key)
		for _, v := range p.vectors[key] {
			fmt.Fprintf(w, " %.6f", v)
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return file.Close()
}

// LoadText reads a file in the format written by SaveText.
func LoadText(filename string) (*MapProvider, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	if !scanner.Scan() {
		return nil, fmt.Errorf("%s: missing header", filename)
	}
	header := strings.Fields(scanner.Text())
	if len(header) != 2 {
		return nil, fmt.Errorf("%s: header must be \"<count> <dim>\", got %q", filename, scanner.Text())
	}
	count, err := strconv.Atoi(header[0])
	if err != nil {
		return nil, fmt.Errorf("%s: count: %w", filename, err)
	}
	dim, err := strconv.Atoi(header[1])
	if err != nil || dim <= 0 {
		return nil, fmt.Errorf("%w: %s declares dimension %q", ErrDimension, filename, header[1])
	}

	p := NewMapProvider(dim)
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != dim+1 {
			return nil, fmt.Errorf("%w: %s line %d has %d values, want %d", ErrDimension, filename, lineNo, len(fields)-1, dim)
		}
		vec := make([]float64, dim)
		for j, f := range fields[1:] {
			if vec[j], err = strconv.ParseFloat(f, 64); err != nil {
				return nil, fmt.Errorf("%s line %d: %w", filename, lineNo, err)
			}
		}
		if err := p.Set(fields[0], vec); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", filename, err)
	}
	if p.Len() != count {
		return nil, fmt.Errorf("%s: header declares %d items, found %d", filename, count, p.Len())
	}
	return p, nil
}
