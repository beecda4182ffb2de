package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cnclabs/contextrec/internal/logging"
)

// Corpus is a dataset cut into train, valid and test token streams over one
// vocabulary.
type Corpus struct {
	Train []int
	Valid []int
	Test  []int
	Vocab *Vocabulary
}

// ItemDim is the vocabulary size.
func (c *Corpus) ItemDim() int {
	return c.Vocab.Size()
}

// Reader loads a corpus from a dataset directory.
type Reader interface {
	Read(dir string) (*Corpus, error)
}

const (
	defaultTrainFrac = 0.8
	defaultValidFrac = 0.1
	maxLineBytes     = 1 << 20
)

// MovieLensReader reads MovieLens 100k style rating logs
// (user \t item \t rating \t timestamp). Every user's ratings are ordered in
// time and the per-user streams are concatenated before the 80/10/10 split.
type MovieLensReader struct {
	FileName  string
	TrainFrac float64
	ValidFrac float64
}

// NewMovieLensReader reads u.data with the default split.
func NewMovieLensReader() *MovieLensReader {
	return &MovieLensReader{FileName: "u.data", TrainFrac: defaultTrainFrac, ValidFrac: defaultValidFrac}
}

func (r *MovieLensReader) Read(dir string) (*Corpus, error) {
	filename := filepath.Join(dir, r.FileName)
	il := NewInteractionLog()

	err := scanLines(filename, func(lineNo int, line string) error {
		parts := strings.Split(line, "\t")
		if len(parts) < 4 {
			parts = strings.Fields(line)
		}
		if len(parts) < 4 {
			return fmt.Errorf("line %d: expected 4 fields, got %d", lineNo, len(parts))
		}
		ts, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return fmt.Errorf("line %d: timestamp: %w", lineNo, err)
		}
		il.Add(parts[0], parts[1], ts)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return corpusFromLog(il, filename, r.TrainFrac, r.ValidFrac)
}

// LastfmReader reads the Last.fm 1K listening log
// (userid \t timestamp \t artist-id \t artist-name \t track-id \t track-name).
// Items are artists; rows without a MusicBrainz artist ID fall back to the
// artist name.
type LastfmReader struct {
	FileName  string
	TrainFrac float64
	ValidFrac float64
}

// NewLastfmReader reads the standard 1K file name with the default split.
func NewLastfmReader() *LastfmReader {
	return &LastfmReader{
		FileName:  "userid-timestamp-artid-artname-traid-traname.tsv",
		TrainFrac: defaultTrainFrac,
		ValidFrac: defaultValidFrac,
	}
}

func (r *LastfmReader) Read(dir string) (*Corpus, error) {
	filename := filepath.Join(dir, r.FileName)
	il := NewInteractionLog()

	err := scanLines(filename, func(lineNo int, line string) error {
		parts := strings.Split(line, "\t")
		if len(parts) < 4 {
			return fmt.Errorf("line %d: expected at least 4 fields, got %d", lineNo, len(parts))
		}
		ts, err := time.Parse(time.RFC3339, parts[1])
		if err != nil {
			return fmt.Errorf("line %d: timestamp: %w", lineNo, err)
		}
		item := parts[2]
		if item == "" {
			item = parts[3]
		}
		il.Add(parts[0], item, float64(ts.Unix()))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return corpusFromLog(il, filename, r.TrainFrac, r.ValidFrac)
}

// TokenFileReader reads pre-split whitespace separated token files, one
// sentence per line, with an end-of-sentence token appended to every line.
// The vocabulary is ordered by descending train frequency.
type TokenFileReader struct {
	Prefix string
	EOS    string
}

// NewTokenFileReader reads ptb.{train,valid,test}.txt.
func NewTokenFileReader() *TokenFileReader {
	return &TokenFileReader{Prefix: "ptb", EOS: "<eos>"}
}

func (r *TokenFileReader) Read(dir string) (*Corpus, error) {
	words := make(map[string][]string, 3)
	for _, part := range []string{"train", "valid", "test"} {
		filename := filepath.Join(dir, r.Prefix+"."+part+".txt")
		var tokens []string
		err := scanLines(filename, func(_ int, line string) error {
			tokens = append(tokens, strings.Fields(line)...)
			if r.EOS != "" {
				tokens = append(tokens, r.EOS)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		words[part] = tokens
	}

	vocab := vocabularyByFrequency(words["train"])
	c := &Corpus{
		Train: vocab.Encode(words["train"]),
		Valid: vocab.Encode(words["valid"]),
		Test:  vocab.Encode(words["test"]),
		Vocab: vocab,
	}

	logging.Info().
		Str("source", dir).
		Int("items", vocab.Size()).
		Int("train", len(c.Train)).
		Int("valid", len(c.Valid)).
		Int("test", len(c.Test)).
		Msg("token corpus loaded")
	return c, nil
}

func vocabularyByFrequency(tokens []string) *Vocabulary {
	counts := make(map[string]int)
	for _, t := range tokens {
		counts[t]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	v := NewVocabulary()
	for _, k := range keys {
		v.Add(k)
	}
	return v
}

func corpusFromLog(il *InteractionLog, source string, trainFrac, validFrac float64) (*Corpus, error) {
	if il.NumInteractions == 0 {
		return nil, fmt.Errorf("%s: no interactions", source)
	}
	il.Sort()
	il.LogStatistics(source)

	train, valid, test := Split(il.Stream(), trainFrac, validFrac)
	return &Corpus{Train: train, Valid: valid, Test: test, Vocab: il.Items}, nil
}

// scanLines calls fn for every non-empty line of filename. Line numbers start
// at 1.
func scanLines(filename string, fn func(lineNo int, line string) error) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return fmt.Errorf("%s: %w", filename, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading file %s: %w", filename, err)
	}
	return nil
}

// NewReader returns the reader for a dataset name: ml-genre and ml-mf read
// MovieLens, lastfm reads Last.fm, tokens reads pre-split token files.
func NewReader(dataset string) (Reader, error) {
	switch dataset {
	case "ml-genre", "ml-mf":
		return NewMovieLensReader(), nil
	case "lastfm":
		return NewLastfmReader(), nil
	case "tokens":
		return NewTokenFileReader(), nil
	default:
		return nil, fmt.Errorf("unknown dataset %q", dataset)
	}
}
