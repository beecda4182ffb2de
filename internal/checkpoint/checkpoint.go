// Package checkpoint persists trained parameters in a badger key-value store.
//
// Keys:
//
//	run:<kind>:<id>         run metadata (JSON)
//	tensor:<id>:<name>      one matrix (JSON)
//	latest:<kind>           id of the newest run of kind
package checkpoint

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/cnclabs/contextrec/internal/models/clstm"
	"github.com/cnclabs/contextrec/pkg/optim"
)

// Run kinds.
const (
	KindNetwork = "clstm"
	KindFactors = "mf"
)

const (
	runKeyPrefix    = "run:"
	tensorKeyPrefix = "tensor:"
	latestKeyPrefix = "latest:"
)

// ErrNotFound is returned when a run or one of its tensors is absent.
var ErrNotFound = errors.New("checkpoint not found")

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Run describes a stored checkpoint.
type Run struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	Tensors   []string        `json:"tensors"`
	Config    json.RawMessage `json:"config,omitempty"`
	Mean      float64         `json:"mean,omitempty"`
	ItemKeys  []string        `json:"item_keys,omitempty"`
}

type matrix struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Store is a badger-backed checkpoint store.
type Store struct {
	db *badger.DB
}

// Open opens or creates a store in dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory checkpoint store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// save writes the tensors and the run record in one transaction and marks
// the run as the latest of its kind.
func (s *Store) save(run *Run, tensors []optim.Tensor) error {
	run.CreatedAt = time.Now().UTC()
	run.Tensors = run.Tensors[:0]
	for _, t := range tensors {
		run.Tensors = append(run.Tensors, t.Name)
	}
	meta, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, t := range tensors {
			r, c := t.Value.Dims()
			data, err := json.Marshal(matrix{Rows: r, Cols: c, Data: mat.DenseCopyOf(t.Value).RawMatrix().Data})
			if err != nil {
				return fmt.Errorf("marshal tensor %s: %w", t.Name, err)
			}
			if err := txn.Set([]byte(tensorKeyPrefix+run.ID+":"+t.Name), data); err != nil {
				return fmt.Errorf("set tensor %s: %w", t.Name, err)
			}
		}
		if err := txn.Set([]byte(runKeyPrefix+run.Kind+":"+run.ID), meta); err != nil {
			return fmt.Errorf("set run: %w", err)
		}
		return txn.Set([]byte(latestKeyPrefix+run.Kind), []byte(run.ID))
	})
}

// Run returns the metadata of a stored run.
func (s *Store) Run(kind, id string) (*Run, error) {
	var run Run
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(runKeyPrefix + kind + ":" + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s run %s", ErrNotFound, kind, id)
		}
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Runs lists the runs of kind, oldest first.
func (s *Store) Runs(kind string) ([]*Run, error) {
	var runs []*Run
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(runKeyPrefix + kind + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var run Run
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			}); err != nil {
				return err
			}
			runs = append(runs, &run)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s runs: %w", kind, err)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs, nil
}

// Latest returns the id of the newest run of kind.
func (s *Store) Latest(kind string) (string, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(latestKeyPrefix + kind))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: no %s run", ErrNotFound, kind)
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		id = string(val)
		return err
	})
	return id, err
}

func (s *Store) tensor(id, name string) (*mat.Dense, error) {
	var m matrix
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(tensorKeyPrefix + id + ":" + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: tensor %s of run %s", ErrNotFound, name, id)
		}
		if err != nil {
			return fmt.Errorf("get tensor %s: %w", name, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err != nil {
		return nil, err
	}
	if m.Rows <= 0 || m.Cols <= 0 || len(m.Data) != m.Rows*m.Cols {
		return nil, fmt.Errorf("tensor %s of run %s is corrupt: %dx%d with %d values", name, id, m.Rows, m.Cols, len(m.Data))
	}
	return mat.NewDense(m.Rows, m.Cols, m.Data), nil
}

// SaveNetwork stores the parameters of a contextual LSTM together with the
// configuration that shapes them.
func (s *Store) SaveNetwork(id string, cfg clstm.Config, params *clstm.Params) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return s.save(&Run{ID: id, Kind: KindNetwork, Config: raw}, params.Tensors())
}

// LoadNetwork restores the parameters and configuration of a stored run.
func (s *Store) LoadNetwork(id string) (*clstm.Params, clstm.Config, error) {
	var cfg clstm.Config
	run, err := s.Run(KindNetwork, id)
	if err != nil {
		return nil, cfg, err
	}
	if err := json.Unmarshal(run.Config, &cfg); err != nil {
		return nil, cfg, fmt.Errorf("unmarshal config of run %s: %w", id, err)
	}

	params := clstm.NewZeroParams(cfg)
	for _, t := range params.Tensors() {
		m, err := s.tensor(id, t.Name)
		if err != nil {
			return nil, cfg, err
		}
		r, c := t.Value.Dims()
		if mr, mc := m.Dims(); mr != r || mc != c {
			return nil, cfg, fmt.Errorf("tensor %s of run %s is %dx%d, config expects %dx%d", t.Name, id, mr, mc, r, c)
		}
		t.Value.Copy(m)
	}
	return params, cfg, nil
}

// Factors is a stored matrix factorization.
type Factors struct {
	P        *mat.Dense
	Q        *mat.Dense
	Mean     float64
	ItemKeys []string
}

// SaveFactors stores a trained factorization. itemKeys names the rows of Q.
func (s *Store) SaveFactors(id string, f *Factors) error {
	if r, _ := f.Q.Dims(); r != len(f.ItemKeys) {
		return fmt.Errorf("q has %d rows for %d item keys", r, len(f.ItemKeys))
	}
	run := &Run{ID: id, Kind: KindFactors, Mean: f.Mean, ItemKeys: f.ItemKeys}
	return s.save(run, []optim.Tensor{{Name: "p", Value: f.P}, {Name: "q", Value: f.Q}})
}

// LoadFactors restores a stored factorization.
func (s *Store) LoadFactors(id string) (*Factors, error) {
	run, err := s.Run(KindFactors, id)
	if err != nil {
		return nil, err
	}
	p, err := s.tensor(id, "p")
	if err != nil {
		return nil, err
	}
	q, err := s.tensor(id, "q")
	if err != nil {
		return nil, err
	}
	return &Factors{P: p, Q: q, Mean: run.Mean, ItemKeys: run.ItemKeys}, nil
}
