package loader

import (
	"DeepReplay/internal/codec"
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const maxLineSize = 64 << 20

// Loader holds the deduplicated export of one venue.
type Loader struct {
	venue        string
	asks, bids   codec.Address
	slicePackage codec.Address
	logger       zerolog.Logger

	mu      sync.RWMutex
	objects map[codec.Address]*Record
	loaded  bool
}

type Option func(*Loader)

// WithBigVectors sets the asks and bids big-vector ids used by Stats.
func WithBigVectors(asks, bids codec.Address) Option {
	return func(l *Loader) { l.asks, l.bids = asks, bids }
}

// WithSlicePackage overrides the package whose big-vector slices
// MissingSlices inspects.
func WithSlicePackage(pkg codec.Address) Option {
	return func(l *Loader) { l.slicePackage = pkg }
}

func New(venue string, logger zerolog.Logger, opts ...Option) *Loader {
	l := &Loader{
		venue:        venue,
		slicePackage: codec.DeepBookPackage,
		logger:       logger.With().Str("venue", venue).Logger(),
		objects:      make(map[codec.Address]*Record),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) Venue() string { return l.venue }

// add applies the dedup rule: a record replaces the cached one only when
// its version is strictly higher.
func (l *Loader) add(r *Record) bool {
	if cur, ok := l.objects[r.ObjectID]; ok && r.Version <= cur.Version {
		return false
	}
	l.objects[r.ObjectID] = r
	return true
}

// commit folds a fully parsed batch into the cache.
func (l *Loader) commit(batch []*Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range batch {
		l.add(r)
	}
	l.loaded = true
}

// LoadJSONL parses newline-delimited records. Any malformed line fails the
// whole load and leaves the cache untouched. It returns the number of
// records read, including ones discarded by dedup.
func (l *Loader) LoadJSONL(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), maxLineSize)

	var batch []*Record
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		rec, err := ParseRecord(text)
		if err != nil {
			return 0, &LineError{Line: line, Err: err}
		}
		batch = append(batch, rec)
	}
	if err := sc.Err(); err != nil {
		return 0, &LineError{Line: line + 1, Err: err}
	}
	l.commit(batch)
	l.logger.Info().Int("records", len(batch)).Int("objects", l.Len()).Msg("export loaded")
	return len(batch), nil
}

// LoadJSON parses a JSON array of records.
func (l *Loader) LoadJSON(r io.Reader) (int, error) {
	var raws []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raws); err != nil {
		return 0, &LineError{Line: 1, Err: err}
	}
	batch := make([]*Record, 0, len(raws))
	for i, raw := range raws {
		rec, err := ParseRecord(raw)
		if err != nil {
			return 0, &LineError{Line: i + 1, Err: err}
		}
		batch = append(batch, rec)
	}
	l.commit(batch)
	return len(batch), nil
}

// LoadFile picks the format from the extension: .jsonl is line-delimited,
// anything else a JSON array.
func (l *Loader) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		return l.LoadJSONL(f)
	}
	return l.LoadJSON(f)
}

func (l *Loader) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

func (l *Loader) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.objects)
}

func (l *Loader) ByIdentity(id codec.Address) (*Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.objects[id]
	return r, ok
}

// ByOwner returns records whose owner address is owner, sorted by id.
func (l *Loader) ByOwner(owner codec.Address) []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Record
	for _, r := range l.objects {
		if r.OwnedBy(owner) {
			out = append(out, r)
		}
	}
	sortByID(out)
	return out
}

// All returns every record sorted by id.
func (l *Loader) All() []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Record, 0, len(l.objects))
	for _, r := range l.objects {
		out = append(out, r)
	}
	sortByID(out)
	return out
}

func sortByID(rs []*Record) {
	sort.Slice(rs, func(i, j int) bool {
		return bytes.Compare(rs[i].ObjectID[:], rs[j].ObjectID[:]) < 0
	})
}

// Stats summarizes a loaded export.
type Stats struct {
	Venue         string `json:"venue"`
	TotalObjects  int    `json:"total_objects"`
	AsksSlices    int    `json:"asks_slices"`
	BidsSlices    int    `json:"bids_slices"`
	MaxCheckpoint uint64 `json:"max_checkpoint"`
	MaxVersion    uint64 `json:"max_version"`
}

func (l *Loader) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Stats{Venue: l.venue, TotalObjects: len(l.objects)}
	for _, r := range l.objects {
		if r.Checkpoint > s.MaxCheckpoint {
			s.MaxCheckpoint = r.Checkpoint
		}
		if r.Version > s.MaxVersion {
			s.MaxVersion = r.Version
		}
		switch {
		case !l.asks.IsZero() && r.OwnedBy(l.asks):
			s.AsksSlices++
		case !l.bids.IsZero() && r.OwnedBy(l.bids):
			s.BidsSlices++
		}
	}
	return s
}

// MissingSlice is a big-vector slice referenced by an inner node but
// absent from the export.
type MissingSlice struct {
	Parent codec.Address `json:"parent"`
	Name   uint64        `json:"name"`
}

// MissingSlices compares the child names listed by every inner slice with
// the slices actually exported under the same parent.
func (l *Loader) MissingSlices() []MissingSlice {
	l.mu.RLock()
	defer l.mu.RUnlock()

	referenced := make(map[codec.Address][]uint64)
	present := make(map[codec.Address]map[uint64]bool)

	for _, r := range l.objects {
		if r.OwnerAddress == nil {
			continue
		}
		tag, err := codec.ParseTypeTag(r.Type)
		if err != nil || !codec.IsSliceField(tag, l.slicePackage) {
			continue
		}
		v, err := r.Value()
		if err != nil {
			continue
		}
		parent := *r.OwnerAddress
		if name, ok := sliceName(v); ok {
			if present[parent] == nil {
				present[parent] = make(map[uint64]bool)
			}
			present[parent][name] = true
		}
		if codec.ClassifySlice(v) == codec.SliceInner {
			referenced[parent] = append(referenced[parent], innerVals(v)...)
		}
	}

	var out []MissingSlice
	for parent, names := range referenced {
		for _, n := range names {
			if !present[parent][n] {
				out = append(out, MissingSlice{Parent: parent, Name: n})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Parent[:], out[j].Parent[:]); c != 0 {
			return c < 0
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > 0 {
		l.logger.Warn().Int("missing", len(out)).Msg("export references slices it does not contain")
	}
	return out
}

func sliceName(v any) (uint64, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	return parseU64(obj["name"])
}

func innerVals(v any) []uint64 {
	obj, _ := v.(map[string]any)
	value, _ := obj["value"].(map[string]any)
	vals, _ := value["vals"].([]any)
	out := make([]uint64, 0, len(vals))
	for _, x := range vals {
		if n, ok := parseU64(x); ok {
			out = append(out, n)
		}
	}
	return out
}

func parseU64(v any) (uint64, bool) {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case json.Number:
		s = x.String()
	default:
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	return n, err == nil
}
