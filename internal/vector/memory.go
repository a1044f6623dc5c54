package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/tanya/pkg/utils"
)

// snapshotMagic prefixes memory index snapshots so stale formats are rejected.
const snapshotMagic uint32 = 0x54414e31 // "TAN1"

// MemoryIndex is an in-memory vector index using brute-force cosine search. It is the
// in-process fake for tests and the default backend for small corpora.
type MemoryIndex struct {
	dimensions int
	pos        map[string]int
	ids        []string
	vectors    [][]float32
	norms      []float64
	payloads   []map[string]string
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		pos:        make(map[string]int),
	}, nil
}

// Backend returns "memory".
func (m *MemoryIndex) Backend() string {
	return "memory"
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Upsert stores copies of the points, replacing existing ids in place.
func (m *MemoryIndex) Upsert(ctx context.Context, points []Point) error {
	for _, p := range points {
		if err := checkDimensions(p.Vector, m.dimensions, "vector"); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		vec := make([]float32, m.dimensions)
		copy(vec, p.Vector)
		m.put(p.ID, vec, copyPayload(p.Payload))
	}
	return nil
}

func (m *MemoryIndex) put(id string, vec []float32, payload map[string]string) {
	if i, ok := m.pos[id]; ok {
		m.vectors[i] = vec
		m.norms[i] = utils.Norm(vec)
		m.payloads[i] = payload
		return
	}
	m.pos[id] = len(m.ids)
	m.ids = append(m.ids, id)
	m.vectors = append(m.vectors, vec)
	m.norms = append(m.norms, utils.Norm(vec))
	m.payloads = append(m.payloads, payload)
}

// Search returns the top-k points by cosine similarity among those matching filter.
// Equal scores are ordered by id so results are deterministic.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, filter Filter) ([]*VectorResult, error) {
	if err := checkDimensions(query, m.dimensions, "query"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	qn := utils.Norm(query)
	results := make([]*VectorResult, 0, len(m.ids))
	for i, vec := range m.vectors {
		if !filter.Match(m.payloads[i]) {
			continue
		}
		score := 0.0
		if qn > 0 && m.norms[i] > 0 {
			score = utils.Dot(query, vec) / (qn * m.norms[i])
		}
		results = append(results, &VectorResult{ID: m.ids[i], Score: score, Payload: m.payloads[i]})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if k < len(results) {
		results = results[:k]
	}
	for _, r := range results {
		r.Payload = copyPayload(r.Payload)
	}
	return results, nil
}

// Remove deletes points by id, compacting the slices.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := false
	for _, id := range ids {
		if _, ok := m.pos[id]; ok {
			delete(m.pos, id)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	n := 0
	for i, id := range m.ids {
		if _, ok := m.pos[id]; !ok {
			continue
		}
		m.ids[n], m.vectors[n], m.norms[n], m.payloads[n] = id, m.vectors[i], m.norms[i], m.payloads[i]
		m.pos[id] = n
		n++
	}
	m.ids, m.vectors, m.norms, m.payloads = m.ids[:n], m.vectors[:n], m.norms[:n], m.payloads[:n]
	return nil
}

// Count returns the number of vectors in the index.
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	return m.Size(), nil
}

// CountMatching returns the number of vectors whose payload matches filter.
func (m *MemoryIndex) CountMatching(ctx context.Context, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.payloads {
		if filter.Match(p) {
			n++
		}
	}
	return n, nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}

// Save persists the index to path, writing to a temp file first. Format: magic (4),
// dimension (4), n (4), then per point: id, vector (dimension*4 bytes), payload entry count
// (4) and key/value strings. Strings are a 4-byte length followed by the bytes.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.writeTo(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

func (m *MemoryIndex) writeTo(w io.Writer) error {
	for _, v := range []uint32{snapshotMagic, uint32(m.dimensions), uint32(len(m.ids))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	buf := make([]byte, m.dimensions*4)
	for i, id := range m.ids {
		if err := writeString(w, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		for j, v := range m.vectors[i] {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
		keys := make([]string, 0, len(m.payloads[i]))
		for k := range m.payloads[i] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if err := binary.Write(w, binary.LittleEndian, uint32(len(keys))); err != nil {
			return fmt.Errorf("write payload size: %w", err)
		}
		for _, k := range keys {
			if err := writeString(w, k); err != nil {
				return fmt.Errorf("write payload key: %w", err)
			}
			if err := writeString(w, m.payloads[i][k]); err != nil {
				return fmt.Errorf("write payload value: %w", err)
			}
		}
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents. Dimensions must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if header[0] != snapshotMagic {
		return fmt.Errorf("not a vector index snapshot: %s", path)
	}
	if int(header[1]) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", header[1], m.dimensions)
	}
	n := int(header[2])

	loaded := &MemoryIndex{dimensions: m.dimensions, pos: make(map[string]int, n)}
	buf := make([]byte, m.dimensions*4)
	for i := 0; i < n; i++ {
		id, err := readString(r)
		if err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		vec := make([]float32, m.dimensions)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4:]))
		}
		var entries uint32
		if err := binary.Read(r, binary.LittleEndian, &entries); err != nil {
			return fmt.Errorf("read payload size: %w", err)
		}
		var payload map[string]string
		if entries > 0 {
			payload = make(map[string]string, entries)
		}
		for e := uint32(0); e < entries; e++ {
			k, err := readString(r)
			if err != nil {
				return fmt.Errorf("read payload key: %w", err)
			}
			v, err := readString(r)
			if err != nil {
				return fmt.Errorf("read payload value: %w", err)
			}
			payload[k] = v
		}
		loaded.put(id, vec, payload)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos, m.ids, m.vectors, m.norms, m.payloads = loaded.pos, loaded.ids, loaded.vectors, loaded.norms, loaded.payloads
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
