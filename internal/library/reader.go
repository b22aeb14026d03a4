package library

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/banshee-data/darkframes/internal/controls"
	"github.com/banshee-data/darkframes/internal/device"
	"github.com/banshee-data/darkframes/internal/frame"
)

// Library is a library opened for reading.
type Library struct {
	db       *DB
	header   Header
	root     int64
	children *sql.Stmt
	newFrame func(pix []float64) (frame.Frame, error)
}

// Entry is one stored frame with the configuration it was captured at.
type Entry struct {
	// Achieved holds the stored key: the measured value of every swept
	// control.
	Achieved map[string]int
	Frame    frame.Frame
	// Snapshot is the full device configuration at capture time.
	Snapshot device.Snapshot
}

// Open opens the library at path read-only and validates its header.
func Open(path string) (*Library, error) {
	ok, err := fileExists(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("library %s does not exist", path)
	}
	db, err := openDB(path, true)
	if err != nil {
		return nil, err
	}
	lib, err := newLibrary(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open library %s: %w", path, err)
	}
	return lib, nil
}

func newLibrary(db *DB) (*Library, error) {
	version, err := db.schemaVersion()
	if err != nil {
		return nil, err
	}
	if version > schemaLatest {
		return nil, fmt.Errorf("library schema version %d is newer than supported %d", version, schemaLatest)
	}
	h, err := db.readHeader()
	if err != nil {
		return nil, err
	}
	root, err := db.rootID()
	if err != nil {
		return nil, err
	}
	children, err := db.Prepare("SELECT id, key FROM groups WHERE parent_id = ? ORDER BY id")
	if err != nil {
		return nil, err
	}
	return &Library{
		db:       db,
		header:   h,
		root:     root,
		children: children,
		newFrame: frameBuilder(h),
	}, nil
}

// frameBuilder returns the constructor for frames of the header's pixel
// type and size.
func frameBuilder(h Header) func(pix []float64) (frame.Frame, error) {
	samples := h.Width * h.Height * h.PixelType.SamplesPerPixel()
	return func(pix []float64) (frame.Frame, error) {
		if len(pix) != samples {
			return frame.Frame{}, fmt.Errorf("stored %s frame has %d samples, want %d", h.PixelType, len(pix), samples)
		}
		return frame.Frame{Type: h.PixelType, Width: h.Width, Height: h.Height, Pix: pix}, nil
	}
}

// Close closes the library.
func (l *Library) Close() error {
	l.children.Close()
	return l.db.Close()
}

// Path returns the library file path.
func (l *Library) Path() string { return l.db.path }

// Header returns the library header.
func (l *Library) Header() Header { return l.header }

// Params returns the parameter space the library was captured over.
func (l *Library) Params() controls.Space { return l.header.Space }

// PixelType returns the pixel type of the stored frames.
func (l *Library) PixelType() frame.PixelType { return l.header.PixelType }

// Size returns the width and height of the stored frames.
func (l *Library) Size() (width, height int) { return l.header.Width, l.header.Height }

// Len returns the number of stored entries.
func (l *Library) Len() (int, error) {
	var n int
	if err := l.db.QueryRow("SELECT COUNT(*) FROM leaves").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (l *Library) checkQuery(query map[string]int) error {
	names := l.header.Space.Names()
	qerr := &QueryError{Path: l.Path(), Supported: names}
	for name := range query {
		if l.header.Space.Index(name) < 0 {
			qerr.Unsupported = append(qerr.Unsupported, name)
		}
	}
	for _, name := range names {
		if _, ok := query[name]; !ok {
			qerr.Missing = append(qerr.Missing, name)
		}
	}
	if len(qerr.Unsupported) > 0 || len(qerr.Missing) > 0 {
		slices.Sort(qerr.Unsupported)
		return qerr
	}
	return nil
}

// Get returns the entry closest to query. query must give a value for
// every swept control and nothing else.
//
// The lookup descends one control at a time in parameter space order,
// choosing the stored key nearest to the queried value at each level;
// on a tie the key stored first wins. The result is the nearest entry
// along the first control, then the nearest along the second given that
// choice, and so on, which is not always the nearest entry overall.
func (l *Library) Get(query map[string]int) (Entry, error) {
	if err := l.checkQuery(query); err != nil {
		return Entry{}, err
	}

	names := l.header.Space.Names()
	achieved := make(map[string]int, len(names))
	node := l.root
	for _, name := range names {
		target := query[name]
		child, key, err := l.nearestChild(node, target)
		if err != nil {
			return Entry{}, fmt.Errorf("failed to resolve %s=%d: %w", name, target, err)
		}
		achieved[name] = key
		node = child
	}

	f, snap, err := l.leaf(node)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Achieved: achieved, Frame: f, Snapshot: snap}, nil
}

// nearestChild returns the child of node whose key is closest to target.
func (l *Library) nearestChild(node int64, target int) (id int64, key int, err error) {
	rows, err := l.children.Query(node)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	found := false
	var bestDiff int
	for rows.Next() {
		var childID int64
		var raw string
		if err := rows.Scan(&childID, &raw); err != nil {
			return 0, 0, err
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, fmt.Errorf("group %d has non-integer key %q", childID, raw)
		}
		diff := abs(v - target)
		if !found || diff < bestDiff {
			found, bestDiff, id, key = true, diff, childID, v
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, ErrIncomplete
	}
	return id, key, nil
}

func (l *Library) leaf(node int64) (frame.Frame, device.Snapshot, error) {
	var blob []byte
	var config string
	err := l.db.QueryRow("SELECT image, config FROM leaves WHERE group_id = ?", node).Scan(&blob, &config)
	if errors.Is(err, sql.ErrNoRows) {
		return frame.Frame{}, device.Snapshot{}, ErrIncomplete
	}
	if err != nil {
		return frame.Frame{}, device.Snapshot{}, err
	}
	return l.decodeLeaf(blob, config)
}

func (l *Library) decodeLeaf(blob []byte, config string) (frame.Frame, device.Snapshot, error) {
	pix, err := frame.UnmarshalPix(blob)
	if err != nil {
		return frame.Frame{}, device.Snapshot{}, err
	}
	f, err := l.newFrame(pix)
	if err != nil {
		return frame.Frame{}, device.Snapshot{}, err
	}
	var snap device.Snapshot
	if err := json.Unmarshal([]byte(config), &snap); err != nil {
		return frame.Frame{}, device.Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return f, snap, nil
}

// Walk calls fn for every stored entry in the order they were captured.
// Walk stops at the first error returned by fn.
func (l *Library) Walk(fn func(Entry) error) error {
	type node struct {
		parent sql.NullInt64
		key    string
	}
	groups := make(map[int64]node)
	rows, err := l.db.Query("SELECT id, parent_id, key FROM groups")
	if err != nil {
		return err
	}
	for rows.Next() {
		var id int64
		var n node
		if err := rows.Scan(&id, &n.parent, &n.key); err != nil {
			rows.Close()
			return err
		}
		groups[id] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	names := l.header.Space.Names()
	leaves, err := l.db.Query("SELECT group_id, image, config FROM leaves ORDER BY group_id")
	if err != nil {
		return err
	}
	defer leaves.Close()
	for leaves.Next() {
		var id int64
		var blob []byte
		var config string
		if err := leaves.Scan(&id, &blob, &config); err != nil {
			return err
		}

		achieved := make(map[string]int, len(names))
		cur := id
		for d := len(names) - 1; d >= 0; d-- {
			n, ok := groups[cur]
			if !ok || !n.parent.Valid {
				return fmt.Errorf("leaf %d is not at depth %d", id, len(names))
			}
			v, err := strconv.Atoi(n.key)
			if err != nil {
				return fmt.Errorf("group %d has non-integer key %q", cur, n.key)
			}
			achieved[names[d]] = v
			cur = n.parent.Int64
		}

		f, snap, err := l.decodeLeaf(blob, config)
		if err != nil {
			return err
		}
		if err := fn(Entry{Achieved: achieved, Frame: f, Snapshot: snap}); err != nil {
			return err
		}
	}
	return leaves.Err()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
