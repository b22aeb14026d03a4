package library

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/banshee-data/darkframes/internal/device"
	"github.com/banshee-data/darkframes/internal/frame"
	"github.com/banshee-data/darkframes/internal/monitoring"
)

// Writer adds entries to a library during one capture session. Each Put is
// committed on its own, so entries written before a failure stay readable.
type Writer struct {
	db     *DB
	header Header
	root   int64
	groups map[groupKey]int64
	count  int
}

type groupKey struct {
	parent int64
	key    string
}

// Create creates a fresh library at path, replacing any existing file, and
// writes its header. A missing SessionID or CreatedAt is filled in.
func Create(path string, h Header) (*Writer, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if h.SessionID == "" {
		h.SessionID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to replace %s: %w", path, err)
	}
	db, err := openDB(path, false)
	if err != nil {
		return nil, err
	}
	w, err := newWriter(db, h)
	if err != nil {
		db.Close()
		return nil, err
	}
	monitoring.Logf("created library %s (session %s): %s, %s %dx%d",
		path, h.SessionID, h.Space, h.PixelType, h.Width, h.Height)
	return w, nil
}

func newWriter(db *DB, h Header) (*Writer, error) {
	if err := db.migrateUp(); err != nil {
		return nil, err
	}
	if err := db.writeHeader(h); err != nil {
		return nil, err
	}
	res, err := db.Exec("INSERT INTO groups (parent_id, key, depth) VALUES (NULL, '', 0)")
	if err != nil {
		return nil, fmt.Errorf("failed to create root group: %w", err)
	}
	root, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Writer{
		db:     db,
		header: h,
		root:   root,
		groups: make(map[groupKey]int64),
	}, nil
}

// Header returns the header written at creation.
func (w *Writer) Header() Header { return w.header }

// Path returns the library file path.
func (w *Writer) Path() string { return w.db.path }

// Len returns the number of entries written by this writer.
func (w *Writer) Len() int { return w.count }

// Root returns the id of the root group.
func (w *Writer) Root() int64 { return w.root }

// RequireGroup returns the child of parent named key, creating it if it
// does not exist yet.
func (w *Writer) RequireGroup(parent int64, key string) (int64, error) {
	tx, err := w.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	created := make(map[groupKey]int64)
	id, err := w.requireGroup(tx, created, parent, key)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	for k, v := range created {
		w.groups[k] = v
	}
	return id, nil
}

// requireGroup records newly inserted groups in created; they enter the
// cache only once the transaction commits.
func (w *Writer) requireGroup(tx *sql.Tx, created map[groupKey]int64, parent int64, key string) (int64, error) {
	gk := groupKey{parent, key}
	if id, ok := w.groups[gk]; ok {
		return id, nil
	}
	if id, ok := created[gk]; ok {
		return id, nil
	}

	var id int64
	err := tx.QueryRow("SELECT id FROM groups WHERE parent_id = ? AND key = ?", parent, key).Scan(&id)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		var depth int
		if err := tx.QueryRow("SELECT depth FROM groups WHERE id = ?", parent).Scan(&depth); err != nil {
			return 0, fmt.Errorf("unknown parent group %d: %w", parent, err)
		}
		res, err := tx.Exec("INSERT INTO groups (parent_id, key, depth) VALUES (?, ?, ?)", parent, key, depth+1)
		if err != nil {
			return 0, fmt.Errorf("failed to create group %q: %w", key, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	default:
		return 0, err
	}
	created[gk] = id
	return id, nil
}

// Put stores an averaged frame at the path given by the achieved values of
// the swept controls, in parameter space order, with the device snapshot
// taken at capture time.
func (w *Writer) Put(achieved []int, f frame.Frame, snap device.Snapshot) error {
	h := w.header
	if len(achieved) != h.Space.Dims() {
		return fmt.Errorf("got %d achieved values for %d controls", len(achieved), h.Space.Dims())
	}
	if f.Type != h.PixelType || f.Width != h.Width || f.Height != h.Height {
		return fmt.Errorf("frame %s %dx%d does not match library %s %dx%d",
			f.Type, f.Width, f.Height, h.PixelType, h.Width, h.Height)
	}
	if err := f.Validate(); err != nil {
		return err
	}
	config, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	created := make(map[groupKey]int64)
	node := w.root
	for _, v := range achieved {
		if node, err = w.requireGroup(tx, created, node, strconv.Itoa(v)); err != nil {
			return err
		}
	}
	_, err = tx.Exec("INSERT INTO leaves (group_id, image, config) VALUES (?, ?, ?)",
		node, frame.MarshalPix(f.Pix), string(config))
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w at %s", ErrDuplicateEntry, formatKey(h.Space.Names(), achieved))
		}
		return fmt.Errorf("failed to store frame: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entry: %w", err)
	}
	for k, v := range created {
		w.groups[k] = v
	}
	w.count++
	monitoring.Debugf("stored %s", formatKey(h.Space.Names(), achieved))
	return nil
}

// Close closes the library file.
func (w *Writer) Close() error {
	return w.db.Close()
}

func isConstraint(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func formatKey(names []string, values []int) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%d", n, values[i])
	}
	return "{" + strings.Join(parts, " ") + "}"
}
