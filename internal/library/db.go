// Package library stores averaged frames in a self-describing SQLite file
// keyed by the achieved control values, and retrieves the nearest stored
// frame for an arbitrary query.
//
// The file holds a tree of groups, one level per swept control in
// declaration order, each keyed by the stringified achieved value. A leaf
// group holds the averaged frame and the full device snapshot taken at
// capture time. The header records the parameter space, pixel type and
// frame size.
package library

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // driver

	"github.com/banshee-data/darkframes/internal/controls"
	"github.com/banshee-data/darkframes/internal/frame"
)

// DB is a library database connection.
type DB struct {
	*sql.DB
	path string
}

// fileURI returns the SQLite URI for path with the given open mode. The
// path is percent-encoded so names containing '?' or '#' stay intact.
func fileURI(path, mode string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.ToSlash(abs)
	if !strings.HasPrefix(abs, "/") {
		abs = "/" + abs
	}
	u := url.URL{Scheme: "file", Path: abs, OmitHost: true, RawQuery: "mode=" + mode}
	return u.String(), nil
}

func openDB(path string, readOnly bool) (*DB, error) {
	mode := "rwc"
	if readOnly {
		mode = "ro"
	}
	dsn, err := fileURI(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open library %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if !readOnly {
		// Pragmas are per connection; the writer uses exactly one.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", path, err)
		}
	}
	return &DB{DB: db, path: path}, nil
}

// Header keys.
const (
	keyParameters  = "parameters"
	keyPixelType   = "pixel_type"
	keyWidth       = "width"
	keyHeight      = "height"
	keyAverageOver = "average_over"
	keySessionID   = "session_id"
	keyCreatedAt   = "created_at"
)

// Header describes a library. It is written once at creation.
type Header struct {
	Space       controls.Space
	PixelType   frame.PixelType
	Width       int
	Height      int
	AverageOver int
	SessionID   string
	CreatedAt   time.Time
}

// Validate checks the header is usable for storing frames.
func (h Header) Validate() error {
	if h.Space.Dims() == 0 {
		return errors.New("library needs at least one control")
	}
	if !h.PixelType.Valid() {
		return fmt.Errorf("%w: %q", frame.ErrUnknownPixelType, string(h.PixelType))
	}
	if h.Width <= 0 || h.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", h.Width, h.Height)
	}
	return nil
}

func (h Header) values() (map[string]string, error) {
	params, err := json.Marshal(h.Space)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}
	return map[string]string{
		keyParameters:  string(params),
		keyPixelType:   string(h.PixelType),
		keyWidth:       strconv.Itoa(h.Width),
		keyHeight:      strconv.Itoa(h.Height),
		keyAverageOver: strconv.Itoa(h.AverageOver),
		keySessionID:   h.SessionID,
		keyCreatedAt:   h.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func (db *DB) writeHeader(h Header) error {
	values, err := h.values()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, k := range slices.Sorted(maps.Keys(values)) {
		if _, err := tx.Exec("INSERT INTO header (key, value) VALUES (?, ?)", k, values[k]); err != nil {
			return fmt.Errorf("failed to write header %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (db *DB) readHeader() (Header, error) {
	rows, err := db.Query("SELECT key, value FROM header")
	if err != nil {
		return Header{}, fmt.Errorf("failed to read header: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Header{}, err
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return Header{}, err
	}

	required := func(key string) (string, error) {
		v, ok := values[key]
		if !ok {
			return "", fmt.Errorf("header is missing %q", key)
		}
		return v, nil
	}
	atoi := func(key string) (int, error) {
		v, err := required(key)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("header %q: %w", key, err)
		}
		return n, nil
	}

	var h Header
	params, err := required(keyParameters)
	if err != nil {
		return Header{}, err
	}
	if err := json.Unmarshal([]byte(params), &h.Space); err != nil {
		return Header{}, fmt.Errorf("header %q: %w", keyParameters, err)
	}
	pt, err := required(keyPixelType)
	if err != nil {
		return Header{}, err
	}
	if h.PixelType, err = frame.ParsePixelType(pt); err != nil {
		return Header{}, err
	}
	if h.Width, err = atoi(keyWidth); err != nil {
		return Header{}, err
	}
	if h.Height, err = atoi(keyHeight); err != nil {
		return Header{}, err
	}
	if _, ok := values[keyAverageOver]; ok {
		if h.AverageOver, err = atoi(keyAverageOver); err != nil {
			return Header{}, err
		}
	}
	h.SessionID = values[keySessionID]
	if ts, ok := values[keyCreatedAt]; ok {
		if h.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return Header{}, fmt.Errorf("header %q: %w", keyCreatedAt, err)
		}
	}
	return h, h.Validate()
}

func (db *DB) rootID() (int64, error) {
	var id int64
	err := db.QueryRow("SELECT id FROM groups WHERE parent_id IS NULL").Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to find root group: %w", err)
	}
	return id, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
