package storage

import (
	"strings"
	"time"

	"erp/ecommerce/storepro/internal/platform/httpx"
)

// pageKey is the keyset position of a row. Featured only participates in
// public product listings, which sort featured rows first.
type pageKey struct {
	Featured bool
	At       time.Time
	ID       string
}

func (k pageKey) encode(ranked bool) string {
	id := k.ID
	if ranked {
		if k.Featured {
			id = "f1." + id
		} else {
			id = "f0." + id
		}
	}
	return httpx.EncodeCursor(k.At, id)
}

func decodePageKey(cursor string, ranked bool) (pageKey, bool, error) {
	if cursor == "" {
		return pageKey{}, false, nil
	}
	at, id, err := httpx.ParseCursor(cursor)
	if err != nil {
		return pageKey{}, false, httpx.Wrap("storage.cursor", httpx.ErrValidation, "invalid cursor", err)
	}
	k := pageKey{At: at, ID: id}
	if ranked {
		switch {
		case strings.HasPrefix(id, "f1."):
			k.Featured, k.ID = true, id[3:]
		case strings.HasPrefix(id, "f0."):
			k.ID = id[3:]
		default:
			return pageKey{}, false, httpx.Invalid("storage.cursor", "invalid cursor")
		}
	}
	return k, true, nil
}

// after reports whether row k sorts after the cursor position c in a
// newest-first listing (featured rows first when ranked).
func (k pageKey) after(c pageKey, ranked bool) bool {
	if ranked && k.Featured != c.Featured {
		return c.Featured
	}
	if !k.At.Equal(c.At) {
		return k.At.Before(c.At)
	}
	return k.ID < c.ID
}

// less orders rows newest first, featured first when ranked.
func (k pageKey) less(o pageKey, ranked bool) bool {
	if ranked && k.Featured != o.Featured {
		return k.Featured
	}
	if !k.At.Equal(o.At) {
		return k.At.After(o.At)
	}
	return k.ID > o.ID
}
