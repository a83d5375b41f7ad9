package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Key joins parts with '/'. Integer parts are zero padded so that keys of
// the same prefix sort numerically.
func Key(parts ...any) []byte {
	out := make([]string, len(parts))
	for i, p := range parts {
		switch v := p.(type) {
		case uint64:
			out[i] = fmt.Sprintf("%020d", v)
		case int64:
			out[i] = fmt.Sprintf("%020d", v)
		case int:
			out[i] = fmt.Sprintf("%020d", v)
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return []byte(strings.Join(out, "/"))
}

// GetJSON decodes the value at key into v. It returns false if the key is
// absent.
func GetJSON(r Reader, key []byte, v any) (bool, error) {
	raw, err := r.Get(key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(s Store, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.Set(key, raw)
}

// NextSeq increments and returns the named counter. The first value is 1.
func NextSeq(s Store, name string) (uint64, error) {
	current, err := Seq(s, name)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := s.Set(seqKey(name), Uint64ToBytes(next)); err != nil {
		return 0, err
	}
	return next, nil
}

// Seq returns the current value of the named counter.
func Seq(r Reader, name string) (uint64, error) {
	raw, err := r.Get(seqKey(name))
	if err != nil {
		return 0, err
	}
	return BytesToUint64(raw), nil
}

func seqKey(name string) []byte {
	return []byte("seq/" + name)
}

// IDs returns the id list stored at key.
func IDs(r Reader, key []byte) ([]uint64, error) {
	var ids []uint64
	if _, err := GetJSON(r, key, &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

// AddID appends id to the list at key unless already present.
func AddID(s Store, key []byte, id uint64) error {
	ids, err := IDs(s, key)
	if err != nil {
		return err
	}
	if slices.Contains(ids, id) {
		return nil
	}
	return SetJSON(s, key, append(ids, id))
}

// RemoveID removes id from the list at key, preserving order. An emptied
// list is deleted.
func RemoveID(s Store, key []byte, id uint64) error {
	ids, err := IDs(s, key)
	if err != nil {
		return err
	}
	idx := slices.Index(ids, id)
	if idx < 0 {
		return nil
	}
	ids = slices.Delete(ids, idx, idx+1)
	if len(ids) == 0 {
		return s.Delete(key)
	}
	return SetJSON(s, key, ids)
}

// ParseID parses a decimal id from a path segment.
func ParseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// Uint64ToBytes converts a uint64 to big-endian bytes.
func Uint64ToBytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// BytesToUint64 converts big-endian bytes to a uint64. Short input yields 0.
func BytesToUint64(buf []byte) uint64 {
	if len(buf) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(buf)
}
