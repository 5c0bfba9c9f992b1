// internal/circulation/codec.go
package circulation

import (
	"fmt"
	"time"

	"bibliopanel/internal/docstore"
)

// Stored user records keep slot i in two numbered fields, shared with the
// student app: etat{i} holds the status word and tabEtat{i} the six-element
// array [name, category, imageUrl, exemplaires, collection, date].
const (
	wordFree     = "ras"
	wordReserved = "reserv"
	wordBorrowed = "emprunt"

	// timeLayout matches JavaScript's Date.toISOString.
	timeLayout = "2006-01-02T15:04:05.000Z"
)

func statusField(i int) string { return fmt.Sprintf("etat%d", i) }
func tupleField(i int) string  { return fmt.Sprintf("tabEtat%d", i) }

func decodeStatus(word string) Status {
	switch word {
	case wordReserved:
		return StatusReserved
	case wordBorrowed:
		return StatusBorrowed
	default:
		return StatusFree
	}
}

func encodeStatus(s Status) string {
	switch s {
	case StatusReserved:
		return wordReserved
	case StatusBorrowed:
		return wordBorrowed
	default:
		return wordFree
	}
}

func decodeRef(raw []any) DocumentRef {
	at := func(i int) any {
		if i < len(raw) {
			return raw[i]
		}
		return nil
	}
	str := func(i int) string {
		s, _ := at(i).(string)
		return s
	}
	n, _ := docstore.AsInt(at(3))
	return DocumentRef{
		Name:        str(0),
		Category:    str(1),
		ImageURL:    str(2),
		Exemplaires: n,
		Collection:  str(4),
		Timestamp:   docstore.AsTime(at(5)),
	}
}

func encodeRef(d DocumentRef) []any {
	ts := ""
	if !d.Timestamp.IsZero() {
		ts = d.Timestamp.UTC().Format(timeLayout)
	}
	return []any{d.Name, d.Category, d.ImageURL, d.Exemplaires, d.Collection, ts}
}

// DecodeUser reads a stored user record with n slots. Missing slot fields
// decode as free.
func DecodeUser(email string, data map[string]any, n int) *User {
	u := &User{
		Email:     email,
		Name:      docstore.String(data, "name"),
		Level:     docstore.String(data, "niveau"),
		Matricule: docstore.String(data, "matricule"),
		Image:     docstore.String(data, "imageUri"),
		Blocked:   docstore.String(data, "etat") == "bloc",
		Slots:     make([]Slot, n),
	}
	if u.Image == "" {
		u.Image = docstore.String(data, "image")
	}
	for i := range u.Slots {
		u.Slots[i] = Slot{
			Status:   decodeStatus(docstore.String(data, statusField(i+1))),
			Document: decodeRef(docstore.Slice(data, tupleField(i+1))),
		}
	}
	return u
}

// EncodeSlot returns the stored fields for slot i (1-based).
func EncodeSlot(i int, s Slot) map[string]any {
	return map[string]any{
		statusField(i): encodeStatus(s.Status),
		tupleField(i):  encodeRef(s.Document),
	}
}

// EncodeSlots returns the stored fields for every slot of u.
func EncodeSlots(u *User) map[string]any {
	out := make(map[string]any, 2*len(u.Slots))
	for i, s := range u.Slots {
		for k, v := range EncodeSlot(i+1, s) {
			out[k] = v
		}
	}
	return out
}

// emptySlot is what a slot is reset to after a return.
func emptySlot() Slot {
	return Slot{Status: StatusFree}
}

func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
