// internal/catalog/domain.go
package catalog

import (
	"errors"
	"time"
)

const (
	BooksCollection       = "BiblioBooks"
	ThesisCollection      = "BiblioThesis"
	DepartmentsCollection = "Departements"
)

var (
	ErrNotFound    = errors.New("catalog document not found")
	ErrUnknownKind = errors.New("unknown catalog kind")
	// ErrInvalidCopies means a stock change would leave exemplaire outside 0..initialExemplaire.
	ErrInvalidCopies = errors.New("available copies must be between 0 and the initial stock")
)

// Kind selects the collection a document lives in.
type Kind string

const (
	KindBook   Kind = "books"
	KindThesis Kind = "theses"
)

func (k Kind) Collection() (string, error) {
	switch k {
	case KindBook:
		return BooksCollection, nil
	case KindThesis:
		return ThesisCollection, nil
	default:
		return "", ErrUnknownKind
	}
}

// Document is a book or thesis. Exemplaire is the number of copies on the
// shelf, InitialExemplaire the number the library owns.
type Document struct {
	ID                string    `json:"id"`
	Kind              Kind      `json:"kind"`
	Name              string    `json:"name"`
	Category          string    `json:"cathegorie"`
	Exemplaire        int       `json:"exemplaire"`
	InitialExemplaire int       `json:"initialExemplaire"`
	Shelf             string    `json:"etagere"`
	Room              string    `json:"salle"`
	Description       string    `json:"desc"`
	Image             string    `json:"image"`
	Author            string    `json:"auteur,omitempty"`
	Edition           string    `json:"edition,omitempty"`
	Comments          []Comment `json:"commentaire"`

	// Thesis-only fields.
	Supervisor string   `json:"supervisor,omitempty"`
	Year       int      `json:"year,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Matricule  string   `json:"matricule,omitempty"`
	PDF        string   `json:"pdfUrl,omitempty"`
}

// Comment is a reader's note on a document.
type Comment struct {
	UserName string    `json:"nomUser"`
	Text     string    `json:"texte"`
	Rating   int       `json:"note"`
	Time     time.Time `json:"heure"`
}

type Department struct {
	ID    string `json:"id"`
	Name  string `json:"nom"`
	Image string `json:"image"`
}

// NewDocument is the input to Add.
type NewDocument struct {
	Name              string   `json:"name" validate:"notblank"`
	Category          string   `json:"cathegorie" validate:"notblank"`
	Exemplaire        *int     `json:"exemplaire,omitempty" validate:"omitempty,gte=0"`
	InitialExemplaire int      `json:"initialExemplaire" validate:"gte=0"`
	Shelf             string   `json:"etagere"`
	Room              string   `json:"salle"`
	Description       string   `json:"desc"`
	Image             string   `json:"image" validate:"omitempty,url"`
	Author            string   `json:"auteur"`
	Edition           string   `json:"edition"`
	Supervisor        string   `json:"supervisor"`
	Year              int      `json:"year" validate:"omitempty,gte=1900,lte=2100"`
	Keywords          []string `json:"keywords"`
	Matricule         string   `json:"matricule"`
	PDF               string   `json:"pdfUrl" validate:"omitempty,url"`
}

// DocumentUpdate changes descriptive fields; nil fields are left alone.
type DocumentUpdate struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,notblank"`
	Category    *string `json:"cathegorie,omitempty" validate:"omitempty,notblank"`
	Shelf       *string `json:"etagere,omitempty"`
	Room        *string `json:"salle,omitempty"`
	Description *string `json:"desc,omitempty"`
	Image       *string `json:"image,omitempty" validate:"omitempty,url"`
	Author      *string `json:"auteur,omitempty"`
	Edition     *string `json:"edition,omitempty"`
}

// StockChange sets the shelf count and, optionally, the owned count.
type StockChange struct {
	Exemplaire        int  `json:"exemplaire" validate:"gte=0"`
	InitialExemplaire *int `json:"initialExemplaire,omitempty" validate:"omitempty,gte=0"`
}

type NewComment struct {
	UserName string `json:"nomUser" validate:"notblank"`
	Text     string `json:"texte" validate:"notblank"`
	Rating   int    `json:"note" validate:"gte=0,lte=5"`
}

type NewDepartment struct {
	Name  string `json:"nom" validate:"notblank"`
	Image string `json:"image" validate:"omitempty,url"`
}

// Sort options offered by the catalogue screen.
const (
	SortNameAsc   = "nameAsc"
	SortNameDesc  = "nameDesc"
	SortStockAsc  = "stockAsc"
	SortStockDesc = "stockDesc"
)

// StockReconciledEvent is published when a scheduled pass corrects stock counters.
type StockReconciledEvent struct {
	Collection string `json:"collection"`
	DocumentID string `json:"document_id"`
	Before     int    `json:"before"`
	After      int    `json:"after"`
}
