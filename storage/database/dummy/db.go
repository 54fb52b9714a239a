package dummydb

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/edupay/feeledger/core/fee"
	"github.com/edupay/feeledger/core/operation"
	"github.com/edupay/feeledger/core/school"
)

// DB is an in-memory store. All tables share one lock so multi-table writes stay atomic.
type DB struct {
	sync.RWMutex
	classrooms map[string]school.Classroom
	terms      map[string]school.Term
	students   map[string]school.Student
	structures map[string]fee.Structure
	records    map[string]fee.Record
	operations map[string]operation.Operation
}

func Open() (*DB, error) {
	db := &DB{
		classrooms: make(map[string]school.Classroom),
		terms:      make(map[string]school.Term),
		students:   make(map[string]school.Student),
		structures: make(map[string]fee.Structure),
		records:    make(map[string]fee.Record),
		operations: make(map[string]operation.Operation),
	}
	return db, nil
}

func (db *DB) AddClassrooms(classrooms ...school.Classroom) {
	db.Lock()
	defer db.Unlock()
	for _, c := range classrooms {
		db.classrooms[c.ID] = c
	}
}

func (db *DB) AddTerms(terms ...school.Term) {
	db.Lock()
	defer db.Unlock()
	for _, t := range terms {
		db.terms[t.ID] = t
	}
}

func (db *DB) AddStudents(students ...school.Student) {
	db.Lock()
	defer db.Unlock()
	for _, s := range students {
		db.students[s.ID] = s
	}
}

type seed struct {
	Classrooms []school.Classroom `json:"classrooms"`
	Terms      []school.Term      `json:"terms"`
	Students   []school.Student   `json:"students"`
}

// LoadSeed fills the school directory from a JSON document
// of the form {"classrooms": [...], "terms": [...], "students": [...]}.
func (db *DB) LoadSeed(r io.Reader) error {
	var s seed
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return errors.Wrap(err, "decoding seed")
	}
	db.AddClassrooms(s.Classrooms...)
	db.AddTerms(s.Terms...)
	db.AddStudents(s.Students...)
	return nil
}

// Reset empties every table.
func (db *DB) Reset() {
	fresh, _ := Open()
	db.Lock()
	defer db.Unlock()
	db.classrooms = fresh.classrooms
	db.terms = fresh.terms
	db.students = fresh.students
	db.structures = fresh.structures
	db.records = fresh.records
	db.operations = fresh.operations
}
