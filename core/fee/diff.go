package fee

import (
	"sort"

	"github.com/edupay/feeledger/core/school"
)

// Unit is the (classroom, term) scope a diff is computed for.
type Unit struct {
	Classroom school.Classroom
	Term      school.Term
}

type DiffResult struct {
	Unit      Unit
	Structure *Structure
	Students  []school.Student
	// Required is the number of records the roster should have.
	Required int
	// Missing lists the students with no record for the term.
	Missing []school.Student
	// Duplicates holds every group of records sharing one Key; each group has more than one record.
	Duplicates [][]Record
	// AmountMismatches lists canonical records whose amount differs from the current structure.
	// They are reported, never rewritten by sync.
	AmountMismatches []Record
	// Orphaned lists records of the unit when it has no structure.
	Orphaned []Record
}

func (d DiffResult) HasDrift() bool {
	return len(d.Missing) > 0 || len(d.Duplicates) > 0
}

// SurplusRecords counts the records beyond the first in every duplicate group.
func (d DiffResult) SurplusRecords() int {
	var n int
	for _, g := range d.Duplicates {
		n += len(g) - 1
	}
	return n
}

// Diff compares the records a unit should have with the records it has.
// Records of other terms, sessions or students are ignored.
func Diff(unit Unit, students []school.Student, structure *Structure, records []Record) DiffResult {
	res := DiffResult{Unit: unit, Structure: structure, Students: students}

	enrolled := make(map[string]bool, len(students))
	for _, s := range students {
		enrolled[s.ID] = true
	}
	inScope := make([]Record, 0, len(records))
	for _, r := range records {
		if enrolled[r.StudentID] && r.Term == unit.Term.Name && r.Session == unit.Term.Session {
			inScope = append(inScope, r)
		}
	}
	groups := GroupByKey(inScope)

	if structure == nil {
		res.Orphaned = inScope
	} else {
		res.Required = len(students)
		for _, s := range students {
			key := Key{StudentID: s.ID, Term: unit.Term.Name, Session: unit.Term.Session}
			if len(groups[key]) == 0 {
				res.Missing = append(res.Missing, s)
			}
		}
	}

	keys := make([]Key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].StudentID < keys[j].StudentID })

	for _, k := range keys {
		group := groups[k]
		if len(group) > 1 {
			res.Duplicates = append(res.Duplicates, group)
		}
		if structure != nil {
			if c := Canonical(group); !c.Amount.Equal(structure.Amount) {
				res.AmountMismatches = append(res.AmountMismatches, c)
			}
		}
	}
	return res
}
