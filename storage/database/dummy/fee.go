package dummydb

import (
	"context"
	"sort"

	"github.com/edupay/feeledger/core/fee"
)

type feeRepository struct {
	db *DB
}

var _ fee.Repository = (*feeRepository)(nil) // interface compliance check

func NewFeeRepository(db *DB) fee.Repository {
	return &feeRepository{db: db}
}

// copyRecord detaches the slices of r from the stored value.
func copyRecord(r fee.Record) fee.Record {
	r.PaymentHistory = append([]fee.Payment{}, r.PaymentHistory...)
	if r.Adjustments != nil {
		r.Adjustments = append([]fee.Adjustment{}, r.Adjustments...)
	}
	if r.PaymentDate != nil {
		d := *r.PaymentDate
		r.PaymentDate = &d
	}
	return r
}

func (repo *feeRepository) CreateStructure(_ context.Context, s fee.Structure) (fee.Structure, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.structures {
		if existing.ClassroomID == s.ClassroomID && existing.TermID == s.TermID {
			return fee.Structure{}, fee.ErrStructureExists
		}
	}
	repo.db.structures[s.ID] = s
	return s, nil
}

func (repo *feeRepository) GetStructure(_ context.Context, id string) (fee.Structure, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if s, ok := repo.db.structures[id]; ok {
		return s, nil
	}
	return fee.Structure{}, fee.ErrStructureNotFound
}

func (repo *feeRepository) FindStructure(_ context.Context, classroomID, termID string) (fee.Structure, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, s := range repo.db.structures {
		if s.ClassroomID == classroomID && s.TermID == termID {
			return s, nil
		}
	}
	return fee.Structure{}, fee.ErrStructureNotFound
}

func (repo *feeRepository) QueryStructures(_ context.Context, filter fee.StructureFilter) ([]fee.Structure, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	structures := make([]fee.Structure, 0)
	for _, s := range repo.db.structures {
		if filter.ClassroomID != "" && s.ClassroomID != filter.ClassroomID {
			continue
		}
		if filter.TermID != "" && s.TermID != filter.TermID {
			continue
		}
		structures = append(structures, s)
	}
	sort.Slice(structures, func(i, j int) bool { return structures[i].CreatedAt.Before(structures[j].CreatedAt) })
	return structures, nil
}

func (repo *feeRepository) UpdateStructure(_ context.Context, s fee.Structure) (fee.Structure, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.structures[s.ID]; !ok {
		return fee.Structure{}, fee.ErrStructureNotFound
	}
	repo.db.structures[s.ID] = s
	return s, nil
}

func (repo *feeRepository) DeleteStructure(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.structures[id]; !ok {
		return fee.ErrStructureNotFound
	}
	delete(repo.db.structures, id)
	return nil
}

func (repo *feeRepository) DeleteStructureCascade(_ context.Context, id string, recordIDs []string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.structures[id]; !ok {
		return fee.ErrStructureNotFound
	}
	for _, rid := range recordIDs {
		delete(repo.db.records, rid)
	}
	delete(repo.db.structures, id)
	return nil
}

func (repo *feeRepository) CreateRecord(_ context.Context, r fee.Record) (fee.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.records {
		if existing.PinCode == r.PinCode {
			return fee.Record{}, fee.ErrDuplicatePin
		}
	}
	r = copyRecord(r)
	repo.db.records[r.ID] = r
	return copyRecord(r), nil
}

func (repo *feeRepository) GetRecord(_ context.Context, id string) (fee.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if r, ok := repo.db.records[id]; ok {
		return copyRecord(r), nil
	}
	return fee.Record{}, fee.ErrRecordNotFound
}

func (repo *feeRepository) QueryRecords(_ context.Context, filter fee.RecordFilter) ([]fee.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var students map[string]bool
	if len(filter.StudentIDs) > 0 {
		students = make(map[string]bool, len(filter.StudentIDs))
		for _, id := range filter.StudentIDs {
			students[id] = true
		}
	}

	records := make([]fee.Record, 0)
	for _, r := range repo.db.records {
		if students != nil && !students[r.StudentID] {
			continue
		}
		if filter.Term != "" && r.Term != filter.Term {
			continue
		}
		if filter.Session != "" && r.Session != filter.Session {
			continue
		}
		if filter.UnpaidOnly && r.Paid {
			continue
		}
		records = append(records, copyRecord(r))
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

func (repo *feeRepository) UpdateRecord(_ context.Context, r fee.Record) (fee.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.records[r.ID]; !ok {
		return fee.Record{}, fee.ErrRecordNotFound
	}
	r = copyRecord(r)
	repo.db.records[r.ID] = r
	return copyRecord(r), nil
}

func (repo *feeRepository) MergeDuplicates(_ context.Context, merged fee.Record, group []fee.Record) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, r := range group {
		stored, ok := repo.db.records[r.ID]
		if !ok || !stored.UpdatedAt.Equal(r.UpdatedAt) {
			return fee.ErrStaleRecord
		}
	}
	if _, ok := repo.db.records[merged.ID]; !ok {
		return fee.ErrRecordNotFound
	}
	repo.db.records[merged.ID] = copyRecord(merged)
	for _, r := range group {
		if r.ID != merged.ID {
			delete(repo.db.records, r.ID)
		}
	}
	return nil
}
