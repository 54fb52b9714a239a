package fee

import (
	"context"
	"errors"
)

var (
	// errors
	ErrStructureNotFound = errors.New("fee structure not found")
	ErrStructureExists   = errors.New("a fee structure already exists for this classroom and term")
	ErrRecordNotFound    = errors.New("fee record not found")
	ErrDuplicatePin      = errors.New("pin code already issued")
	ErrStaleRecord       = errors.New("fee record changed since it was read")
)

type Repository interface {
	CreateStructure(ctx context.Context, s Structure) (Structure, error)
	GetStructure(ctx context.Context, id string) (Structure, error)
	// FindStructure returns the structure of a (classroom, term) unit or ErrStructureNotFound.
	FindStructure(ctx context.Context, classroomID, termID string) (Structure, error)
	QueryStructures(ctx context.Context, filter StructureFilter) ([]Structure, error)
	UpdateStructure(ctx context.Context, s Structure) (Structure, error)
	DeleteStructure(ctx context.Context, id string) error
	// DeleteStructureCascade removes the structure and the given records in one transaction.
	DeleteStructureCascade(ctx context.Context, id string, recordIDs []string) error

	// CreateRecord returns ErrDuplicatePin when the pin code is already taken.
	CreateRecord(ctx context.Context, r Record) (Record, error)
	GetRecord(ctx context.Context, id string) (Record, error)
	QueryRecords(ctx context.Context, filter RecordFilter) ([]Record, error)
	UpdateRecord(ctx context.Context, r Record) (Record, error)
	// MergeDuplicates saves merged and deletes the other records of group in one
	// transaction. group holds the duplicates as they were read; if any of them has
	// been updated or removed since, nothing is written and ErrStaleRecord is returned.
	MergeDuplicates(ctx context.Context, merged Record, group []Record) error
}
