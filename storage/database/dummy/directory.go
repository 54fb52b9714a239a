package dummydb

import (
	"context"
	"sort"

	"github.com/edupay/feeledger/core/school"
)

type directoryRepository struct {
	db *DB
}

var _ school.Repository = (*directoryRepository)(nil) // interface compliance check

func NewDirectoryRepository(db *DB) school.Repository {
	return &directoryRepository{db: db}
}

func (repo *directoryRepository) ListClassrooms(_ context.Context) ([]school.Classroom, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	classrooms := make([]school.Classroom, 0, len(repo.db.classrooms))
	for _, c := range repo.db.classrooms {
		classrooms = append(classrooms, c)
	}
	sort.Slice(classrooms, func(i, j int) bool { return classrooms[i].Name < classrooms[j].Name })
	return classrooms, nil
}

func (repo *directoryRepository) GetClassroom(_ context.Context, id string) (school.Classroom, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if c, ok := repo.db.classrooms[id]; ok {
		return c, nil
	}
	return school.Classroom{}, school.ErrClassroomNotFound
}

func (repo *directoryRepository) ListTerms(_ context.Context) ([]school.Term, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	terms := make([]school.Term, 0, len(repo.db.terms))
	for _, t := range repo.db.terms {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Year != terms[j].Year {
			return terms[i].Year < terms[j].Year
		}
		return terms[i].Name < terms[j].Name
	})
	return terms, nil
}

func (repo *directoryRepository) GetTerm(_ context.Context, id string) (school.Term, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if t, ok := repo.db.terms[id]; ok {
		return t, nil
	}
	return school.Term{}, school.ErrTermNotFound
}

func (repo *directoryRepository) ListStudents(_ context.Context, classroomID string) ([]school.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	students := make([]school.Student, 0)
	for _, s := range repo.db.students {
		if s.ClassroomID == classroomID {
			students = append(students, s)
		}
	}
	sort.Slice(students, func(i, j int) bool { return students[i].StudentID < students[j].StudentID })
	return students, nil
}

func (repo *directoryRepository) GetStudent(_ context.Context, id string) (school.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if s, ok := repo.db.students[id]; ok {
		return s, nil
	}
	return school.Student{}, school.ErrStudentNotFound
}
