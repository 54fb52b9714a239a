package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/edupay/feeledger/core/school"
)

// directoryRepository reads the school tables. They are owned by the wider school system.
type directoryRepository struct {
	db *sqlx.DB
}

var _ school.Repository = (*directoryRepository)(nil) // interface compliance check

func NewDirectoryRepository(db *sqlx.DB) school.Repository {
	return &directoryRepository{db: db}
}

func (repo *directoryRepository) ListClassrooms(ctx context.Context) ([]school.Classroom, error) {
	classrooms := make([]school.Classroom, 0)
	if err := repo.db.SelectContext(ctx, &classrooms, `SELECT id, name FROM classrooms ORDER BY name`); err != nil {
		return nil, errors.Wrap(err, "selecting classrooms")
	}
	return classrooms, nil
}

func (repo *directoryRepository) GetClassroom(ctx context.Context, id string) (school.Classroom, error) {
	var c school.Classroom
	if err := repo.db.GetContext(ctx, &c, `SELECT id, name FROM classrooms WHERE id = $1`, id); err != nil {
		return school.Classroom{}, trapNoRowsErr(err, school.ErrClassroomNotFound, "selecting classroom")
	}
	return c, nil
}

func (repo *directoryRepository) ListTerms(ctx context.Context) ([]school.Term, error) {
	terms := make([]school.Term, 0)
	q := `SELECT id, name, session, year, is_active FROM terms ORDER BY year, name`
	if err := repo.db.SelectContext(ctx, &terms, q); err != nil {
		return nil, errors.Wrap(err, "selecting terms")
	}
	return terms, nil
}

func (repo *directoryRepository) GetTerm(ctx context.Context, id string) (school.Term, error) {
	var t school.Term
	q := `SELECT id, name, session, year, is_active FROM terms WHERE id = $1`
	if err := repo.db.GetContext(ctx, &t, q, id); err != nil {
		return school.Term{}, trapNoRowsErr(err, school.ErrTermNotFound, "selecting term")
	}
	return t, nil
}

func (repo *directoryRepository) ListStudents(ctx context.Context, classroomID string) ([]school.Student, error) {
	students := make([]school.Student, 0)
	q := `SELECT id, student_id, name, classroom_id FROM students WHERE classroom_id = $1 ORDER BY student_id`
	if err := repo.db.SelectContext(ctx, &students, q, classroomID); err != nil {
		return nil, errors.Wrap(err, "selecting students")
	}
	return students, nil
}

func (repo *directoryRepository) GetStudent(ctx context.Context, id string) (school.Student, error) {
	var s school.Student
	q := `SELECT id, student_id, name, classroom_id FROM students WHERE id = $1`
	if err := repo.db.GetContext(ctx, &s, q, id); err != nil {
		return school.Student{}, trapNoRowsErr(err, school.ErrStudentNotFound, "selecting student")
	}
	return s, nil
}
