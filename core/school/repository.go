package school

import (
	"context"
	"errors"
)

var (
	// errors
	ErrClassroomNotFound = errors.New("classroom not found")
	ErrTermNotFound      = errors.New("term not found")
	ErrStudentNotFound   = errors.New("student not found")
)

// Repository is a read-only view of the school directory (classrooms, terms and enrolments).
type Repository interface {
	ListClassrooms(ctx context.Context) ([]Classroom, error)
	GetClassroom(ctx context.Context, id string) (Classroom, error)
	ListTerms(ctx context.Context) ([]Term, error)
	GetTerm(ctx context.Context, id string) (Term, error)
	ListStudents(ctx context.Context, classroomID string) ([]Student, error)
	GetStudent(ctx context.Context, id string) (Student, error)
}
