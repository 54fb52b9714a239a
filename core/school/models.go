package school

type Classroom struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Term is one academic term of a session, e.g. "First Term" of "2024/2025".
type Term struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Session  string `json:"session" db:"session"`
	Year     int    `json:"year" db:"year"`
	IsActive bool   `json:"isActive" db:"is_active"`
}

// Student is enrolled in exactly one classroom.
// ID is the internal identifier; StudentID is the human-facing admission number.
type Student struct {
	ID          string `json:"id" db:"id"`
	StudentID   string `json:"studentId" db:"student_id"`
	Name        string `json:"name" db:"name"`
	ClassroomID string `json:"classroomId" db:"classroom_id"`
}

// ActiveTerms returns the active terms, or every term when none is flagged active.
func ActiveTerms(terms []Term) []Term {
	active := make([]Term, 0, len(terms))
	for _, t := range terms {
		if t.IsActive {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return terms
	}
	return active
}

// FindTerm looks a term up by its name and session.
func FindTerm(terms []Term, name, session string) (Term, bool) {
	for _, t := range terms {
		if t.Name == name && t.Session == session {
			return t, true
		}
	}
	return Term{}, false
}

func StudentIDs(students []Student) []string {
	ids := make([]string, 0, len(students))
	for _, s := range students {
		ids = append(ids, s.ID)
	}
	return ids
}
