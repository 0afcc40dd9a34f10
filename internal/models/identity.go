package models

type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
	RoleProctor UserRole = "proctor"
	RoleAdmin   UserRole = "admin"
)

// Identity is the authenticated user as reported by whoami or the token claims.
type Identity struct {
	UserID         string   `json:"user_id,omitempty"`
	Name           string   `json:"name,omitempty"`
	Role           UserRole `json:"role"`
	RollNumber     *string  `json:"roll_number,omitempty"`
	DepartmentName *string  `json:"department_name,omitempty"`
	Year           *int     `json:"year,omitempty"`
	SectionName    *string  `json:"section_name,omitempty"`
}

func (i Identity) IsStudent() bool {
	return i.Role == RoleStudent
}
