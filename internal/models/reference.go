package models

import "time"

// Department, Year and Section are the organizational lookup tables shared by
// every view on the device.
type Department struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

type Year struct {
	ID    string `json:"id"`
	Value int    `json:"year"`
}

type Section struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DepartmentID string `json:"department_id,omitempty"`
	YearID       string `json:"year_id,omitempty"`
}

type ReferenceData struct {
	Departments []Department `json:"departments"`
	Years       []Year       `json:"years"`
	Sections    []Section    `json:"sections"`
	FetchedAt   time.Time    `json:"fetched_at"`
}
