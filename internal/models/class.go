package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ClassIdentity — учебная группа: тип курса × год × (поток) × секция.
type ClassIdentity struct {
	CourseType string `json:"courseType" validate:"required"`
	Year       int    `json:"year" validate:"required,min=1"`
	Stream     string `json:"stream,omitempty"`
	Section    string `json:"section" validate:"required"`
}

// Key — каноническая строка, используется как ключ в хранилище и в замках.
func (c ClassIdentity) Key() string {
	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(c.CourseType)),
		strconv.Itoa(c.Year),
		strings.ToLower(strings.TrimSpace(c.Stream)),
		strings.ToUpper(strings.TrimSpace(c.Section)),
	}, "/")
}

func (c ClassIdentity) IsZero() bool {
	return c.CourseType == "" && c.Year == 0 && c.Stream == "" && c.Section == ""
}

// Normalize приводит регистр к каноническому виду (как в Key).
func (c ClassIdentity) Normalize() ClassIdentity {
	return ClassIdentity{
		CourseType: strings.ToLower(strings.TrimSpace(c.CourseType)),
		Year:       c.Year,
		Stream:     strings.ToLower(strings.TrimSpace(c.Stream)),
		Section:    strings.ToUpper(strings.TrimSpace(c.Section)),
	}
}

// Label — подпись для людей: "BS Year 1 (science) - A".
func (c ClassIdentity) Label() string {
	s := fmt.Sprintf("%s Year %d", strings.ToUpper(c.CourseType), c.Year)
	if c.Stream != "" {
		s += " (" + c.Stream + ")"
	}
	return s + " - " + strings.ToUpper(c.Section)
}

func (c ClassIdentity) String() string { return c.Key() }

// ParseClassKey — обратная операция к Key.
func ParseClassKey(key string) (ClassIdentity, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 {
		return ClassIdentity{}, fmt.Errorf("bad class key %q", key)
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return ClassIdentity{}, fmt.Errorf("bad class key %q: %w", key, err)
	}
	return ClassIdentity{CourseType: parts[0], Year: year, Stream: parts[2], Section: parts[3]}, nil
}
