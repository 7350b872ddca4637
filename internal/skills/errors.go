package skills

import "errors"

var (
	// ErrSkillNotFound indicates no skill with the requested id exists.
	ErrSkillNotFound = errors.New("skills: skill not found")

	// ErrInvalidSkill indicates a skill record is missing required fields.
	ErrInvalidSkill = errors.New("skills: invalid skill")

	// ErrPromotionRejected indicates a skill does not meet promotion criteria.
	ErrPromotionRejected = errors.New("skills: promotion rejected")

	// ErrStoreClosed indicates the store was used after Close.
	ErrStoreClosed = errors.New("skills: store closed")

	// ErrNotExtractable indicates a session does not qualify for extraction.
	ErrNotExtractable = errors.New("skills: session not extractable")
)
