// Package skills persists and reuses what improvement loops learn.
//
// A LearnedSkill bundles the improvements that raised quality in a
// successful session (patterns), the ones that did not (anti-patterns), the
// keywords that should bring it back (triggers) and the conditions under
// which it applies. The package provides:
//
//   - Store, with a file backend (FileStore) and an embedded Badger backend
//     (BadgerStore). Both keep skills, per-session IterationFeedback logs and
//     per-skill SkillApplication logs.
//   - Extractor, which mines one session's feedback into a candidate skill.
//   - Retriever, which ranks stored skills against a new task.
//   - Gate, which decides whether a skill has earned promotion and performs
//     the promotion with rollback.
//
// File layout of FileStore:
//
//	{skills_dir}/{skill_id}/metadata.yaml       structured record
//	{skills_dir}/{skill_id}/SKILL.md            rendered document
//	{feedback_dir}/{session_id}.jsonl           iteration feedback log
//	{feedback_dir}/{skill_id}_applications.jsonl application log
//
// Every write holds an exclusive lock on the one file being written. See
// Resource for the lock scope each mutating operation declares.
package skills
