// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain types to keep the domain layer free of
// ORM concerns; mappers convert in both directions.
//
// Structure:
// - cache.go: TTL cache entries
// - mutation.go: queued write requests
// - upload_job.go: upload jobs with their encoded payload
// - reference.go: reference entities, trees, category attribute mappings and sync metadata
package models
