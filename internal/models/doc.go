// Package models defines the job records and request parameters shared by
// the job manager, the persistence layer and the HTTP handlers.
package models
