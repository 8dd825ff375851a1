// Package models defines the control plane entities persisted by the store:
// users, disk images, machines, iSCSI targets, boot sessions, and audit
// records. Models carry their own validation and the deterministic naming
// rules (MAC canonicalization, IQN derivation) that the rest of the system
// depends on.
package models

// AllModels returns all model types for GORM auto-migration.
func AllModels() []any {
	return []any{
		&User{},
		&Image{},
		&Machine{},
		&Target{},
		&Session{},
		&AuditLog{},
	}
}
