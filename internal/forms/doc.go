// Package forms holds the versioned inspection form model shared by the field
// runner and the sync server: templates, immutable versions, entities and
// rows, the tagged answer value, and the validation rules that translate raw
// technician input into typed values.
//
// A Version is immutable once its Status is StatusPublished; new structure is
// only ever introduced by publishing another version, so anything bound to an
// older (TemplateID, VersionID) pair keeps validating against the rows it was
// started with.
package forms
