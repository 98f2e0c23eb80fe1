// Package snapshot captures a MySQL database into a portable artifact,
// compares artifacts with the live database and restores them.
//
// An artifact is compressed JSON of the form
//
//	{"metadata": {...}, "tables": {"users": {"row_count": 2, "columns": [...], "data": [[...], [...]]}}}
//
// written as backup_YYYYMMDD_HHMMSS.backup.gz (or .lz4 / .zst). Cell values
// pass through the Value sum type and the codec in codec.go so that NULLs,
// binary data, timestamps and integer/float distinctions survive the JSON
// round trip.
package snapshot
