// Package backup writes point-in-time archives of the storage directories.
//
// Each Create call produces one gzip-compressed tar archive named
// backup-<YYYYMMDDhhmmss>-<seq>.tar.gz. The archive is written to a
// temporary file and renamed into place, so a listed archive is always
// complete. Restore is left to operational tooling.
package backup
